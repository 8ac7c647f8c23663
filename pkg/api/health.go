package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler checks database connectivity and loads the attribute
// definition cache if it is cold.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyWait)
	defer cancel()

	allReady := true

	dbStatus := map[string]string{"status": "up"}
	if s.db == nil {
		dbStatus["status"] = "not_configured"
	} else if err := s.db.Ping(ctx); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	}

	cacheStatus := map[string]string{"status": "warm"}
	switch {
	case s.cache == nil:
		cacheStatus["status"] = "not_configured"
	case s.cache.Warm():
		cacheStatus["entries"] = fmt.Sprint(s.cache.Size())
	default:
		if _, err := s.cache.Definitions(ctx); err != nil {
			cacheStatus["status"] = "cold"
			cacheStatus["error"] = err.Error()
			allReady = false
		} else {
			cacheStatus["entries"] = fmt.Sprint(s.cache.Size())
		}
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"database":    dbStatus,
			"definitions": cacheStatus,
		},
	})
}
