package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/autoparts/compat-engine/pkg/enginerr"
)

// statusClientClosedRequest is reported when the caller went away before
// the engine finished. Nobody reads it; it only shows up in access metrics.
const statusClientClosedRequest = 499

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "5"

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string        `json:"error"`
	Kind  enginerr.Kind `json:"kind"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, status int, kind enginerr.Kind, message string) {
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeEngineError maps an engine error to its HTTP status.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := enginerr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed", "kind", kind, "error", err)
	}
	writeError(w, status, kind, err.Error())
}

func statusFor(kind enginerr.Kind) int {
	switch kind {
	case enginerr.KindInvalidInput:
		return http.StatusBadRequest
	case enginerr.KindNotFound:
		return http.StatusNotFound
	case enginerr.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case enginerr.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// badRequest rejects malformed input at the boundary.
func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, enginerr.KindInvalidInput, message)
}
