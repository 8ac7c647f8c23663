// Package api exposes the compatibility resolver and the conformity engine
// over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoparts/compat-engine/pkg/compat"
	"github.com/autoparts/compat-engine/pkg/conformity"
	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/metrics"
)

// Resolver resolves compatible parts.
type Resolver interface {
	Resolve(ctx context.Context, req compat.Request) (*compat.Result, error)
}

// Conformity audits gammes and drills into drift.
type Conformity interface {
	ComputeConformity(ctx context.Context, gammeID int64) ([]conformity.Record, error)
	ComputeConformityPartitioned(ctx context.Context) ([]conformity.Record, error)
	GetMissing(ctx context.Context, gammeID int64) ([]conformity.MissingEntry, error)
	GetExtras(ctx context.Context, gammeID int64) ([]conformity.ExtraEntry, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefinitionCache is the readiness view of the attribute definition cache.
type DefinitionCache interface {
	Definitions(ctx context.Context) (map[int64]criteria.Definition, error)
	Warm() bool
	Size() int
}

// Server holds the HTTP handlers.
type Server struct {
	resolver    Resolver
	conformity  Conformity
	db          Pinger
	cache       DefinitionCache
	logger      *slog.Logger
	corsOrigins []string
	readyWait   time.Duration
	startedAt   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins. The default allows any
// http or https origin.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithReadinessTimeout bounds the checks behind /readyz.
func WithReadinessTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readyWait = d
		}
	}
}

// NewServer creates a Server. db and cache may be nil, in which case the
// readiness check reports them as not configured.
func NewServer(resolver Resolver, conf Conformity, db Pinger, cache DefinitionCache, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		resolver:    resolver,
		conformity:  conf,
		db:          db,
		cache:       cache,
		logger:      logger,
		corsOrigins: []string{"https://*", "http://*"},
		readyWait:   3 * time.Second,
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.observe)

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/conformity", func(r chi.Router) {
		r.Get("/metrics", s.conformityMetricsHandler)
		r.Get("/{pgId}/missing", s.missingHandler)
		r.Get("/{pgId}/extras", s.extrasHandler)
	})
	r.Get("/catalog/pieces/{variantId}/{gammeId}", s.piecesHandler)

	return r
}

// observe records request latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(route, status, time.Since(start))
		s.logger.Debug("request served",
			"method", r.Method,
			"route", route,
			"status", status,
			"requestID", middleware.GetReqID(r.Context()),
			"duration", time.Since(start).String())
	})
}
