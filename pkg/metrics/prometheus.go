// Package metrics provides Prometheus metrics for the compatibility and
// conformity engines.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolution metrics
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compat_resolve_total",
			Help: "Total number of compatibility resolutions by outcome",
		},
		[]string{"outcome"},
	)

	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compat_resolve_duration_seconds",
			Help:    "Time taken to resolve compatible parts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Inference metrics
	InferenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compat_inference_total",
			Help: "Position inferences by provenance",
		},
		[]string{"provenance"},
	)

	InferenceAmbiguous = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compat_inference_ambiguous_total",
			Help: "Inferences that found conflicting position keywords",
		},
	)

	// Audit metrics
	AuditDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compat_audit_duration_seconds",
			Help:    "Duration of conformity audits",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode", "outcome"},
	)

	AuditGammes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compat_audit_gammes",
			Help: "Gammes per conformity status in the last completed audit",
		},
		[]string{"status"},
	)

	AuditCoverage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compat_audit_coverage_percent",
			Help: "Global coverage percent of the last completed audit",
		},
	)

	AuditLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compat_audit_last_success_timestamp_seconds",
			Help: "Unix time of the last successful audit",
		},
	)

	DrilldownMismatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compat_drilldown_mismatch_total",
			Help: "Drill-down lists whose length differed from the aggregate counter",
		},
		[]string{"kind"},
	)

	// Cache metrics
	DefinitionCacheRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compat_definition_cache_refresh_total",
			Help: "Attribute definition cache refreshes by result",
		},
		[]string{"result"},
	)

	DefinitionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compat_definition_cache_entries",
			Help: "Attribute definitions held by the cache",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compat_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status code",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)

// RecordResolve records one Resolve call.
func RecordResolve(outcome string, duration time.Duration) {
	ResolveTotal.WithLabelValues(outcome).Inc()
	ResolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordInference records one position inference.
func RecordInference(provenance string, ambiguous bool) {
	InferenceTotal.WithLabelValues(provenance).Inc()
	if ambiguous {
		InferenceAmbiguous.Inc()
	}
}

// RecordAudit records an audit attempt.
func RecordAudit(mode, outcome string, duration time.Duration) {
	AuditDuration.WithLabelValues(mode, outcome).Observe(duration.Seconds())
}

// AuditSnapshot is what the scheduler publishes after a completed audit.
type AuditSnapshot struct {
	Conformes    int
	NonConformes int
	Errored      int
	Coverage     float64
	FinishedAt   time.Time
}

// PublishAudit replaces the last-audit gauges.
func PublishAudit(s AuditSnapshot) {
	AuditGammes.WithLabelValues("CONFORME").Set(float64(s.Conformes))
	AuditGammes.WithLabelValues("NON_CONFORME").Set(float64(s.NonConformes))
	AuditGammes.WithLabelValues("ERROR").Set(float64(s.Errored))
	AuditCoverage.Set(s.Coverage)
	AuditLastSuccess.Set(float64(s.FinishedAt.Unix()))
}

// RecordDrilldownMismatch counts a drill-down that disagreed with its counter.
func RecordDrilldownMismatch(kind string) {
	DrilldownMismatch.WithLabelValues(kind).Inc()
}

// RecordCacheRefresh records a definition cache refresh.
func RecordCacheRefresh(result string, entries int) {
	DefinitionCacheRefresh.WithLabelValues(result).Inc()
	if result == "ok" {
		DefinitionCacheSize.Set(float64(entries))
	}
}

// RecordHTTPRequest records one served request. route is the chi route
// pattern, never the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(route string, code int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(duration.Seconds())
}
