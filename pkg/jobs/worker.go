// Package jobs runs the scheduled conformity audit.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoparts/compat-engine/pkg/conformity"
	"github.com/autoparts/compat-engine/pkg/metrics"
)

// Auditor is the part of the conformity engine the runner drives.
type Auditor interface {
	ComputeConformity(ctx context.Context, gammeID int64) ([]conformity.Record, error)
	ComputeConformityPartitioned(ctx context.Context) ([]conformity.Record, error)
}

// Locker keeps replicas from auditing concurrently. See ha.NewLocker.
type Locker interface {
	TryWithLock(ctx context.Context, fn func(context.Context) error) (bool, error)
}

// RunStatus describes the most recent audit attempt.
type RunStatus struct {
	RunID      string             `json:"runId"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Summary    conformity.Summary `json:"summary"`
	Skipped    bool               `json:"skipped,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// AuditRunner audits every displayed gamme on a fixed interval. Results are
// logged and published as metrics, never persisted.
type AuditRunner struct {
	auditor Auditor
	cfg     *AuditConfig
	logger  *slog.Logger
	locker  Locker

	mu   sync.RWMutex
	last *RunStatus
	now  func() time.Time
}

// NewAuditRunner creates a runner.
func NewAuditRunner(auditor Auditor, cfg *AuditConfig, logger *slog.Logger) *AuditRunner {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRunner{auditor: auditor, cfg: cfg, logger: logger, now: time.Now}
}

// WithLocker makes each run conditional on holding l. A run that finds the
// lock taken is recorded as skipped.
func (r *AuditRunner) WithLocker(l Locker) *AuditRunner {
	r.locker = l
	return r
}

// Run audits immediately, then every cfg.Interval, until ctx is cancelled.
// Runs never overlap: a run that outlasts the interval delays the next one.
func (r *AuditRunner) Run(ctx context.Context) {
	if r.auditor == nil || !r.cfg.Enabled {
		r.logger.Info("scheduled conformity audit disabled")
		return
	}

	r.logger.Info("scheduled conformity audit starting",
		"interval", r.cfg.Interval.String(),
		"partitioned", r.cfg.Partitioned)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduled conformity audit stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single audit and records its status.
func (r *AuditRunner) RunOnce(ctx context.Context) RunStatus {
	status := RunStatus{RunID: uuid.New().String(), StartedAt: r.now()}
	logger := r.logger.With("runID", status.RunID)

	if r.locker == nil {
		r.audit(ctx, logger, &status)
		r.setLast(status)
		return status
	}

	ran, err := r.locker.TryWithLock(ctx, func(ctx context.Context) error {
		r.audit(ctx, logger, &status)
		return nil
	})
	switch {
	case err != nil:
		status.FinishedAt = r.now()
		status.Error = "audit lock: " + err.Error()
		logger.Warn("conformity audit lock unavailable", "error", err)
	case !ran:
		status.FinishedAt = r.now()
		status.Skipped = true
		logger.Info("conformity audit skipped, another replica holds the lock")
	}
	r.setLast(status)
	return status
}

func (r *AuditRunner) audit(ctx context.Context, logger *slog.Logger, status *RunStatus) {
	var (
		records []conformity.Record
		err     error
	)
	if r.cfg.Partitioned {
		records, err = r.auditor.ComputeConformityPartitioned(ctx)
	} else {
		records, err = r.auditor.ComputeConformity(ctx, 0)
	}
	status.FinishedAt = r.now()

	if err != nil {
		status.Error = err.Error()
		if ctx.Err() != nil {
			logger.Info("conformity audit abandoned", "error", err)
		} else {
			logger.Error("conformity audit failed", "error", err)
		}
		return
	}

	status.Summary = conformity.Summarize(records)
	metrics.PublishAudit(metrics.AuditSnapshot{
		Conformes:    status.Summary.Conformes,
		NonConformes: status.Summary.NonConformes,
		Errored:      status.Summary.Errored,
		Coverage:     status.Summary.Coverage,
		FinishedAt:   status.FinishedAt,
	})
	logger.Info("conformity audit completed",
		"total", status.Summary.Total,
		"conformes", status.Summary.Conformes,
		"nonConformes", status.Summary.NonConformes,
		"errored", status.Summary.Errored,
		"coverageGlobal", status.Summary.Coverage,
		"duration", status.FinishedAt.Sub(status.StartedAt).String())
	for _, rec := range records {
		if rec.Status == conformity.StatusNonConforme {
			logger.Info("gamme not conforme",
				"pg_id", rec.GammeID, "missing", rec.Missing, "extras", rec.Extras)
		}
	}
}

// LastRun returns the status of the most recent run, or nil before the
// first one finishes.
func (r *AuditRunner) LastRun() *RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	s := *r.last
	return &s
}

func (r *AuditRunner) setLast(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &s
}
