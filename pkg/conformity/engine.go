package conformity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/autoparts/compat-engine/pkg/enginerr"
	"github.com/autoparts/compat-engine/pkg/metrics"
	"github.com/autoparts/compat-engine/pkg/store"
)

// Source is the read side of the store the engine needs.
type Source interface {
	GetGamme(ctx context.Context, id int64) (*store.Gamme, error)
	DisplayedGammes(ctx context.Context) ([]store.Gamme, error)
	ConformityCounts(ctx context.Context, gammeID int64) ([]store.ConformityCounts, error)
	MissingVariants(ctx context.Context, gammeID int64) ([]store.MissingVariant, error)
	ExtraVariants(ctx context.Context, gammeID int64) ([]store.ExtraVariant, error)
}

// Config holds engine settings.
type Config struct {
	// AuditTimeout bounds the aggregate query, and each per-gamme query of
	// a partitioned audit.
	AuditTimeout time.Duration
	// DrilldownTimeout bounds each drill-down query.
	DrilldownTimeout time.Duration
	// Workers bounds the concurrent per-gamme queries of a partitioned
	// audit.
	Workers int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		AuditTimeout:     10 * time.Second,
		DrilldownTimeout: 10 * time.Second,
		Workers:          4,
	}
}

// Engine computes conformity records and drill-downs. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	src    Source
	cfg    Config
	logger *slog.Logger
}

// NewEngine wires an engine. Zero config fields take their defaults.
func NewEngine(src Source, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = def.AuditTimeout
	}
	if cfg.DrilldownTimeout <= 0 {
		cfg.DrilldownTimeout = def.DrilldownTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{src: src, cfg: cfg, logger: logger}
}

const (
	opCompute     = "conformity.compute"
	opPartitioned = "conformity.compute_partitioned"
	opMissing     = "conformity.missing"
	opExtras      = "conformity.extras"
)

// ComputeConformity audits one gamme, or every displayed gamme when gammeID
// is 0, with a single aggregate query. Any failure fails the whole call.
func (e *Engine) ComputeConformity(ctx context.Context, gammeID int64) ([]Record, error) {
	start := time.Now()
	records, err := e.compute(ctx, gammeID)
	metrics.RecordAudit("aggregate", outcome(err), time.Since(start))
	return records, err
}

func (e *Engine) compute(ctx context.Context, gammeID int64) ([]Record, error) {
	if gammeID < 0 {
		return nil, enginerr.InvalidInput(opCompute, "gamme id must be positive, got %d", gammeID)
	}
	if gammeID > 0 {
		if err := e.requireGamme(ctx, opCompute, gammeID, e.cfg.AuditTimeout); err != nil {
			return nil, err
		}
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.AuditTimeout)
	defer cancel()
	rows, err := e.src.ConformityCounts(qctx, gammeID)
	if err != nil {
		e.logger.Warn("conformity aggregate failed", "op", opCompute, "pg_id", gammeID, "error", err)
		return nil, withGamme(err, gammeID)
	}
	if gammeID > 0 && len(rows) == 0 {
		return nil, enginerr.NotFound(opCompute, "gamme %d does not exist", gammeID).WithGamme(gammeID)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		r, err := e.verified(opCompute, row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// ComputeConformityPartitioned audits every displayed gamme with one query
// per gamme, at most Config.Workers at a time. A failed gamme yields an
// ERROR record and does not stop the others. Caller cancellation fails the
// whole call.
func (e *Engine) ComputeConformityPartitioned(ctx context.Context) ([]Record, error) {
	start := time.Now()
	records, err := e.computePartitioned(ctx)
	metrics.RecordAudit("partitioned", outcome(err), time.Since(start))
	return records, err
}

func (e *Engine) computePartitioned(ctx context.Context) ([]Record, error) {
	lctx, cancel := context.WithTimeout(ctx, e.cfg.AuditTimeout)
	gammes, err := e.src.DisplayedGammes(lctx)
	cancel()
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(gammes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, gm := range gammes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = e.computeOne(gctx, gm)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, store.Classify(ctx, opPartitioned, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, store.Classify(ctx, opPartitioned, err)
	}

	seen := mapset.NewThreadUnsafeSetWithSize[int64](len(records))
	for _, r := range records {
		if !seen.Add(r.GammeID) {
			return nil, enginerr.InconsistentAggregate(opPartitioned, r.GammeID, "gamme audited twice")
		}
	}
	return records, nil
}

func (e *Engine) computeOne(ctx context.Context, gm store.Gamme) Record {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.AuditTimeout)
	defer cancel()

	rows, err := e.src.ConformityCounts(qctx, gm.ID)
	if err == nil && len(rows) != 1 {
		err = enginerr.InconsistentAggregate(opPartitioned, gm.ID, "expected 1 aggregate row, got %d", len(rows))
	}
	var r Record
	if err == nil {
		r, err = e.verified(opPartitioned, rows[0])
	}
	if err != nil {
		if !enginerr.Is(err, enginerr.KindInconsistentAggregate) {
			e.logger.Warn("gamme audit failed", "op", opPartitioned, "pg_id", gm.ID, "error", err)
		}
		return errorRecord(gm, err)
	}
	return r
}

// verified builds and checks a record, logging any violation at Error.
func (e *Engine) verified(op string, row store.ConformityCounts) (Record, error) {
	r := newRecord(row)
	if err := r.check(); err != nil {
		e.logger.Error("conformity invariant violated", "op", op, "pg_id", row.GammeID, "error", err)
		return Record{}, enginerr.InconsistentAggregate(op, row.GammeID, "%v", err)
	}
	if r.Netted() {
		e.logger.Warn("conformity counters net out opposite drift",
			"pg_id", r.GammeID, "missing", r.Missing, "extras", r.Extras,
			"missing_variants", r.MissingVariants, "extra_variants", r.ExtraVariants)
	}
	return r, nil
}

func (e *Engine) requireGamme(ctx context.Context, op string, gammeID int64, timeout time.Duration) error {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	g, err := e.src.GetGamme(qctx, gammeID)
	if err != nil {
		return withGamme(err, gammeID)
	}
	if g == nil {
		return enginerr.NotFound(op, "gamme %d does not exist", gammeID).WithGamme(gammeID)
	}
	return nil
}

func withGamme(err error, gammeID int64) error {
	var ee *enginerr.Error
	if gammeID == 0 || !errors.As(err, &ee) || ee.GammeID != 0 {
		return err
	}
	return ee.WithGamme(gammeID)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(enginerr.KindOf(err))
}

// recordFor fetches the aggregate record of one gamme for drill-down
// comparison.
func (e *Engine) recordFor(ctx context.Context, op string, gammeID int64) (Record, error) {
	rows, err := e.src.ConformityCounts(ctx, gammeID)
	if err != nil {
		return Record{}, err
	}
	if len(rows) != 1 {
		return Record{}, enginerr.InconsistentAggregate(op, gammeID, "expected 1 aggregate row, got %d", len(rows))
	}
	return e.verified(op, rows[0])
}

func describe(r Record) string {
	return fmt.Sprintf("missing=%d extras=%d missing_variants=%d extra_variants=%d",
		r.Missing, r.Extras, r.MissingVariants, r.ExtraVariants)
}
