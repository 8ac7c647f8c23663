package conformity

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/autoparts/compat-engine/pkg/enginerr"
	"github.com/autoparts/compat-engine/pkg/metrics"
)

// MissingEntry is a variant expected in V4 coverage but absent from it.
type MissingEntry struct {
	GammeID     int64  `json:"pg_id"`
	VariantID   int64  `json:"type_id"`
	ModelName   string `json:"modele_name"`
	VariantName string `json:"type_name"`
	Fuel        string `json:"type_fuel"`
}

// ExtraEntry is a variant covered by V4 without being expected, with the
// keyword that produced the association.
type ExtraEntry struct {
	GammeID     int64  `json:"pg_id"`
	VariantID   int64  `json:"type_id"`
	KeywordID   int64  `json:"kw_id"`
	KeywordText string `json:"kw_text"`
}

// GetMissing lists the variants behind a gamme's missing counter, in
// variant id order.
func (e *Engine) GetMissing(ctx context.Context, gammeID int64) ([]MissingEntry, error) {
	if err := e.checkDrilldown(ctx, opMissing, gammeID); err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.DrilldownTimeout)
	defer cancel()

	var entries []MissingEntry
	var rec Record
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		rows, err := e.src.MissingVariants(gctx, gammeID)
		if err != nil {
			return err
		}
		entries = make([]MissingEntry, len(rows))
		for i, r := range rows {
			entries[i] = MissingEntry{GammeID: r.GammeID, VariantID: r.VariantID, ModelName: r.ModelName, VariantName: r.VariantName, Fuel: r.Fuel}
		}
		return nil
	})
	g.Go(func() (err error) {
		rec, err = e.recordFor(gctx, opMissing, gammeID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, e.drilldownFailed(opMissing, gammeID, err)
	}

	ids := mapset.NewThreadUnsafeSetWithSize[int64](len(entries))
	for _, m := range entries {
		if !ids.Add(m.VariantID) {
			return nil, e.inconsistent(opMissing, gammeID, "variant %d listed twice", m.VariantID)
		}
	}
	e.compare(opMissing, rec, rec.MissingVariants, rec.Missing, len(entries))
	return entries, nil
}

// GetExtras lists the variants behind a gamme's extras counter, in variant
// id order, each with its lowest-id matching keyword.
func (e *Engine) GetExtras(ctx context.Context, gammeID int64) ([]ExtraEntry, error) {
	if err := e.checkDrilldown(ctx, opExtras, gammeID); err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.DrilldownTimeout)
	defer cancel()

	var entries []ExtraEntry
	var rec Record
	g, gctx := errgroup.WithContext(qctx)
	g.Go(func() error {
		rows, err := e.src.ExtraVariants(gctx, gammeID)
		if err != nil {
			return err
		}
		entries = make([]ExtraEntry, len(rows))
		for i, r := range rows {
			entries[i] = ExtraEntry{GammeID: r.GammeID, VariantID: r.VariantID, KeywordID: r.KeywordID, KeywordText: r.KeywordText}
		}
		return nil
	})
	g.Go(func() (err error) {
		rec, err = e.recordFor(gctx, opExtras, gammeID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, e.drilldownFailed(opExtras, gammeID, err)
	}

	ids := mapset.NewThreadUnsafeSetWithSize[int64](len(entries))
	for _, x := range entries {
		if !ids.Add(x.VariantID) {
			return nil, e.inconsistent(opExtras, gammeID, "variant %d listed twice", x.VariantID)
		}
	}
	e.compare(opExtras, rec, rec.ExtraVariants, rec.Extras, len(entries))
	return entries, nil
}

func (e *Engine) checkDrilldown(ctx context.Context, op string, gammeID int64) error {
	if gammeID <= 0 {
		return enginerr.InvalidInput(op, "gamme id must be positive, got %d", gammeID)
	}
	return e.requireGamme(ctx, op, gammeID, e.cfg.DrilldownTimeout)
}

// compare logs a drill-down list whose length disagrees with the aggregate
// taken alongside it. A set-difference mismatch means the data moved
// between the two reads; an arithmetic mismatch with a matching set
// difference means the counters netted out opposite drift.
func (e *Engine) compare(op string, rec Record, setCount, arithmetic int64, listed int) {
	n := int64(listed)
	if n != setCount {
		metrics.RecordDrilldownMismatch(op)
		e.logger.Warn("drill-down disagrees with aggregate, catalog changed between reads",
			"op", op, "pg_id", rec.GammeID, "listed", n, "record", describe(rec))
		return
	}
	if n != arithmetic {
		e.logger.Warn("drill-down lists set difference, counter is netted",
			"op", op, "pg_id", rec.GammeID, "listed", n, "record", describe(rec))
	}
}

func (e *Engine) drilldownFailed(op string, gammeID int64, err error) error {
	if !enginerr.Is(err, enginerr.KindInconsistentAggregate) {
		e.logger.Warn("drill-down failed", "op", op, "pg_id", gammeID, "error", err)
	}
	return withGamme(err, gammeID)
}

func (e *Engine) inconsistent(op string, gammeID int64, format string, args ...any) error {
	err := enginerr.InconsistentAggregate(op, gammeID, format, args...)
	e.logger.Error("drill-down invariant violated", "op", op, "pg_id", gammeID, "error", err)
	return err
}
