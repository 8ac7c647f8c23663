// Package compat resolves the parts compatible with a vehicle variant within
// a gamme and annotates each with its inferred position.
package compat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/enginerr"
	"github.com/autoparts/compat-engine/pkg/metrics"
	"github.com/autoparts/compat-engine/pkg/store"
)

// Catalog is the read side of the store the resolver needs.
type Catalog interface {
	GetVariant(ctx context.Context, id int64) (*store.VehicleVariant, error)
	GetGamme(ctx context.Context, id int64) (*store.Gamme, error)
	CompatibleParts(ctx context.Context, variantID, gammeID int64) ([]store.PartRow, error)
	PartAttributes(ctx context.Context, pieceIDs []int64) (map[int64][]store.PartAttribute, error)
}

// Definitions supplies the attribute definition map.
type Definitions interface {
	Definitions(ctx context.Context) (map[int64]criteria.Definition, error)
}

// Config holds resolver settings.
type Config struct {
	// FetchTimeout bounds each individual store fetch.
	FetchTimeout time.Duration
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{FetchTimeout: 5 * time.Second}
}

// Request selects what to resolve.
type Request struct {
	VariantID  int64
	GammeID    int64
	Pagination Pagination
	// Sort is a comma-separated list of sort keys; see ParseSort.
	Sort string
	// Position, when set, keeps parts compatible with it plus parts whose
	// position is unknown.
	Position criteria.Position
}

// ResolvedPart is one deduplicated compatible part.
type ResolvedPart struct {
	PieceID         int64               `json:"pieceId"`
	Reference       string              `json:"reference"`
	NormalizedRef   string              `json:"normalizedReference"`
	Name            string              `json:"name"`
	BrandID         int64               `json:"brandId"`
	BrandName       string              `json:"brand"`
	Position        criteria.Position   `json:"position"`
	Provenance      criteria.Provenance `json:"provenance"`
	MatchedKeywords []string            `json:"matchedKeywords,omitempty"`
	Ambiguous       bool                `json:"ambiguous,omitempty"`
	// PositionUnverified marks an unknown-position part kept by a position
	// filter.
	PositionUnverified bool    `json:"positionUnverified,omitempty"`
	RelationCount      int64   `json:"relationCount"`
	MergedPieceIDs     []int64 `json:"mergedPieceIds,omitempty"`
}

// Result is one page of resolved parts. Total counts every part after
// dedup and filtering, not just the page.
type Result struct {
	Parts  []ResolvedPart `json:"pieces"`
	Total  int            `json:"count"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// Resolver implements compatibility resolution. It is safe for concurrent
// use.
type Resolver struct {
	catalog Catalog
	defs    Definitions
	engine  *criteria.Engine
	cfg     Config
	logger  *slog.Logger
}

// NewResolver wires a resolver. A nil engine uses the embedded vocabulary;
// a nil logger uses slog.Default().
func NewResolver(catalog Catalog, defs Definitions, engine *criteria.Engine, cfg Config, logger *slog.Logger) *Resolver {
	if engine == nil {
		engine = criteria.NewEngine(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Resolver{catalog: catalog, defs: defs, engine: engine, cfg: cfg, logger: logger}
}

const opResolve = "compat.resolve"

// Resolve returns the compatible parts for the pair. A missing variant or
// gamme is NotFound; an existing pair with no relations is an empty Result.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := r.resolve(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(enginerr.KindOf(err))
		if enginerr.Is(err, enginerr.KindBackendUnavailable) {
			r.logger.Warn("resolve failed", "op", opResolve, "type_id", req.VariantID, "pg_id", req.GammeID, "error", err)
		}
	}
	metrics.RecordResolve(outcome, time.Since(start))
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Result, error) {
	page, keys, err := validate(req)
	if err != nil {
		return nil, err
	}

	if err := r.checkExists(ctx, req.VariantID, req.GammeID); err != nil {
		return nil, err
	}

	var rows []store.PartRow
	err = r.fetch(ctx, func(ctx context.Context) (err error) {
		rows, err = r.catalog.CompatibleParts(ctx, req.VariantID, req.GammeID)
		return err
	})
	if err != nil {
		return nil, annotate(err, req)
	}

	parts := []ResolvedPart{}
	if len(rows) > 0 {
		parts, err = r.enrich(ctx, rows)
		if err != nil {
			return nil, annotate(err, req)
		}
		parts = dedupe(parts)
	}
	parts = filterPosition(parts, req.Position)
	sortParts(parts, keys)

	return &Result{
		Parts:  paginateSlice(parts, page),
		Total:  len(parts),
		Offset: page.Offset,
		Limit:  page.Limit,
	}, nil
}

func validate(req Request) (Pagination, []SortKey, error) {
	if req.VariantID <= 0 {
		return Pagination{}, nil, enginerr.InvalidInput(opResolve, "vehicle variant id must be positive, got %d", req.VariantID)
	}
	if req.GammeID <= 0 {
		return Pagination{}, nil, enginerr.InvalidInput(opResolve, "gamme id must be positive, got %d", req.GammeID)
	}
	page, err := req.Pagination.normalize(opResolve)
	if err != nil {
		return Pagination{}, nil, err
	}
	keys, err := ParseSort(req.Sort)
	if err != nil {
		return Pagination{}, nil, err
	}
	if req.Position != "" && (!req.Position.Valid() || req.Position == criteria.PositionUnknown) {
		return Pagination{}, nil, enginerr.InvalidInput(opResolve, "unsupported position filter %q", req.Position)
	}
	return page, keys, nil
}

// checkExists looks both ids up concurrently.
func (r *Resolver) checkExists(ctx context.Context, variantID, gammeID int64) error {
	var (
		variant *store.VehicleVariant
		gamme   *store.Gamme
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.fetch(gctx, func(ctx context.Context) (err error) {
			variant, err = r.catalog.GetVariant(ctx, variantID)
			return err
		})
	})
	g.Go(func() error {
		return r.fetch(gctx, func(ctx context.Context) (err error) {
			gamme, err = r.catalog.GetGamme(ctx, gammeID)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return annotate(err, Request{VariantID: variantID, GammeID: gammeID})
	}
	if variant == nil {
		return enginerr.NotFound(opResolve, "vehicle variant %d does not exist", variantID).WithVariant(variantID)
	}
	if gamme == nil {
		return enginerr.NotFound(opResolve, "gamme %d does not exist", gammeID).WithGamme(gammeID)
	}
	return nil
}

func (r *Resolver) enrich(ctx context.Context, rows []store.PartRow) ([]ResolvedPart, error) {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.PieceID
	}

	var (
		defs  map[int64]criteria.Definition
		attrs map[int64][]store.PartAttribute
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		defs, err = r.defs.Definitions(gctx)
		return err
	})
	g.Go(func() error {
		return r.fetch(gctx, func(ctx context.Context) (err error) {
			attrs, err = r.catalog.PartAttributes(ctx, ids)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parts := make([]ResolvedPart, 0, len(rows))
	for _, row := range rows {
		inf := r.engine.InferPosition(toAttributes(attrs[row.PieceID]), defs)
		metrics.RecordInference(string(inf.Provenance), inf.Ambiguous())
		if inf.Ambiguous() {
			r.logger.Debug("ambiguous position inference",
				"piece_id", row.PieceID, "keywords", inf.Keywords)
		}
		ref := row.RefClean
		if ref == "" {
			ref = row.Ref
		}
		parts = append(parts, ResolvedPart{
			PieceID:         row.PieceID,
			Reference:       row.Ref,
			NormalizedRef:   NormalizeRef(ref),
			Name:            row.Name,
			BrandID:         row.BrandID,
			BrandName:       row.BrandName,
			Position:        inf.Position,
			Provenance:      inf.Provenance,
			MatchedKeywords: inf.Keywords,
			Ambiguous:       inf.Ambiguous(),
			RelationCount:   row.RelationCount,
		})
	}
	return parts, nil
}

func toAttributes(rows []store.PartAttribute) []criteria.Attribute {
	out := make([]criteria.Attribute, len(rows))
	for i, a := range rows {
		out[i] = criteria.Attribute{DefinitionID: a.DefinitionID, Value: a.Value, Display: a.Display}
	}
	return out
}

func filterPosition(parts []ResolvedPart, want criteria.Position) []ResolvedPart {
	if want == "" {
		return parts
	}
	out := parts[:0]
	for _, p := range parts {
		switch {
		case p.Position == criteria.PositionUnknown:
			p.PositionUnverified = true
			out = append(out, p)
		case p.Position.Matches(want):
			out = append(out, p)
		}
	}
	return out
}

// fetch runs one store call under the per-fetch timeout.
func (r *Resolver) fetch(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	return fn(ctx)
}

func annotate(err error, req Request) error {
	var ee *enginerr.Error
	if !errors.As(err, &ee) {
		return enginerr.Internal(opResolve, err)
	}
	out := ee
	if out.VariantID == 0 {
		out = out.WithVariant(req.VariantID)
	}
	if out.GammeID == 0 {
		out = out.WithGamme(req.GammeID)
	}
	return out
}
