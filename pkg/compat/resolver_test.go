package compat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/autoparts/compat-engine/internal/testfixture"
	"github.com/autoparts/compat-engine/pkg/cache"
	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/enginerr"
	"github.com/autoparts/compat-engine/pkg/store"
)

const (
	variantClio  = 1001
	variantBare  = 1002
	gammeBrakes  = 402
	gammeFilters = 7
	criSide      = 100
	criRemark    = 200
	brandATE     = 2
)

// seedBrakes builds a small brake-pad catalog:
//
//	piece 1  BOSCH "0 986 494 123"   canonical "Essieu avant"        front/explicit
//	piece 2  ATE   "13.0460-2712.2"  remark "montage arrière gauche"  rear-left/inferred
//	piece 3  BOSCH "0986494123"      canonical "avant"                merged into 1
//	piece 4  ATE   "24.0122-0150.1"  remarks "front axle", "rear axle" unknown (conflict)
//	piece 5  BOSCH "HIDDEN-1"        not displayed
//	piece 6  BOSCH "F-1"             other gamme
func seedBrakes(t *testing.T) *testfixture.Catalog {
	t.Helper()
	fx := testfixture.New(t)
	fx.Brand(brandATE, "ATE").
		Variant(variantClio, "1.5 dCi 85", "Diesel").
		Variant(variantBare, "2.0 16V", "Essence").
		Gamme(gammeBrakes, "Plaquettes de frein").
		Gamme(gammeFilters, "Filtre à huile").
		Definition(criSide, "Côté d'assemblage").
		Definition(criRemark, "Remarque")

	fx.Piece(1, testfixture.DefaultBrandID, "0 986 494 123", "Jeu de plaquettes").
		Attribute(1, criSide, "Essieu avant").
		Relate(variantClio, 1, gammeBrakes)
	fx.Piece(2, brandATE, "13.0460-2712.2", "Plaquette arrière").
		Attribute(2, criRemark, "montage arrière gauche").
		Relate(variantClio, 2, gammeBrakes)
	fx.Piece(3, testfixture.DefaultBrandID, "0986494123", "Jeu de plaquettes").
		Attribute(3, criSide, "avant").
		Relate(variantClio, 3, gammeBrakes)
	fx.Piece(4, brandATE, "24.0122-0150.1", "Kit plaquettes").
		Attribute(4, criRemark, "front axle").
		Attribute(4, criRemark, "rear axle").
		Relate(variantClio, 4, gammeBrakes)
	fx.HiddenPiece(5, testfixture.DefaultBrandID, "HIDDEN-1", "Retired").
		Relate(variantClio, 5, gammeBrakes)
	fx.Piece(6, testfixture.DefaultBrandID, "F-1", "Filtre").
		Relate(variantClio, 6, gammeFilters)
	return fx
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	st := store.NewStore(seedBrakes(t).DB)
	defs := cache.NewDefinitionCache(st, nil, nil)
	return NewResolver(st, defs, nil, DefaultConfig(), nil)
}

func pieceIDs(parts []ResolvedPart) []int64 {
	ids := make([]int64, len(parts))
	for i, p := range parts {
		ids[i] = p.PieceID
	}
	return ids
}

func TestResolveEnrichesDedupesAndOrders(t *testing.T) {
	r := newTestResolver(t)

	res, err := r.Resolve(context.Background(), Request{VariantID: variantClio, GammeID: gammeBrakes})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, DefaultLimit, res.Limit)
	require.Equal(t, []int64{2, 4, 1}, pieceIDs(res.Parts))

	rearLeft := res.Parts[0]
	assert.Equal(t, criteria.PositionRearLeft, rearLeft.Position)
	assert.Equal(t, criteria.ProvenanceInferred, rearLeft.Provenance)
	assert.Equal(t, []string{"arriere", "gauche"}, rearLeft.MatchedKeywords)
	assert.Equal(t, "ATE", rearLeft.BrandName)

	conflict := res.Parts[1]
	assert.Equal(t, criteria.PositionUnknown, conflict.Position)
	assert.Equal(t, criteria.ProvenanceNone, conflict.Provenance)
	assert.True(t, conflict.Ambiguous)

	front := res.Parts[2]
	assert.Equal(t, criteria.PositionFront, front.Position)
	assert.Equal(t, criteria.ProvenanceExplicit, front.Provenance)
	assert.Equal(t, "0986494123", front.NormalizedRef)
	assert.Equal(t, []int64{3}, front.MergedPieceIDs)
	assert.Equal(t, int64(2), front.RelationCount)
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newTestResolver(t)
	req := Request{VariantID: variantClio, GammeID: gammeBrakes, Sort: "position,-name"}

	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResolveNotFoundIsDistinctFromEmpty(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, Request{VariantID: 9999, GammeID: gammeBrakes})
	require.Error(t, err)
	assert.Equal(t, enginerr.KindNotFound, enginerr.KindOf(err))

	_, err = r.Resolve(ctx, Request{VariantID: variantClio, GammeID: 9999})
	require.Error(t, err)
	assert.Equal(t, enginerr.KindNotFound, enginerr.KindOf(err))

	res, err := r.Resolve(ctx, Request{VariantID: variantBare, GammeID: gammeBrakes})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.NotNil(t, res.Parts)
	assert.Empty(t, res.Parts)
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"zero variant", Request{VariantID: 0, GammeID: gammeBrakes}},
		{"negative gamme", Request{VariantID: variantClio, GammeID: -1}},
		{"negative offset", Request{VariantID: variantClio, GammeID: gammeBrakes, Pagination: Pagination{Offset: -1}}},
		{"negative limit", Request{VariantID: variantClio, GammeID: gammeBrakes, Pagination: Pagination{Limit: -5}}},
		{"unknown sort key", Request{VariantID: variantClio, GammeID: gammeBrakes, Sort: "price"}},
		{"repeated sort key", Request{VariantID: variantClio, GammeID: gammeBrakes, Sort: "brand,-brand"}},
		{"unknown position", Request{VariantID: variantClio, GammeID: gammeBrakes, Position: "top"}},
		{"unknown position filter", Request{VariantID: variantClio, GammeID: gammeBrakes, Position: criteria.PositionUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, enginerr.KindInvalidInput, enginerr.KindOf(err))
		})
	}
}

func TestResolvePagination(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		page      Pagination
		wantIDs   []int64
		wantLimit int
	}{
		{"first page", Pagination{Offset: 0, Limit: 2}, []int64{2, 4}, 2},
		{"second page", Pagination{Offset: 2, Limit: 2}, []int64{1}, 2},
		{"past the end", Pagination{Offset: 10, Limit: 2}, []int64{}, 2},
		{"limit clamped", Pagination{Limit: 500}, []int64{2, 4, 1}, MaxLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, Request{VariantID: variantClio, GammeID: gammeBrakes, Pagination: tt.page})
			require.NoError(t, err)
			assert.Equal(t, 3, res.Total)
			assert.Equal(t, tt.wantIDs, pieceIDs(res.Parts))
			assert.Equal(t, tt.wantLimit, res.Limit)
		})
	}
}

func TestResolveSortKeys(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		sort string
		want []int64
	}{
		{"-brand", []int64{1, 2, 4}},
		{"position", []int64{1, 2, 4}},
		{"-position", []int64{4, 2, 1}},
		{"reference", []int64{1, 2, 4}},
		{"name", []int64{1, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), Request{VariantID: variantClio, GammeID: gammeBrakes, Sort: tt.sort})
			require.NoError(t, err)
			assert.Equal(t, tt.want, pieceIDs(res.Parts))
		})
	}
}

func TestResolvePositionFilterKeepsUnknown(t *testing.T) {
	r := newTestResolver(t)

	res, err := r.Resolve(context.Background(), Request{VariantID: variantClio, GammeID: gammeBrakes, Position: criteria.PositionFront})
	require.NoError(t, err)
	require.Equal(t, []int64{4, 1}, pieceIDs(res.Parts))
	assert.True(t, res.Parts[0].PositionUnverified)
	assert.False(t, res.Parts[1].PositionUnverified)

	res, err = r.Resolve(context.Background(), Request{VariantID: variantClio, GammeID: gammeBrakes, Position: criteria.PositionRear})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, pieceIDs(res.Parts))
	assert.Equal(t, 2, res.Total)
}

type unusedDefinitions struct{}

func (unusedDefinitions) Definitions(context.Context) (map[int64]criteria.Definition, error) {
	return nil, errors.New("definitions must not be loaded")
}

func TestResolveBackendTimeoutIsLoud(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`auto_type`).WillDelayFor(2 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"type_id"}).AddRow(variantClio))
	mock.ExpectQuery(`pieces_gamme`).WillDelayFor(2 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"pg_id"}).AddRow(gammeBrakes))

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	r := NewResolver(store.NewStore(db), unusedDefinitions{}, nil, Config{FetchTimeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	res, err := r.Resolve(context.Background(), Request{VariantID: variantClio, GammeID: gammeBrakes})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, enginerr.KindBackendUnavailable, enginerr.KindOf(err))
	assert.True(t, enginerr.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second, "resolve must fail fast on timeout")
}

func TestResolveHonorsCallerCancellation(t *testing.T) {
	r := newTestResolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, Request{VariantID: variantClio, GammeID: gammeBrakes})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
