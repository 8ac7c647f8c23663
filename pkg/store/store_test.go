package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/autoparts/compat-engine/internal/testfixture"
	"github.com/autoparts/compat-engine/pkg/enginerr"
	"github.com/autoparts/compat-engine/pkg/store"
)

func seedParts(t *testing.T) *store.Store {
	t.Helper()
	fx := testfixture.New(t)
	fx.Variant(1, "1.9 TDI", "Diesel").
		Gamme(402, "Plaquettes").
		Definition(100, "Einbauseite").
		Definition(20, "Breite").
		Piece(11, testfixture.DefaultBrandID, "P-11", "Pad").
		Piece(12, testfixture.DefaultBrandID, "P-12", "Pad").
		HiddenPiece(13, testfixture.DefaultBrandID, "P-13", "Pad").
		Relate(1, 11, 402).
		Relate(1, 11, 402).
		Relate(1, 12, 402).
		Relate(1, 13, 402).
		Attribute(11, 100, "Vorderachse").
		Attribute(11, 20, "155,1").
		Attribute(12, 20, "99")
	return store.NewStore(fx.DB)
}

func TestGetVariantAndGamme(t *testing.T) {
	st := seedParts(t)
	ctx := context.Background()

	v, err := st.GetVariant(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "1.9 TDI", v.Name)

	v, err = st.GetVariant(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, v)

	g, err := st.GetGamme(ctx, 402)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "Plaquettes", g.Name)

	g, err = st.GetGamme(ctx, 403)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestCompatiblePartsGroupsRelations(t *testing.T) {
	st := seedParts(t)

	rows, err := st.CompatibleParts(context.Background(), 1, 402)
	require.NoError(t, err)
	require.Len(t, rows, 2, "hidden piece excluded")
	assert.Equal(t, int64(11), rows[0].PieceID)
	assert.Equal(t, int64(2), rows[0].RelationCount)
	assert.Equal(t, "BOSCH", rows[0].BrandName)
	assert.Equal(t, int64(12), rows[1].PieceID)
	assert.Equal(t, int64(1), rows[1].RelationCount)

	rows, err = st.CompatibleParts(context.Background(), 1, 999)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPartAttributesOrdered(t *testing.T) {
	st := seedParts(t)

	attrs, err := st.PartAttributes(context.Background(), []int64{11, 12, 404})
	require.NoError(t, err)
	require.Len(t, attrs[11], 2)
	assert.Equal(t, int64(20), attrs[11][0].DefinitionID)
	assert.Equal(t, int64(100), attrs[11][1].DefinitionID)
	assert.Len(t, attrs[12], 1)
	assert.Empty(t, attrs[404])
}

func TestPartAttributesChunksLargeInputs(t *testing.T) {
	st := seedParts(t)

	ids := make([]int64, 1200)
	for i := range ids {
		ids[i] = int64(1000 + i)
	}
	ids[1100] = 11

	attrs, err := st.PartAttributes(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, attrs, 1)
	assert.Len(t, attrs[11], 2)
}

func TestDisplayedGammesAndDefinitions(t *testing.T) {
	fx := testfixture.New(t)
	fx.Gamme(3, "C").Gamme(1, "A").HiddenGamme(2, "B").
		Definition(5, "Side").Definition(2, "Width")
	st := store.NewStore(fx.DB)

	gammes, err := st.DisplayedGammes(context.Background())
	require.NoError(t, err)
	require.Len(t, gammes, 2)
	assert.Equal(t, int64(1), gammes[0].ID)
	assert.Equal(t, "A", gammes[0].Name)
	assert.Equal(t, int64(3), gammes[1].ID)

	defs, err := st.AttributeDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, int64(2), defs[0].ID)
}

func TestConfidenceThresholdOption(t *testing.T) {
	fx := testfixture.New(t)
	fx.Seed(testfixture.Scenario{GammeID: 1, FirstVariantID: 100, CatalogValid: 3, LegacyCovered: 3})

	strict := store.NewStore(fx.DB, store.WithConfidenceThreshold(0.99))
	assert.Equal(t, 0.99, strict.ConfidenceThreshold())

	rows, err := strict.ConformityCounts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].CoveredV2V3, "0.95 links fall below 0.99")

	rows, err = store.NewStore(fx.DB).ConformityCounts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows[0].CoveredV2V3)
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return store.NewStore(db), mock
}

func TestQueryTimeoutIsBackendUnavailable(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`pieces_relation_type`).WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"piece_id"}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := st.CompatibleParts(ctx, 1, 2)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindBackendUnavailable, enginerr.KindOf(err))
}

func TestMalformedRowIsInternal(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`pieces_relation_type`).
		WillReturnRows(sqlmock.NewRows([]string{"piece_id", "piece_ref", "piece_ref_clean", "piece_name", "brand_id", "brand_name", "relation_count"}).
			AddRow(0, "X", "", "n", 1, "B", 1))

	_, err := st.CompatibleParts(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, enginerr.KindInternal, enginerr.KindOf(err))
	assert.Contains(t, err.Error(), "result schema v1")
}
