// Package testfixture seeds in-memory SQLite catalogs for tests. It is the
// only place in the module that fabricates catalog data and must never be
// imported by production code.
package testfixture

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/autoparts/compat-engine/pkg/store"
)

// DefaultBrandID and DefaultModelID are created by New so scenario helpers
// have a brand and model to hang rows on.
const (
	DefaultBrandID = 1
	DefaultModelID = 1
)

// NewDB opens an in-memory database with the catalog schema. The pool is
// pinned to one connection because every SQLite :memory: connection is a
// separate database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(store.Models()...))
	return db
}

// Catalog is a fluent seeder over a fixture database.
type Catalog struct {
	t  testing.TB
	DB *gorm.DB
}

// New returns a Catalog over a fresh database holding one default brand and
// one default model.
func New(t testing.TB) *Catalog {
	t.Helper()
	c := &Catalog{t: t, DB: NewDB(t)}
	c.Brand(DefaultBrandID, "BOSCH")
	c.Model(DefaultModelID, "CLIO III")
	return c
}

func (c *Catalog) create(v any) *Catalog {
	c.t.Helper()
	require.NoError(c.t, c.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(v).Error)
	return c
}

// Brand adds a part brand.
func (c *Catalog) Brand(id int64, name string) *Catalog {
	return c.create(&store.PieceBrand{ID: id, Name: name})
}

// Model adds a vehicle model.
func (c *Catalog) Model(id int64, name string) *Catalog {
	return c.create(&store.VehicleModel{ID: id, BrandID: 1, Name: name})
}

// Variant adds a displayed vehicle variant under the default model.
func (c *Catalog) Variant(id int64, name, fuel string) *Catalog {
	return c.create(&store.VehicleVariant{
		ID: id, ModelID: DefaultModelID, BrandID: 1, Name: name, Fuel: fuel,
		Engine: "1.5 dCi", YearFrom: 2005, Display: true,
	})
}

// HiddenVariant adds a variant with the display flag off.
func (c *Catalog) HiddenVariant(id int64, name string) *Catalog {
	return c.create(&store.VehicleVariant{ID: id, ModelID: DefaultModelID, BrandID: 1, Name: name, Display: false})
}

// Gamme adds a displayed gamme.
func (c *Catalog) Gamme(id int64, name string) *Catalog {
	return c.create(&store.Gamme{ID: id, Name: name, Level: 1, Display: true})
}

// HiddenGamme adds a gamme with the display flag off.
func (c *Catalog) HiddenGamme(id int64, name string) *Catalog {
	return c.create(&store.Gamme{ID: id, Name: name, Level: 1, Display: false})
}

// Piece adds a displayed piece.
func (c *Catalog) Piece(id, brandID int64, ref, name string) *Catalog {
	return c.create(&store.Piece{ID: id, BrandID: brandID, Ref: ref, Name: name, Display: true})
}

// HiddenPiece adds a piece with the display flag off.
func (c *Catalog) HiddenPiece(id, brandID int64, ref, name string) *Catalog {
	return c.create(&store.Piece{ID: id, BrandID: brandID, Ref: ref, Name: name, Display: false})
}

// Relate links a piece to a variant within a gamme.
func (c *Catalog) Relate(variantID, pieceID, gammeID int64) *Catalog {
	return c.create(&store.PartRelation{VariantID: variantID, PieceID: pieceID, GammeID: gammeID})
}

// Definition adds an attribute definition.
func (c *Catalog) Definition(id int64, name string) *Catalog {
	return c.create(&store.AttributeDefinition{ID: id, Name: name, Display: true})
}

// Attribute attaches a raw attribute value to a piece.
func (c *Catalog) Attribute(pieceID, definitionID int64, value string) *Catalog {
	return c.create(&store.PartAttribute{PieceID: pieceID, DefinitionID: definitionID, Value: value, Display: true})
}

// Legacy adds a V2/V3 link.
func (c *Catalog) Legacy(variantID, gammeID int64, confidence float64) *Catalog {
	return c.create(&store.LegacyLink{VariantID: variantID, GammeID: gammeID, Source: "v3", Confidence: confidence})
}

// Keyword adds a V4 keyword.
func (c *Catalog) Keyword(id, gammeID int64, text string) *Catalog {
	return c.create(&store.Keyword{ID: id, GammeID: gammeID, Text: text})
}

// KeywordLink adds a V4 link produced by a keyword.
func (c *Catalog) KeywordLink(variantID, gammeID, keywordID int64, confidence float64) *Catalog {
	return c.create(&store.KeywordLink{VariantID: variantID, GammeID: gammeID, KeywordID: keywordID, Confidence: confidence})
}

// Scenario describes the populations of one audited gamme. Variant ids are
// allocated consecutively from FirstVariantID:
//
//	[0, CatalogValid)                        related to a displayed piece
//	  [0, LegacyCovered)                     plus a legacy link
//	    [0, NewOnCovered)                    plus a keyword link (extras)
//	  [LegacyCovered, +NewOnExpected)        plus a keyword link
//	[CatalogValid, +NewOutsideCatalog)       keyword link only (extras)
type Scenario struct {
	GammeID           int64
	Name              string
	FirstVariantID    int64
	CatalogValid      int
	LegacyCovered     int
	NewOnExpected     int
	NewOnCovered      int
	NewOutsideCatalog int
}

// KeywordID returns the id of the keyword Seed creates for the scenario.
func (s Scenario) KeywordID() int64 { return s.GammeID*1000 + 1 }

// Seed writes a scenario. Confidence values are 0.95 so every link counts at
// the default threshold.
func (c *Catalog) Seed(s Scenario) *Catalog {
	c.t.Helper()
	require.LessOrEqual(c.t, s.LegacyCovered, s.CatalogValid)
	require.LessOrEqual(c.t, s.NewOnExpected, s.CatalogValid-s.LegacyCovered)
	require.LessOrEqual(c.t, s.NewOnCovered, s.LegacyCovered)

	name := s.Name
	if name == "" {
		name = fmt.Sprintf("Gamme %d", s.GammeID)
	}
	c.Gamme(s.GammeID, name)
	pieceID := s.GammeID
	c.Piece(pieceID, DefaultBrandID, fmt.Sprintf("REF-%d", s.GammeID), name)
	kw := s.KeywordID()
	c.Keyword(kw, s.GammeID, fmt.Sprintf("kw-%d", s.GammeID))

	var (
		variants  []store.VehicleVariant
		relations []store.PartRelation
		legacy    []store.LegacyLink
		links     []store.KeywordLink
	)
	total := s.CatalogValid + s.NewOutsideCatalog
	for i := 0; i < total; i++ {
		id := s.FirstVariantID + int64(i)
		variants = append(variants, store.VehicleVariant{
			ID: id, ModelID: DefaultModelID, BrandID: 1,
			Name: fmt.Sprintf("Variant %d", id), Fuel: "Diesel", YearFrom: 2010, Display: true,
		})
		if i >= s.CatalogValid {
			links = append(links, store.KeywordLink{VariantID: id, GammeID: s.GammeID, KeywordID: kw, Confidence: 0.95})
			continue
		}
		relations = append(relations, store.PartRelation{VariantID: id, PieceID: pieceID, GammeID: s.GammeID})
		switch {
		case i < s.LegacyCovered:
			legacy = append(legacy, store.LegacyLink{VariantID: id, GammeID: s.GammeID, Source: "v2", Confidence: 0.95})
			if i < s.NewOnCovered {
				links = append(links, store.KeywordLink{VariantID: id, GammeID: s.GammeID, KeywordID: kw, Confidence: 0.95})
			}
		case i < s.LegacyCovered+s.NewOnExpected:
			links = append(links, store.KeywordLink{VariantID: id, GammeID: s.GammeID, KeywordID: kw, Confidence: 0.95})
		}
	}

	db := c.DB.Clauses(clause.OnConflict{DoNothing: true})
	if len(variants) > 0 {
		require.NoError(c.t, db.CreateInBatches(&variants, 100).Error)
	}
	if len(relations) > 0 {
		require.NoError(c.t, db.CreateInBatches(&relations, 100).Error)
	}
	if len(legacy) > 0 {
		require.NoError(c.t, db.CreateInBatches(&legacy, 100).Error)
	}
	if len(links) > 0 {
		require.NoError(c.t, db.CreateInBatches(&links, 100).Error)
	}
	return c
}
