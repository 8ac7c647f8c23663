package store

import (
	"context"
	"fmt"
	"strings"
)

// The conformity sets, for a gamme g:
//
//	C(g) catalog-valid   displayed variants related to a displayed piece of g
//	L(g) legacy-covered  members of C(g) with a legacy link >= threshold
//	E(g) expected-new    C(g) minus L(g)
//	A(g) actual-new      displayed variants with a keyword link >= threshold
//
// The aggregate and the drill-down queries are all assembled from the
// fragments below, so a counter and its drill-down list always share one
// predicate.

const catalogPairsSQL = `
SELECT DISTINCT r.rtp_pg_id AS pg_id, r.rtp_type_id AS type_id
FROM pieces_relation_type r
JOIN auto_type t ON t.type_id = r.rtp_type_id AND t.type_display = @display
JOIN pieces p ON p.piece_id = r.rtp_piece_id AND p.piece_display = @display
WHERE 1 = 1 %s`

const newPairsSQL = `
SELECT DISTINCT k.pg_id AS pg_id, k.type_id AS type_id
FROM compat_keyword_links k
JOIN auto_type t ON t.type_id = k.type_id AND t.type_display = @display
WHERE k.confidence >= @threshold %s`

// inCatalog reports membership of alias.(pg_id, type_id) in C, given that
// the variant is already known to be displayed.
const inCatalog = `EXISTS (SELECT 1 FROM pieces_relation_type r2
  JOIN pieces p2 ON p2.piece_id = r2.rtp_piece_id AND p2.piece_display = @display
  WHERE r2.rtp_pg_id = %[1]s.pg_id AND r2.rtp_type_id = %[1]s.type_id)`

const legacyCovered = `EXISTS (SELECT 1 FROM compat_legacy_links l
  WHERE l.pg_id = %[1]s.pg_id AND l.type_id = %[1]s.type_id AND l.confidence >= @threshold)`

const newCovered = `EXISTS (SELECT 1 FROM compat_keyword_links k2
  WHERE k2.pg_id = %[1]s.pg_id AND k2.type_id = %[1]s.type_id AND k2.confidence >= @threshold)`

// conformitySets renders the set fragments, optionally scoped to one gamme.
type conformitySets struct {
	catalog string
	actual  string
}

func newConformitySets(scoped bool) conformitySets {
	var catScope, newScope string
	if scoped {
		catScope = "AND r.rtp_pg_id = @gamme"
		newScope = "AND k.pg_id = @gamme"
	}
	return conformitySets{
		catalog: fmt.Sprintf(catalogPairsSQL, catScope),
		actual:  fmt.Sprintf(newPairsSQL, newScope),
	}
}

func pred(tmpl, alias string) string { return fmt.Sprintf(tmpl, alias) }

// expectedMissing selects members of E(g) absent from A(g).
func (c conformitySets) expectedMissing(alias string) string {
	return "NOT " + pred(legacyCovered, alias) + " AND NOT " + pred(newCovered, alias)
}

// unexpected selects members of A(g) absent from E(g).
func (c conformitySets) unexpected(alias string) string {
	return "NOT (" + pred(inCatalog, alias) + " AND NOT " + pred(legacyCovered, alias) + ")"
}

func (c conformitySets) countsSQL(scoped bool) string {
	gammeFilter := "g.pg_display = @display"
	if scoped {
		gammeFilter = "g.pg_id = @gamme"
	}
	var b strings.Builder
	b.WriteString(`
SELECT g.pg_id AS pg_id,
       g.pg_name AS pg_name,
       COALESCE(cat.catalog_valid, 0) AS catalog_valid,
       COALESCE(cat.covered_v2v3, 0) AS covered_v2v3,
       COALESCE(cat.missing_variants, 0) AS missing_variants,
       COALESCE(nw.actual_v4, 0) AS actual_v4,
       COALESCE(nw.extra_variants, 0) AS extra_variants
FROM pieces_gamme g
LEFT JOIN (
  SELECT c.pg_id AS pg_id,
         COUNT(*) AS catalog_valid,
         SUM(CASE WHEN `)
	b.WriteString(pred(legacyCovered, "c"))
	b.WriteString(` THEN 1 ELSE 0 END) AS covered_v2v3,
         SUM(CASE WHEN `)
	b.WriteString(c.expectedMissing("c"))
	b.WriteString(` THEN 1 ELSE 0 END) AS missing_variants
  FROM (`)
	b.WriteString(c.catalog)
	b.WriteString(`) c
  GROUP BY c.pg_id
) cat ON cat.pg_id = g.pg_id
LEFT JOIN (
  SELECT a.pg_id AS pg_id,
         COUNT(*) AS actual_v4,
         SUM(CASE WHEN `)
	b.WriteString(c.unexpected("a"))
	b.WriteString(` THEN 1 ELSE 0 END) AS extra_variants
  FROM (`)
	b.WriteString(c.actual)
	b.WriteString(`) a
  GROUP BY a.pg_id
) nw ON nw.pg_id = g.pg_id
WHERE `)
	b.WriteString(gammeFilter)
	b.WriteString(`
ORDER BY g.pg_id ASC`)
	return b.String()
}

func (c conformitySets) missingSQL() string {
	return `
SELECT c.pg_id AS pg_id,
       c.type_id AS type_id,
       COALESCE(m.modele_name, '') AS model_name,
       t.type_name AS variant_name,
       COALESCE(t.type_fuel, '') AS fuel
FROM (` + c.catalog + `) c
JOIN auto_type t ON t.type_id = c.type_id
LEFT JOIN auto_modele m ON m.modele_id = t.type_modele_id
WHERE ` + c.expectedMissing("c") + `
ORDER BY c.type_id ASC`
}

func (c conformitySets) extrasSQL() string {
	return `
SELECT x.pg_id AS pg_id,
       x.type_id AS type_id,
       x.kw_id AS kw_id,
       COALESCE(w.kw_text, '') AS kw_text
FROM (
  SELECT a.pg_id AS pg_id, a.type_id AS type_id, MIN(k3.kw_id) AS kw_id
  FROM (` + c.actual + `) a
  JOIN compat_keyword_links k3 ON k3.pg_id = a.pg_id AND k3.type_id = a.type_id AND k3.confidence >= @threshold
  WHERE ` + c.unexpected("a") + `
  GROUP BY a.pg_id, a.type_id
) x
LEFT JOIN compat_keywords w ON w.kw_id = x.kw_id
ORDER BY x.type_id ASC`
}

// ConformityCounts is one aggregate row per gamme.
type ConformityCounts struct {
	GammeID         int64  `gorm:"column:pg_id"`
	GammeName       string `gorm:"column:pg_name"`
	CatalogValid    int64  `gorm:"column:catalog_valid"`
	CoveredV2V3     int64  `gorm:"column:covered_v2v3"`
	ActualV4        int64  `gorm:"column:actual_v4"`
	MissingVariants int64  `gorm:"column:missing_variants"`
	ExtraVariants   int64  `gorm:"column:extra_variants"`
}

func (r ConformityCounts) validate() error {
	switch {
	case r.GammeID <= 0:
		return fmt.Errorf("pg_id %d is not positive", r.GammeID)
	case r.CatalogValid < 0, r.CoveredV2V3 < 0, r.ActualV4 < 0, r.MissingVariants < 0, r.ExtraVariants < 0:
		return fmt.Errorf("negative counter for pg_id %d", r.GammeID)
	}
	return nil
}

// MissingVariant is a variant expected in the new mechanism but absent.
type MissingVariant struct {
	GammeID     int64  `gorm:"column:pg_id"`
	VariantID   int64  `gorm:"column:type_id"`
	ModelName   string `gorm:"column:model_name"`
	VariantName string `gorm:"column:variant_name"`
	Fuel        string `gorm:"column:fuel"`
}

// ExtraVariant is a variant the new mechanism covers without being expected.
// KeywordID is the lowest-id keyword link responsible for it.
type ExtraVariant struct {
	GammeID     int64  `gorm:"column:pg_id"`
	VariantID   int64  `gorm:"column:type_id"`
	KeywordID   int64  `gorm:"column:kw_id"`
	KeywordText string `gorm:"column:kw_text"`
}

// ConformityCounts computes the aggregate counters in a single statement.
// gammeID 0 means every displayed gamme; otherwise only that gamme, visible
// or not.
func (s *Store) ConformityCounts(ctx context.Context, gammeID int64) ([]ConformityCounts, error) {
	scoped := gammeID != 0
	sets := newConformitySets(scoped)

	var rows []ConformityCounts
	err := s.db.WithContext(ctx).Raw(sets.countsSQL(scoped), s.args(gammeID)).Scan(&rows).Error
	if err != nil {
		return nil, Classify(ctx, "store.conformity_counts", err)
	}
	for _, r := range rows {
		if err := r.validate(); err != nil {
			return nil, schemaError("store.conformity_counts", "%v", err)
		}
	}
	return rows, nil
}

// MissingVariants lists E(g) minus A(g) for one gamme, in variant id order.
func (s *Store) MissingVariants(ctx context.Context, gammeID int64) ([]MissingVariant, error) {
	var rows []MissingVariant
	err := s.db.WithContext(ctx).Raw(newConformitySets(true).missingSQL(), s.args(gammeID)).Scan(&rows).Error
	if err != nil {
		return nil, Classify(ctx, "store.missing_variants", err)
	}
	for _, r := range rows {
		if r.VariantID <= 0 || r.GammeID != gammeID {
			return nil, schemaError("store.missing_variants", "unexpected row (pg_id=%d, type_id=%d)", r.GammeID, r.VariantID)
		}
	}
	return rows, nil
}

// ExtraVariants lists A(g) minus E(g) for one gamme, in variant id order.
func (s *Store) ExtraVariants(ctx context.Context, gammeID int64) ([]ExtraVariant, error) {
	var rows []ExtraVariant
	err := s.db.WithContext(ctx).Raw(newConformitySets(true).extrasSQL(), s.args(gammeID)).Scan(&rows).Error
	if err != nil {
		return nil, Classify(ctx, "store.extra_variants", err)
	}
	for _, r := range rows {
		if r.VariantID <= 0 || r.KeywordID <= 0 || r.GammeID != gammeID {
			return nil, schemaError("store.extra_variants", "unexpected row (pg_id=%d, type_id=%d)", r.GammeID, r.VariantID)
		}
	}
	return rows, nil
}

func (s *Store) args(gammeID int64) map[string]any {
	args := map[string]any{
		"display":   true,
		"threshold": s.threshold,
	}
	if gammeID != 0 {
		args["gamme"] = gammeID
	}
	return args
}
