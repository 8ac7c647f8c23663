package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/autoparts/compat-engine/pkg/enginerr"
)

// ResultSchemaVersion is bumped whenever a result struct in this package
// changes shape.
const ResultSchemaVersion = 1

// DefaultConfidenceThreshold is the minimum upstream confidence for a legacy
// or keyword link to count as coverage.
const DefaultConfidenceThreshold = 0.9

// attributeChunkSize bounds the IN list of a single attribute query.
const attributeChunkSize = 500

// Store runs read-only catalog queries.
type Store struct {
	db        *gorm.DB
	threshold float64
}

// Option configures a Store.
type Option func(*Store)

// WithConfidenceThreshold overrides DefaultConfidenceThreshold.
func WithConfidenceThreshold(t float64) Option {
	return func(s *Store) { s.threshold = t }
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, threshold: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConfidenceThreshold returns the coverage threshold used by every
// conformity query.
func (s *Store) ConfidenceThreshold() float64 { return s.threshold }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return Classify(ctx, "store.ping", err)
	}
	return Classify(ctx, "store.ping", sqlDB.PingContext(ctx))
}

// GetVariant returns the variant with the given id, or nil, nil if it does
// not exist.
func (s *Store) GetVariant(ctx context.Context, id int64) (*VehicleVariant, error) {
	var v VehicleVariant
	err := s.db.WithContext(ctx).Where("type_id = ?", id).Take(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, Classify(ctx, "store.get_variant", err)
	}
	return &v, nil
}

// GetGamme returns the gamme with the given id, or nil, nil if it does not
// exist.
func (s *Store) GetGamme(ctx context.Context, id int64) (*Gamme, error) {
	var g Gamme
	err := s.db.WithContext(ctx).Where("pg_id = ?", id).Take(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, Classify(ctx, "store.get_gamme", err)
	}
	return &g, nil
}

// DisplayedGammes lists visible gammes in id order, with only their id and
// name loaded.
func (s *Store) DisplayedGammes(ctx context.Context) ([]Gamme, error) {
	var gammes []Gamme
	err := s.db.WithContext(ctx).
		Select("pg_id", "pg_name").
		Where("pg_display = ?", true).
		Order("pg_id ASC").
		Find(&gammes).Error
	if err != nil {
		return nil, Classify(ctx, "store.list_gammes", err)
	}
	for _, g := range gammes {
		if g.ID <= 0 {
			return nil, schemaError("store.list_gammes", "gamme id %d is not positive", g.ID)
		}
	}
	return gammes, nil
}

// AttributeDefinitions loads the whole definition table in id order.
func (s *Store) AttributeDefinitions(ctx context.Context) ([]AttributeDefinition, error) {
	var defs []AttributeDefinition
	if err := s.db.WithContext(ctx).Order("pcl_cri_id ASC").Find(&defs).Error; err != nil {
		return nil, Classify(ctx, "store.attribute_definitions", err)
	}
	for _, d := range defs {
		if d.ID <= 0 {
			return nil, schemaError("store.attribute_definitions", "definition id %d is not positive", d.ID)
		}
	}
	return defs, nil
}

// PartRow is one distinct displayed piece related to a (variant, gamme) pair.
type PartRow struct {
	PieceID       int64  `gorm:"column:piece_id"`
	Ref           string `gorm:"column:piece_ref"`
	RefClean      string `gorm:"column:piece_ref_clean"`
	Name          string `gorm:"column:piece_name"`
	BrandID       int64  `gorm:"column:brand_id"`
	BrandName     string `gorm:"column:brand_name"`
	RelationCount int64  `gorm:"column:relation_count"`
}

const compatiblePartsSQL = `
SELECT p.piece_id AS piece_id,
       p.piece_ref AS piece_ref,
       COALESCE(p.piece_ref_clean, '') AS piece_ref_clean,
       p.piece_name AS piece_name,
       p.piece_pm_id AS brand_id,
       COALESCE(m.pm_name, '') AS brand_name,
       COUNT(*) AS relation_count
FROM pieces_relation_type r
JOIN pieces p ON p.piece_id = r.rtp_piece_id AND p.piece_display = @display
LEFT JOIN pieces_marque m ON m.pm_id = p.piece_pm_id
WHERE r.rtp_type_id = @variant AND r.rtp_pg_id = @gamme
GROUP BY p.piece_id, p.piece_ref, p.piece_ref_clean, p.piece_name, p.piece_pm_id, m.pm_name
ORDER BY p.piece_id ASC`

// CompatibleParts returns every displayed piece related to the pair, one row
// per piece, in piece id order. Several relation rows for the same piece
// (different side filters) collapse into RelationCount.
func (s *Store) CompatibleParts(ctx context.Context, variantID, gammeID int64) ([]PartRow, error) {
	var rows []PartRow
	err := s.db.WithContext(ctx).Raw(compatiblePartsSQL, map[string]any{
		"display": true,
		"variant": variantID,
		"gamme":   gammeID,
	}).Scan(&rows).Error
	if err != nil {
		return nil, Classify(ctx, "store.compatible_parts", err)
	}
	for _, r := range rows {
		if r.PieceID <= 0 || r.RelationCount <= 0 {
			return nil, schemaError("store.compatible_parts", "invalid row for piece %d", r.PieceID)
		}
	}
	return rows, nil
}

// PartAttributes loads the attributes of the given pieces, grouped by piece
// and sorted by (definition id, value) within each piece.
func (s *Store) PartAttributes(ctx context.Context, pieceIDs []int64) (map[int64][]PartAttribute, error) {
	out := make(map[int64][]PartAttribute, len(pieceIDs))
	for start := 0; start < len(pieceIDs); start += attributeChunkSize {
		end := start + attributeChunkSize
		if end > len(pieceIDs) {
			end = len(pieceIDs)
		}
		var rows []PartAttribute
		err := s.db.WithContext(ctx).
			Where("pc_piece_id IN ?", pieceIDs[start:end]).
			Order("pc_piece_id ASC, pc_cri_id ASC, pc_cri_value ASC").
			Find(&rows).Error
		if err != nil {
			return nil, Classify(ctx, "store.part_attributes", err)
		}
		for _, r := range rows {
			out[r.PieceID] = append(out[r.PieceID], r)
		}
	}
	return out, nil
}

func schemaError(op, format string, args ...any) error {
	return enginerr.Internal(op, &resultSchemaError{msg: fmt.Sprintf(format, args...)})
}

// resultSchemaError reports a row that violates the versioned result schema.
type resultSchemaError struct{ msg string }

func (e *resultSchemaError) Error() string {
	return fmt.Sprintf("result schema v%d violated: %s", ResultSchemaVersion, e.msg)
}
