package store

// The models below map the catalog tables this engine reads. They are owned
// by the catalog-management process; the engine never writes them outside of
// test fixtures.

// VehicleVariant is one engine/trim configuration of a model ("type").
type VehicleVariant struct {
	ID       int64  `gorm:"column:type_id;primaryKey;autoIncrement:false"`
	ModelID  int64  `gorm:"column:type_modele_id;index"`
	BrandID  int64  `gorm:"column:type_marque_id"`
	Name     string `gorm:"column:type_name"`
	Fuel     string `gorm:"column:type_fuel"`
	Engine   string `gorm:"column:type_engine"`
	YearFrom int    `gorm:"column:type_year_from"`
	YearTo   *int   `gorm:"column:type_year_to"`
	Display  bool   `gorm:"column:type_display"`
}

func (VehicleVariant) TableName() string { return "auto_type" }

// VehicleModel is the parent model of a variant.
type VehicleModel struct {
	ID      int64  `gorm:"column:modele_id;primaryKey;autoIncrement:false"`
	BrandID int64  `gorm:"column:modele_marque_id"`
	Name    string `gorm:"column:modele_name"`
}

func (VehicleModel) TableName() string { return "auto_modele" }

// Gamme is a product category.
type Gamme struct {
	ID      int64  `gorm:"column:pg_id;primaryKey;autoIncrement:false"`
	Name    string `gorm:"column:pg_name"`
	Level   int    `gorm:"column:pg_level"`
	Display bool   `gorm:"column:pg_display"`
	Top     bool   `gorm:"column:pg_top"`
}

func (Gamme) TableName() string { return "pieces_gamme" }

// Piece is a sellable part.
type Piece struct {
	ID       int64  `gorm:"column:piece_id;primaryKey;autoIncrement:false"`
	Ref      string `gorm:"column:piece_ref"`
	RefClean string `gorm:"column:piece_ref_clean"`
	BrandID  int64  `gorm:"column:piece_pm_id;index"`
	Name     string `gorm:"column:piece_name"`
	Display  bool   `gorm:"column:piece_display"`
}

func (Piece) TableName() string { return "pieces" }

// PieceBrand is a part manufacturer.
type PieceBrand struct {
	ID   int64  `gorm:"column:pm_id;primaryKey;autoIncrement:false"`
	Name string `gorm:"column:pm_name"`
}

func (PieceBrand) TableName() string { return "pieces_marque" }

// PartRelation says a piece is sellable for a variant within a gamme.
type PartRelation struct {
	VariantID int64 `gorm:"column:rtp_type_id;index:idx_rtp_type_pg,priority:1"`
	PieceID   int64 `gorm:"column:rtp_piece_id;index"`
	GammeID   int64 `gorm:"column:rtp_pg_id;index:idx_rtp_type_pg,priority:2"`
}

func (PartRelation) TableName() string { return "pieces_relation_type" }

// PartAttribute is one raw criterion value attached to a piece.
type PartAttribute struct {
	PieceID      int64  `gorm:"column:pc_piece_id;index"`
	DefinitionID int64  `gorm:"column:pc_cri_id"`
	Value        string `gorm:"column:pc_cri_value"`
	Display      bool   `gorm:"column:pc_display"`
}

func (PartAttribute) TableName() string { return "pieces_criteria" }

// AttributeDefinition names an attribute id.
type AttributeDefinition struct {
	ID       int64  `gorm:"column:pcl_cri_id;primaryKey;autoIncrement:false"`
	Name     string `gorm:"column:pcl_cri_criteria"`
	Unit     string `gorm:"column:pcl_cri_unit"`
	ParentID int64  `gorm:"column:pcl_cri_parent"`
	Display  bool   `gorm:"column:pcl_display"`
}

func (AttributeDefinition) TableName() string { return "pieces_criteria_link" }

// LegacyLink is a confidence-scored V2/V3 association of a variant with a
// gamme. The confidence score is computed upstream.
type LegacyLink struct {
	VariantID  int64   `gorm:"column:type_id;index:idx_legacy_pg_type,priority:2"`
	GammeID    int64   `gorm:"column:pg_id;index:idx_legacy_pg_type,priority:1"`
	Source     string  `gorm:"column:source"`
	Confidence float64 `gorm:"column:confidence"`
}

func (LegacyLink) TableName() string { return "compat_legacy_links" }

// Keyword is a V4 matching keyword.
type Keyword struct {
	ID      int64  `gorm:"column:kw_id;primaryKey;autoIncrement:false"`
	Text    string `gorm:"column:kw_text"`
	GammeID int64  `gorm:"column:pg_id"`
}

func (Keyword) TableName() string { return "compat_keywords" }

// KeywordLink is a V4 keyword-derived association of a variant with a gamme.
type KeywordLink struct {
	VariantID  int64   `gorm:"column:type_id;index:idx_kwlink_pg_type,priority:2"`
	GammeID    int64   `gorm:"column:pg_id;index:idx_kwlink_pg_type,priority:1"`
	KeywordID  int64   `gorm:"column:kw_id"`
	Confidence float64 `gorm:"column:confidence"`
}

func (KeywordLink) TableName() string { return "compat_keyword_links" }

// Models lists every table model, in dependency order, for fixture schemas.
func Models() []any {
	return []any{
		&VehicleModel{}, &VehicleVariant{}, &Gamme{}, &PieceBrand{}, &Piece{},
		&PartRelation{}, &AttributeDefinition{}, &PartAttribute{},
		&LegacyLink{}, &Keyword{}, &KeywordLink{},
	}
}
