package repository

import (
	"context"
	"time"

	"nytax/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JurisdictionShape is a jurisdiction together with its boundary as WKT.
type JurisdictionShape struct {
	model.Jurisdiction
	WKT string
}

type JurisdictionRepository interface {
	Create(ctx context.Context, j *model.Jurisdiction) error
	Simplify(ctx context.Context, id uuid.UUID, tolerance float64) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Jurisdiction, error)
	FindByCode(ctx context.Context, code string) (*model.Jurisdiction, error)
	List(ctx context.Context, jurisdictionType string) ([]model.Jurisdiction, error)
	LockByID(ctx context.Context, id uuid.UUID) (*model.Jurisdiction, error)
	FindContaining(ctx context.Context, lat, lon float64) ([]model.Jurisdiction, error)
	LoadShapes(ctx context.Context) ([]JurisdictionShape, error)
}

type jurisdictionRepository struct {
	db *gorm.DB
}

func NewJurisdictionRepository(db *gorm.DB) JurisdictionRepository {
	return &jurisdictionRepository{db: db}
}

func (r *jurisdictionRepository) Create(ctx context.Context, j *model.Jurisdiction) error {
	var row struct {
		ID        uuid.UUID
		CreatedAt time.Time
	}
	err := GetDB(ctx, r.db).Raw(`
		INSERT INTO jurisdictions (code, name, type, geom, created_at)
		VALUES (?, ?, ?, ST_Multi(ST_GeomFromEWKT(?)), now())
		RETURNING id, created_at`,
		j.Code, j.Name, j.Type, j.Geometry,
	).Scan(&row).Error
	if err != nil {
		return translate(err)
	}
	j.ID = row.ID
	j.CreatedAt = row.CreatedAt
	return nil
}

// Simplify replaces the stored boundary with a topology-preserving simplification.
// tolerance is in degrees (SRID 4326).
func (r *jurisdictionRepository) Simplify(ctx context.Context, id uuid.UUID, tolerance float64) error {
	return translate(GetDB(ctx, r.db).
		Exec("UPDATE jurisdictions SET geom = ST_Multi(ST_SimplifyPreserveTopology(geom, ?)) WHERE id = ?", tolerance, id).
		Error)
}

func (r *jurisdictionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Jurisdiction, error) {
	var j model.Jurisdiction
	if err := GetDB(ctx, r.db).First(&j, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (r *jurisdictionRepository) FindByCode(ctx context.Context, code string) (*model.Jurisdiction, error) {
	var j model.Jurisdiction
	if err := GetDB(ctx, r.db).First(&j, "code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

func (r *jurisdictionRepository) List(ctx context.Context, jurisdictionType string) ([]model.Jurisdiction, error) {
	var out []model.Jurisdiction
	query := GetDB(ctx, r.db).Model(&model.Jurisdiction{})
	if jurisdictionType != "" {
		query = query.Where("type = ?", jurisdictionType)
	}
	if err := query.Order("type, name").Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// LockByID takes a row lock on the jurisdiction; rate mutations use it to serialize per jurisdiction.
func (r *jurisdictionRepository) LockByID(ctx context.Context, id uuid.UUID) (*model.Jurisdiction, error) {
	var j model.Jurisdiction
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&j, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &j, nil
}

// FindContaining returns every jurisdiction whose boundary covers the point (boundary included),
// ordered by id. It relies on the GIST index on geom.
func (r *jurisdictionRepository) FindContaining(ctx context.Context, lat, lon float64) ([]model.Jurisdiction, error) {
	var out []model.Jurisdiction
	if err := GetDB(ctx, r.db).
		Where("ST_Covers(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))", lon, lat).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *jurisdictionRepository) LoadShapes(ctx context.Context) ([]JurisdictionShape, error) {
	var rows []struct {
		ID        uuid.UUID
		Code      string
		Name      string
		Type      string
		CreatedAt time.Time
		WKT       string
	}
	if err := GetDB(ctx, r.db).Table("jurisdictions").
		Select("id, code, name, type, created_at, ST_AsText(geom) AS wkt").
		Order("id ASC").
		Scan(&rows).Error; err != nil {
		return nil, translate(err)
	}

	out := make([]JurisdictionShape, 0, len(rows))
	for _, row := range rows {
		out = append(out, JurisdictionShape{
			Jurisdiction: model.Jurisdiction{
				ID:        row.ID,
				Code:      row.Code,
				Name:      row.Name,
				Type:      row.Type,
				CreatedAt: row.CreatedAt,
			},
			WKT: row.WKT,
		})
	}
	return out, nil
}
