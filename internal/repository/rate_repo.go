package repository

import (
	"context"
	"time"

	"nytax/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RateRepository stores the per-jurisdiction rate timeline. Days are calendar dates; only the
// date part of the time.Time arguments is used.
type RateRepository interface {
	Create(ctx context.Context, iv *model.RateInterval) error
	FindEffective(ctx context.Context, jurisdictionID uuid.UUID, day time.Time) ([]model.RateInterval, error)
	FindHead(ctx context.Context, jurisdictionID uuid.UUID) (*model.RateInterval, error)
	FindEndingAt(ctx context.Context, jurisdictionID uuid.UUID, day time.Time) (*model.RateInterval, error)
	SetValidTo(ctx context.Context, id uuid.UUID, validTo *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByJurisdiction(ctx context.Context, jurisdictionID uuid.UUID) ([]model.RateInterval, error)
}

type rateRepository struct {
	db *gorm.DB
}

func NewRateRepository(db *gorm.DB) RateRepository {
	return &rateRepository{db: db}
}

func (r *rateRepository) Create(ctx context.Context, iv *model.RateInterval) error {
	return translate(GetDB(ctx, r.db).Create(iv).Error)
}

// FindEffective returns the intervals containing day. The limit of two lets callers detect a
// broken invariant instead of silently picking one row.
func (r *rateRepository) FindEffective(ctx context.Context, jurisdictionID uuid.UUID, day time.Time) ([]model.RateInterval, error) {
	var out []model.RateInterval
	d := day.Format(model.DateLayout)
	if err := GetDB(ctx, r.db).
		Where("jurisdiction_id = ? AND valid_from <= ?::date AND (valid_to IS NULL OR valid_to > ?::date)", jurisdictionID, d, d).
		Order("valid_from DESC").
		Limit(2).
		Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r *rateRepository) FindHead(ctx context.Context, jurisdictionID uuid.UUID) (*model.RateInterval, error) {
	var iv model.RateInterval
	if err := GetDB(ctx, r.db).
		Where("jurisdiction_id = ? AND valid_to IS NULL", jurisdictionID).
		First(&iv).Error; err != nil {
		return nil, translate(err)
	}
	return &iv, nil
}

// FindEndingAt returns the interval closed exactly at day, i.e. the predecessor of an interval
// starting on day.
func (r *rateRepository) FindEndingAt(ctx context.Context, jurisdictionID uuid.UUID, day time.Time) (*model.RateInterval, error) {
	var iv model.RateInterval
	if err := GetDB(ctx, r.db).
		Where("jurisdiction_id = ? AND valid_to = ?::date", jurisdictionID, day.Format(model.DateLayout)).
		First(&iv).Error; err != nil {
		return nil, translate(err)
	}
	return &iv, nil
}

func (r *rateRepository) SetValidTo(ctx context.Context, id uuid.UUID, validTo *time.Time) error {
	var value interface{}
	if validTo != nil {
		value = validTo.Format(model.DateLayout)
	}
	res := GetDB(ctx, r.db).Model(&model.RateInterval{}).Where("id = ?", id).Update("valid_to", value)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *rateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.RateInterval{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *rateRepository) ListByJurisdiction(ctx context.Context, jurisdictionID uuid.UUID) ([]model.RateInterval, error) {
	var out []model.RateInterval
	if err := GetDB(ctx, r.db).
		Where("jurisdiction_id = ?", jurisdictionID).
		Order("valid_from DESC").
		Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}
