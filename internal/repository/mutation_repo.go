package repository

import (
	"context"

	"nytax/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MutationRepository is the append-only rate ledger. It has no update or delete.
type MutationRepository interface {
	Append(ctx context.Context, m *model.RateMutation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.RateMutation, error)
	FindLatest(ctx context.Context, jurisdictionID uuid.UUID) (*model.RateMutation, error)
	ListByJurisdiction(ctx context.Context, jurisdictionID uuid.UUID, page, limit int) ([]model.RateMutation, int64, error)
	RevertedIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type mutationRepository struct {
	db *gorm.DB
}

func NewMutationRepository(db *gorm.DB) MutationRepository {
	return &mutationRepository{db: db}
}

func (r *mutationRepository) Append(ctx context.Context, m *model.RateMutation) error {
	return translate(GetDB(ctx, r.db).Create(m).Error)
}

func (r *mutationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.RateMutation, error) {
	var m model.RateMutation
	if err := GetDB(ctx, r.db).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *mutationRepository) FindLatest(ctx context.Context, jurisdictionID uuid.UUID) (*model.RateMutation, error) {
	var m model.RateMutation
	if err := GetDB(ctx, r.db).
		Where("jurisdiction_id = ?", jurisdictionID).
		Order("sequence DESC").
		First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *mutationRepository) ListByJurisdiction(ctx context.Context, jurisdictionID uuid.UUID, page, limit int) ([]model.RateMutation, int64, error) {
	var entries []model.RateMutation
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.RateMutation{}).Where("jurisdiction_id = ?", jurisdictionID).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	offset := (page - 1) * limit
	if err := db.Where("jurisdiction_id = ?", jurisdictionID).
		Order("sequence DESC").
		Offset(offset).Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, translate(err)
	}
	return entries, total, nil
}

// RevertedIDs reports which of the given SET entries have a REVERT pointing at them.
func (r *mutationRepository) RevertedIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var reverted []uuid.UUID
	if err := GetDB(ctx, r.db).Model(&model.RateMutation{}).
		Where("reverts_id IN ?", ids).
		Pluck("reverts_id", &reverted).Error; err != nil {
		return nil, translate(err)
	}
	for _, id := range reverted {
		out[id] = true
	}
	return out, nil
}
