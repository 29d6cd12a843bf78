package repository

import (
	"context"

	"nytax/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportLogRepository interface {
	Create(ctx context.Context, log *model.ImportLog) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ImportLog, error)
	FindByHash(ctx context.Context, hash string) (*model.ImportLog, error)
	List(ctx context.Context, page, limit int) ([]model.ImportLog, int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountOrders(ctx context.Context, id uuid.UUID) (int64, error)
}

type importLogRepository struct {
	db *gorm.DB
}

func NewImportLogRepository(db *gorm.DB) ImportLogRepository {
	return &importLogRepository{db: db}
}

// Create fails with ErrDuplicate when the content hash is already recorded.
func (r *importLogRepository) Create(ctx context.Context, log *model.ImportLog) error {
	return translate(GetDB(ctx, r.db).Create(log).Error)
}

func (r *importLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ImportLog, error) {
	var log model.ImportLog
	if err := GetDB(ctx, r.db).First(&log, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &log, nil
}

func (r *importLogRepository) FindByHash(ctx context.Context, hash string) (*model.ImportLog, error) {
	var log model.ImportLog
	if err := GetDB(ctx, r.db).First(&log, "content_hash = ?", hash).Error; err != nil {
		return nil, translate(err)
	}
	return &log, nil
}

func (r *importLogRepository) List(ctx context.Context, page, limit int) ([]model.ImportLog, int64, error) {
	var logs []model.ImportLog
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.ImportLog{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, translate(err)
	}
	return logs, total, nil
}

// Delete removes the log; the orders_import_id foreign key cascades to its orders.
func (r *importLogRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.ImportLog{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *importLogRepository) CountOrders(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Order{}).Where("import_id = ?", id).Count(&count).Error; err != nil {
		return 0, translate(err)
	}
	return count, nil
}
