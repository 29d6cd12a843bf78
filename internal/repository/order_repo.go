package repository

import (
	"context"
	"fmt"
	"strings"

	"nytax/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const orderInsertBatchSize = 500

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	CreateBatch(ctx context.Context, orders []model.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	List(ctx context.Context, q OrderQuery) ([]model.Order, int64, error)
	Totals(ctx context.Context, predicates []OrderPredicate) (OrderTotals, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return translate(GetDB(ctx, r.db).Create(order).Error)
}

func (r *orderRepository) CreateBatch(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return translate(GetDB(ctx, r.db).CreateInBatches(orders, orderInsertBatchSize).Error)
}

func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, q OrderQuery) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	db := GetDB(ctx, r.db)
	query, err := applyOrderPredicates(db.Model(&model.Order{}), q.Predicates)
	if err != nil {
		return nil, 0, err
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	fetch, _ := applyOrderPredicates(db.Model(&model.Order{}), q.Predicates)
	offset := (q.Page - 1) * q.Limit
	if err := fetch.Order("timestamp DESC, id DESC").Offset(offset).Limit(q.Limit).Find(&orders).Error; err != nil {
		return nil, 0, translate(err)
	}
	return orders, total, nil
}

func (r *orderRepository) Totals(ctx context.Context, predicates []OrderPredicate) (OrderTotals, error) {
	query, err := applyOrderPredicates(GetDB(ctx, r.db).Model(&model.Order{}), predicates)
	if err != nil {
		return OrderTotals{}, err
	}

	var row struct {
		Count       int64
		SubtotalSum string
		TaxSum      string
		TotalSum    string
	}
	if err := query.Select(
		"COUNT(*) AS count, " +
			"CAST(COALESCE(SUM(subtotal), 0) AS TEXT) AS subtotal_sum, " +
			"CAST(COALESCE(SUM(tax_amount), 0) AS TEXT) AS tax_sum, " +
			"CAST(COALESCE(SUM(total_amount), 0) AS TEXT) AS total_sum",
	).Scan(&row).Error; err != nil {
		return OrderTotals{}, translate(err)
	}

	out := OrderTotals{Count: row.Count}
	if out.SubtotalSum, err = decimal.NewFromString(row.SubtotalSum); err != nil {
		return OrderTotals{}, fmt.Errorf("parse subtotal sum: %w", err)
	}
	if out.TaxAmountSum, err = decimal.NewFromString(row.TaxSum); err != nil {
		return OrderTotals{}, fmt.Errorf("parse tax sum: %w", err)
	}
	if out.TotalAmountSum, err = decimal.NewFromString(row.TotalSum); err != nil {
		return OrderTotals{}, fmt.Errorf("parse total sum: %w", err)
	}
	return out, nil
}

func applyOrderPredicates(query *gorm.DB, predicates []OrderPredicate) (*gorm.DB, error) {
	for _, p := range predicates {
		switch p := p.(type) {
		case DateRangePredicate:
			if p.From != nil {
				query = query.Where("timestamp >= ?", *p.From)
			}
			if p.To != nil {
				query = query.Where("timestamp <= ?", *p.To)
			}
		case RangePredicate:
			if !RangeFields[p.Field] {
				return nil, fmt.Errorf("unsupported range field %q", p.Field)
			}
			// p.Field is whitelisted above, so interpolating it is safe.
			if p.Min != nil {
				query = query.Where(p.Field+" >= ?", *p.Min)
			}
			if p.Max != nil {
				query = query.Where(p.Field+" <= ?", *p.Max)
			}
		case TextPredicate:
			like := "%" + escapeLike(p.Query) + "%"
			query = query.Where(
				"(CAST(id AS TEXT) ILIKE ? OR EXISTS (SELECT 1 FROM jsonb_array_elements(jurisdictions) j WHERE j->>'name' ILIKE ?))",
				like, like,
			)
		case SourcePredicate:
			switch p.Source {
			case model.OrderSourceManual:
				query = query.Where("import_id IS NULL")
			case model.OrderSourceImport:
				query = query.Where("import_id IS NOT NULL")
			default:
				return nil, fmt.Errorf("unsupported source %q", p.Source)
			}
		case ImportPredicate:
			query = query.Where("import_id = ?", p.ImportID)
		default:
			return nil, fmt.Errorf("unsupported order predicate %T", p)
		}
	}
	return query, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
