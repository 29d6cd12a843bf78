package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderPredicate is a closed set of filters over stored orders. The unexported marker keeps the
// set closed: only the types below can be passed to OrderRepository.
type OrderPredicate interface {
	orderPredicate()
}

// Fields accepted by RangePredicate
const (
	FieldCompositeTaxRate = "composite_tax_rate"
	FieldSubtotal         = "subtotal"
	FieldTaxAmount        = "tax_amount"
	FieldTotalAmount      = "total_amount"
)

// RangeFields lists the numeric columns RangePredicate may target.
var RangeFields = map[string]bool{
	FieldCompositeTaxRate: true,
	FieldSubtotal:         true,
	FieldTaxAmount:        true,
	FieldTotalAmount:      true,
}

// DateRangePredicate matches orders whose timestamp is within [From, To]. Nil bounds are open.
type DateRangePredicate struct {
	From *time.Time
	To   *time.Time
}

// RangePredicate matches Min <= field <= Max. A nil Max leaves the range open upward;
// a nil Min leaves it open downward.
type RangePredicate struct {
	Field string
	Min   *decimal.Decimal
	Max   *decimal.Decimal
}

// TextPredicate matches a case-insensitive substring of any applied jurisdiction name or the order id.
type TextPredicate struct {
	Query string
}

// SourcePredicate matches model.OrderSourceManual or model.OrderSourceImport.
type SourcePredicate struct {
	Source string
}

// ImportPredicate matches orders created by one import.
type ImportPredicate struct {
	ImportID uuid.UUID
}

func (DateRangePredicate) orderPredicate() {}
func (RangePredicate) orderPredicate()     {}
func (TextPredicate) orderPredicate()      {}
func (SourcePredicate) orderPredicate()    {}
func (ImportPredicate) orderPredicate()    {}

// OrderQuery is a conjunction of predicates plus paging.
type OrderQuery struct {
	Predicates []OrderPredicate
	Page       int
	Limit      int
}

// OrderTotals is the simple aggregate the dashboard consumes.
type OrderTotals struct {
	Count          int64           `json:"count"`
	SubtotalSum    decimal.Decimal `json:"subtotal_sum"`
	TaxAmountSum   decimal.Decimal `json:"tax_amount_sum"`
	TotalAmountSum decimal.Decimal `json:"total_amount_sum"`
}
