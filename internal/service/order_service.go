package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Filter types accepted by the order search
const (
	FilterDateRange = "date_range"
	FilterRange     = "range"
	FilterText      = "text"
	FilterSource    = "source"
	FilterImport    = "import"
)

// --- DTOs ---

// SearchOrdersRequest carries a conjunction of typed filters. Each filter is an object with a
// "type" discriminator; unknown types and unknown fields are rejected.
type SearchOrdersRequest struct {
	Filters []json.RawMessage `json:"filters" swaggertype:"array,object"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
}

type TotalsRequest struct {
	Filters []json.RawMessage `json:"filters" swaggertype:"array,object"`
}

type dateRangeFilter struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

type rangeFilter struct {
	Type  string           `json:"type"`
	Field string           `json:"field"`
	Min   *decimal.Decimal `json:"min"`
	Max   *decimal.Decimal `json:"max"`
}

type textFilter struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type sourceFilter struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type importFilter struct {
	Type     string `json:"type"`
	ImportID string `json:"import_id"`
}

// --- Interface ---

type OrderService interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error)
	ListOrders(ctx context.Context, req SearchOrdersRequest) ([]OrderResponse, int64, error)
	Totals(ctx context.Context, req TotalsRequest) (*repository.OrderTotals, error)
}

type orderService struct {
	orderRepo repository.OrderRepository
	calendar  Calendar
}

func NewOrderService(orderRepo repository.OrderRepository, calendar Calendar) OrderService {
	return &orderService{orderRepo: orderRepo, calendar: calendar}
}

// --- Implementation ---

func (s *orderService) GetOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "order", id)
	}
	resp := NewOrderResponse(*order)
	return &resp, nil
}

func (s *orderService) ListOrders(ctx context.Context, req SearchOrdersRequest) ([]OrderResponse, int64, error) {
	predicates, err := s.ParseFilters(req.Filters)
	if err != nil {
		return nil, 0, err
	}
	p := pagination.Normalize(req.Page, req.Limit)

	orders, total, err := s.orderRepo.List(ctx, repository.OrderQuery{Predicates: predicates, Page: p.Page, Limit: p.Limit})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	res := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		res = append(res, NewOrderResponse(o))
	}
	return res, total, nil
}

func (s *orderService) Totals(ctx context.Context, req TotalsRequest) (*repository.OrderTotals, error) {
	predicates, err := s.ParseFilters(req.Filters)
	if err != nil {
		return nil, err
	}
	totals, err := s.orderRepo.Totals(ctx, predicates)
	if err != nil {
		return nil, fmt.Errorf("failed to sum orders: %w", err)
	}
	return &totals, nil
}

// ParseFilters decodes the tagged filter objects into repository predicates.
func (s *orderService) ParseFilters(raw []json.RawMessage) ([]repository.OrderPredicate, error) {
	predicates := make([]repository.OrderPredicate, 0, len(raw))
	for i, msg := range raw {
		p, err := s.parseFilter(msg)
		if err != nil {
			return nil, invalid(fmt.Sprintf("filters[%d]", i), "%s", err.Error())
		}
		predicates = append(predicates, p)
	}
	return predicates, nil
}

func (s *orderService) parseFilter(msg json.RawMessage) (repository.OrderPredicate, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return nil, fmt.Errorf("not a filter object: %v", err)
	}

	switch head.Type {
	case FilterDateRange:
		var f dateRangeFilter
		if err := decodeStrict(msg, &f); err != nil {
			return nil, err
		}
		var p repository.DateRangePredicate
		if f.From != "" {
			from, _, err := s.calendar.ParseInstant(f.From)
			if err != nil {
				return nil, fmt.Errorf("from: %v", err)
			}
			p.From = &from
		}
		if f.To != "" {
			to, dateOnly, err := s.calendar.ParseInstant(f.To)
			if err != nil {
				return nil, fmt.Errorf("to: %v", err)
			}
			if dateOnly {
				// a bare end date includes that whole day
				to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}
			p.To = &to
		}
		if p.From == nil && p.To == nil {
			return nil, fmt.Errorf("date_range needs from or to")
		}
		if p.From != nil && p.To != nil && p.To.Before(*p.From) {
			return nil, fmt.Errorf("date_range ends before it starts")
		}
		return p, nil

	case FilterRange:
		var f rangeFilter
		if err := decodeStrict(msg, &f); err != nil {
			return nil, err
		}
		if !repository.RangeFields[f.Field] {
			return nil, fmt.Errorf("range field must be one of composite_tax_rate, subtotal, tax_amount, total_amount, got %q", f.Field)
		}
		if f.Min == nil && f.Max == nil {
			return nil, fmt.Errorf("range needs min or max")
		}
		if f.Min != nil && f.Max != nil && f.Max.LessThan(*f.Min) {
			return nil, fmt.Errorf("range max is below min")
		}
		return repository.RangePredicate{Field: f.Field, Min: f.Min, Max: f.Max}, nil

	case FilterText:
		var f textFilter
		if err := decodeStrict(msg, &f); err != nil {
			return nil, err
		}
		q := strings.TrimSpace(f.Query)
		if q == "" {
			return nil, fmt.Errorf("text query is empty")
		}
		return repository.TextPredicate{Query: q}, nil

	case FilterSource:
		var f sourceFilter
		if err := decodeStrict(msg, &f); err != nil {
			return nil, err
		}
		if f.Value != model.OrderSourceManual && f.Value != model.OrderSourceImport {
			return nil, fmt.Errorf("source must be manual or import, got %q", f.Value)
		}
		return repository.SourcePredicate{Source: f.Value}, nil

	case FilterImport:
		var f importFilter
		if err := decodeStrict(msg, &f); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(f.ImportID)
		if err != nil {
			return nil, fmt.Errorf("import_id: %v", err)
		}
		return repository.ImportPredicate{ImportID: id}, nil

	case "":
		return nil, fmt.Errorf("filter type is required")
	default:
		return nil, fmt.Errorf("unknown filter type %q", head.Type)
	}
}

func decodeStrict(msg json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed filter: %v", err)
	}
	return nil
}
