package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type orderRepo struct{ s *Store }

// insertLocked mirrors the orders_import_id foreign key. Caller holds s.mu.
func (r orderRepo) insertLocked(o *model.Order) error {
	if o.ImportID != nil {
		if _, ok := r.s.data.imports[*o.ImportID]; !ok {
			return fmt.Errorf("order references unknown import %s", *o.ImportID)
		}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if _, ok := r.s.data.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s", repository.ErrDuplicate, o.ID)
	}
	o.CreatedAt = r.s.stamp()
	r.s.data.orders[o.ID] = *o
	return nil
}

func (r orderRepo) Create(_ context.Context, order *model.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(order)
}

func (r orderRepo) CreateBatch(ctx context.Context, orders []model.Order) error {
	return r.s.TxManager().RunInTx(ctx, func(context.Context) error {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for i := range orders {
			if err := r.insertLocked(&orders[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r orderRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (r orderRepo) filter(predicates []repository.OrderPredicate) ([]model.Order, error) {
	r.s.mu.Lock()
	all := make([]model.Order, 0, len(r.s.data.orders))
	for _, o := range r.s.data.orders {
		all = append(all, o)
	}
	r.s.mu.Unlock()

	out := all[:0]
	for _, o := range all {
		ok, err := matches(o, predicates)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r orderRepo) List(_ context.Context, q repository.OrderQuery) ([]model.Order, int64, error) {
	orders, err := r.filter(q.Predicates)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(orders, func(a, b int) bool {
		if !orders[a].Timestamp.Equal(orders[b].Timestamp) {
			return orders[a].Timestamp.After(orders[b].Timestamp)
		}
		return bytes.Compare(orders[a].ID[:], orders[b].ID[:]) > 0
	})
	start, end := page(len(orders), q.Page, q.Limit)
	return orders[start:end], int64(len(orders)), nil
}

func (r orderRepo) Totals(_ context.Context, predicates []repository.OrderPredicate) (repository.OrderTotals, error) {
	orders, err := r.filter(predicates)
	if err != nil {
		return repository.OrderTotals{}, err
	}
	totals := repository.OrderTotals{Count: int64(len(orders))}
	for _, o := range orders {
		totals.SubtotalSum = totals.SubtotalSum.Add(o.Subtotal)
		totals.TaxAmountSum = totals.TaxAmountSum.Add(o.TaxAmount)
		totals.TotalAmountSum = totals.TotalAmountSum.Add(o.TotalAmount)
	}
	return totals, nil
}

func matches(o model.Order, predicates []repository.OrderPredicate) (bool, error) {
	for _, p := range predicates {
		switch p := p.(type) {
		case repository.DateRangePredicate:
			if p.From != nil && o.Timestamp.Before(*p.From) {
				return false, nil
			}
			if p.To != nil && o.Timestamp.After(*p.To) {
				return false, nil
			}
		case repository.RangePredicate:
			v, err := rangeValue(o, p.Field)
			if err != nil {
				return false, err
			}
			if p.Min != nil && v.LessThan(*p.Min) {
				return false, nil
			}
			if p.Max != nil && v.GreaterThan(*p.Max) {
				return false, nil
			}
		case repository.TextPredicate:
			if !matchesText(o, p.Query) {
				return false, nil
			}
		case repository.SourcePredicate:
			if p.Source != model.OrderSourceManual && p.Source != model.OrderSourceImport {
				return false, fmt.Errorf("unsupported source %q", p.Source)
			}
			if o.Source() != p.Source {
				return false, nil
			}
		case repository.ImportPredicate:
			if o.ImportID == nil || *o.ImportID != p.ImportID {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported order predicate %T", p)
		}
	}
	return true, nil
}

func rangeValue(o model.Order, field string) (decimal.Decimal, error) {
	switch field {
	case repository.FieldCompositeTaxRate:
		return o.CompositeTaxRate, nil
	case repository.FieldSubtotal:
		return o.Subtotal, nil
	case repository.FieldTaxAmount:
		return o.TaxAmount, nil
	case repository.FieldTotalAmount:
		return o.TotalAmount, nil
	}
	return decimal.Zero, fmt.Errorf("unsupported range field %q", field)
}

func matchesText(o model.Order, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(o.ID.String(), q) {
		return true
	}
	for _, j := range o.Jurisdictions {
		if strings.Contains(strings.ToLower(j.Name), q) {
			return true
		}
	}
	return false
}

type importRepo struct{ s *Store }

func (r importRepo) Create(_ context.Context, log *model.ImportLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.imports {
		if existing.ContentHash == log.ContentHash {
			return fmt.Errorf("%w: content hash %s", repository.ErrDuplicate, log.ContentHash)
		}
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.CreatedAt = r.s.stamp()
	r.s.data.imports[log.ID] = *log
	return nil
}

func (r importRepo) FindByID(_ context.Context, id uuid.UUID) (*model.ImportLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.data.imports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r importRepo) FindByHash(_ context.Context, hash string) (*model.ImportLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.data.imports {
		if l.ContentHash == hash {
			return &l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r importRepo) List(_ context.Context, p, limit int) ([]model.ImportLog, int64, error) {
	r.s.mu.Lock()
	logs := make([]model.ImportLog, 0, len(r.s.data.imports))
	for _, l := range r.s.data.imports {
		logs = append(logs, l)
	}
	r.s.mu.Unlock()

	sort.Slice(logs, func(a, b int) bool { return logs[a].CreatedAt.After(logs[b].CreatedAt) })
	start, end := page(len(logs), p, limit)
	return logs[start:end], int64(len(logs)), nil
}

// Delete removes the log and cascades to its orders.
func (r importRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.imports[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.imports, id)
	for oid, o := range r.s.data.orders {
		if o.ImportID != nil && *o.ImportID == id {
			delete(r.s.data.orders, oid)
		}
	}
	return nil
}

func (r importRepo) CountOrders(_ context.Context, id uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, o := range r.s.data.orders {
		if o.ImportID != nil && *o.ImportID == id {
			n++
		}
	}
	return n, nil
}
