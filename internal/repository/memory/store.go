// Package memory is an in-process implementation of the repository interfaces. It enforces the
// same integrity rules as the PostgreSQL schema (no overlapping rate intervals, one open head per
// jurisdiction, unique content hashes, cascade from imports to orders) so services can be
// exercised without a database.
//
// Transactions are serialized and rolled back by restoring a snapshot. Reads outside a
// transaction may observe uncommitted writes of a concurrent one.
package memory

import (
	"context"
	"sync"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/internal/spatial"

	"github.com/google/uuid"
)

type txKey struct{}

type state struct {
	jurisdictions map[uuid.UUID]model.Jurisdiction
	geoms         map[uuid.UUID]string
	rates         map[uuid.UUID]model.RateInterval
	mutations     []model.RateMutation
	orders        map[uuid.UUID]model.Order
	imports       map[uuid.UUID]model.ImportLog
	audit         []model.AuditLog
	users         map[uuid.UUID]model.User
	sequence      int64
}

func newState() state {
	return state{
		jurisdictions: make(map[uuid.UUID]model.Jurisdiction),
		geoms:         make(map[uuid.UUID]string),
		rates:         make(map[uuid.UUID]model.RateInterval),
		orders:        make(map[uuid.UUID]model.Order),
		imports:       make(map[uuid.UUID]model.ImportLog),
		users:         make(map[uuid.UUID]model.User),
	}
}

func (s state) clone() state {
	c := state{
		jurisdictions: make(map[uuid.UUID]model.Jurisdiction, len(s.jurisdictions)),
		geoms:         make(map[uuid.UUID]string, len(s.geoms)),
		rates:         make(map[uuid.UUID]model.RateInterval, len(s.rates)),
		mutations:     append([]model.RateMutation(nil), s.mutations...),
		orders:        make(map[uuid.UUID]model.Order, len(s.orders)),
		imports:       make(map[uuid.UUID]model.ImportLog, len(s.imports)),
		audit:         append([]model.AuditLog(nil), s.audit...),
		users:         make(map[uuid.UUID]model.User, len(s.users)),
		sequence:      s.sequence,
	}
	for k, v := range s.jurisdictions {
		c.jurisdictions[k] = v
	}
	for k, v := range s.geoms {
		c.geoms[k] = v
	}
	for k, v := range s.rates {
		c.rates[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.imports {
		c.imports[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store holds every table in memory.
type Store struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	data  state
	index *spatial.Index
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		data:  newState(),
		index: spatial.NewIndex(),
		now:   time.Now,
	}
}

func (s *Store) Jurisdictions() repository.JurisdictionRepository { return jurisdictionRepo{s} }
func (s *Store) Rates() repository.RateRepository                 { return rateRepo{s} }
func (s *Store) Mutations() repository.MutationRepository         { return mutationRepo{s} }
func (s *Store) Orders() repository.OrderRepository               { return orderRepo{s} }
func (s *Store) Imports() repository.ImportLogRepository          { return importRepo{s} }
func (s *Store) Audit() repository.AuditRepository                { return auditRepo{s} }
func (s *Store) Users() repository.UserRepository                 { return userRepo{s} }
func (s *Store) TxManager() repository.TransactionManager          { return txManager{s} }

type txManager struct{ s *Store }

// RunInTx joins the transaction carried by ctx, or opens a new one. On error the state
// is restored to what it was before fn ran.
func (t txManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	t.s.mu.Lock()
	snapshot := t.s.data.clone()
	t.s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.s.mu.Lock()
		t.s.data = snapshot
		t.s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func page(total, p, limit int) (int, int) {
	if p < 1 {
		p = 1
	}
	if limit <= 0 {
		return 0, total
	}
	start := (p - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}
