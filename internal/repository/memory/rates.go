package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/google/uuid"
)

type rateRepo struct{ s *Store }

func overlaps(a, b model.RateInterval) bool {
	aEndsAfterB := a.ValidTo == nil || a.ValidTo.After(b.ValidFrom)
	bEndsAfterA := b.ValidTo == nil || b.ValidTo.After(a.ValidFrom)
	return aEndsAfterB && bEndsAfterA
}

// checkLocked mirrors the range check and the exclusion constraint. Caller holds s.mu.
func (r rateRepo) checkLocked(iv model.RateInterval) error {
	if iv.ValidTo != nil && !iv.ValidTo.After(iv.ValidFrom) {
		return fmt.Errorf("%w: valid_to %s not after valid_from %s", repository.ErrOverlap,
			iv.ValidTo.Format(model.DateLayout), iv.ValidFrom.Format(model.DateLayout))
	}
	for _, other := range r.s.data.rates {
		if other.ID == iv.ID || other.JurisdictionID != iv.JurisdictionID {
			continue
		}
		if overlaps(iv, other) {
			return fmt.Errorf("%w: interval %s", repository.ErrOverlap, other.ID)
		}
	}
	return nil
}

func (r rateRepo) Create(_ context.Context, iv *model.RateInterval) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.jurisdictions[iv.JurisdictionID]; !ok {
		return fmt.Errorf("rate interval references unknown jurisdiction %s", iv.JurisdictionID)
	}
	iv.ValidFrom = dateOnly(iv.ValidFrom)
	if iv.ValidTo != nil {
		to := dateOnly(*iv.ValidTo)
		iv.ValidTo = &to
	}
	if iv.ID == uuid.Nil {
		iv.ID = uuid.New()
	}
	if err := r.checkLocked(*iv); err != nil {
		return err
	}
	iv.CreatedAt = r.s.stamp()
	r.s.data.rates[iv.ID] = *iv
	return nil
}

func (r rateRepo) FindEffective(_ context.Context, jurisdictionID uuid.UUID, day time.Time) ([]model.RateInterval, error) {
	day = dateOnly(day)
	r.s.mu.Lock()
	var out []model.RateInterval
	for _, iv := range r.s.data.rates {
		if iv.JurisdictionID == jurisdictionID && iv.Contains(day) {
			out = append(out, iv)
		}
	}
	r.s.mu.Unlock()

	sortByValidFromDesc(out)
	if len(out) > 2 {
		out = out[:2]
	}
	return out, nil
}

func (r rateRepo) FindHead(_ context.Context, jurisdictionID uuid.UUID) (*model.RateInterval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, iv := range r.s.data.rates {
		if iv.JurisdictionID == jurisdictionID && iv.IsHead() {
			return &iv, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r rateRepo) FindEndingAt(_ context.Context, jurisdictionID uuid.UUID, day time.Time) (*model.RateInterval, error) {
	day = dateOnly(day)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, iv := range r.s.data.rates {
		if iv.JurisdictionID == jurisdictionID && iv.ValidTo != nil && iv.ValidTo.Equal(day) {
			return &iv, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r rateRepo) SetValidTo(_ context.Context, id uuid.UUID, validTo *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	iv, ok := r.s.data.rates[id]
	if !ok {
		return repository.ErrNotFound
	}
	if validTo != nil {
		to := dateOnly(*validTo)
		iv.ValidTo = &to
	} else {
		iv.ValidTo = nil
	}
	if err := r.checkLocked(iv); err != nil {
		return err
	}
	r.s.data.rates[id] = iv
	return nil
}

func (r rateRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.rates[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.rates, id)
	return nil
}

func (r rateRepo) ListByJurisdiction(_ context.Context, jurisdictionID uuid.UUID) ([]model.RateInterval, error) {
	r.s.mu.Lock()
	var out []model.RateInterval
	for _, iv := range r.s.data.rates {
		if iv.JurisdictionID == jurisdictionID {
			out = append(out, iv)
		}
	}
	r.s.mu.Unlock()

	sortByValidFromDesc(out)
	return out, nil
}

func sortByValidFromDesc(ivs []model.RateInterval) {
	sort.Slice(ivs, func(a, b int) bool { return ivs[a].ValidFrom.After(ivs[b].ValidFrom) })
}

type mutationRepo struct{ s *Store }

func (r mutationRepo) Append(_ context.Context, m *model.RateMutation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if m.RevertsID != nil {
		for _, existing := range r.s.data.mutations {
			if existing.RevertsID != nil && *existing.RevertsID == *m.RevertsID {
				return fmt.Errorf("%w: mutation %s already reverted", repository.ErrDuplicate, *m.RevertsID)
			}
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.s.data.sequence++
	m.Sequence = r.s.data.sequence
	m.EffectiveDate = dateOnly(m.EffectiveDate)
	m.CreatedAt = r.s.stamp()
	r.s.data.mutations = append(r.s.data.mutations, *m)
	return nil
}

func (r mutationRepo) FindByID(_ context.Context, id uuid.UUID) (*model.RateMutation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.data.mutations {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r mutationRepo) FindLatest(_ context.Context, jurisdictionID uuid.UUID) (*model.RateMutation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// mutations is kept in sequence order
	for i := len(r.s.data.mutations) - 1; i >= 0; i-- {
		if m := r.s.data.mutations[i]; m.JurisdictionID == jurisdictionID {
			return &m, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r mutationRepo) ListByJurisdiction(_ context.Context, jurisdictionID uuid.UUID, p, limit int) ([]model.RateMutation, int64, error) {
	r.s.mu.Lock()
	var all []model.RateMutation
	for i := len(r.s.data.mutations) - 1; i >= 0; i-- {
		if m := r.s.data.mutations[i]; m.JurisdictionID == jurisdictionID {
			all = append(all, m)
		}
	}
	r.s.mu.Unlock()

	start, end := page(len(all), p, limit)
	return all[start:end], int64(len(all)), nil
}

func (r mutationRepo) RevertedIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[uuid.UUID]bool)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.data.mutations {
		if m.RevertsID != nil && wanted[*m.RevertsID] {
			out[*m.RevertsID] = true
		}
	}
	return out, nil
}
