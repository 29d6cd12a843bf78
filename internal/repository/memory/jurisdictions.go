package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/internal/spatial"

	"github.com/google/uuid"
)

type jurisdictionRepo struct{ s *Store }

func (r jurisdictionRepo) Create(_ context.Context, j *model.Jurisdiction) error {
	shape, err := spatial.ParseWKT(j.Geometry)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.jurisdictions {
		if existing.Code == j.Code {
			return fmt.Errorf("%w: jurisdiction code %s", repository.ErrDuplicate, j.Code)
		}
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.CreatedAt = r.s.stamp()

	stored := *j
	stored.Geometry = ""
	r.s.data.jurisdictions[j.ID] = stored
	r.s.data.geoms[j.ID] = spatial.EWKT(shape)
	r.s.index.Put(j.ID, shape)
	return nil
}

func (r jurisdictionRepo) Simplify(_ context.Context, id uuid.UUID, tolerance float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.data.geoms[id]
	if !ok {
		return nil
	}
	shape, err := spatial.ParseWKT(g)
	if err != nil {
		return err
	}
	simplified := spatial.Simplify(shape, tolerance)
	r.s.data.geoms[id] = spatial.EWKT(simplified)
	r.s.index.Put(id, simplified)
	return nil
}

func (r jurisdictionRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Jurisdiction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.data.jurisdictions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &j, nil
}

func (r jurisdictionRepo) FindByCode(_ context.Context, code string) (*model.Jurisdiction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.data.jurisdictions {
		if j.Code == code {
			return &j, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r jurisdictionRepo) List(_ context.Context, jurisdictionType string) ([]model.Jurisdiction, error) {
	r.s.mu.Lock()
	out := make([]model.Jurisdiction, 0, len(r.s.data.jurisdictions))
	for _, j := range r.s.data.jurisdictions {
		if jurisdictionType == "" || j.Type == jurisdictionType {
			out = append(out, j)
		}
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Type != out[b].Type {
			return out[a].Type < out[b].Type
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

// LockByID is a plain lookup; transactions on the store are already serialized.
func (r jurisdictionRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Jurisdiction, error) {
	return r.FindByID(ctx, id)
}

func (r jurisdictionRepo) FindContaining(_ context.Context, lat, lon float64) ([]model.Jurisdiction, error) {
	ids := r.s.index.Containing(lat, lon)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Jurisdiction, 0, len(ids))
	for _, id := range ids {
		if j, ok := r.s.data.jurisdictions[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r jurisdictionRepo) LoadShapes(_ context.Context) ([]repository.JurisdictionShape, error) {
	r.s.mu.Lock()
	out := make([]repository.JurisdictionShape, 0, len(r.s.data.jurisdictions))
	for id, j := range r.s.data.jurisdictions {
		_, wkt, _ := strings.Cut(r.s.data.geoms[id], ";")
		out = append(out, repository.JurisdictionShape{Jurisdiction: j, WKT: wkt})
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return bytes.Compare(out[a].ID[:], out[b].ID[:]) < 0 })
	return out, nil
}
