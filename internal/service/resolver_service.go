package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"nytax/internal/model"
	"nytax/internal/repository"
	"nytax/internal/spatial"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Locator finds every jurisdiction whose boundary covers a point, boundary included, ordered by id.
// repository.JurisdictionRepository satisfies it through PostGIS; ShapeLocator does it in process.
type Locator interface {
	FindContaining(ctx context.Context, lat, lon float64) ([]model.Jurisdiction, error)
}

// Resolution is the set of jurisdictions covering one point.
type Resolution struct {
	State   *model.Jurisdiction
	County  *model.Jurisdiction
	City    *model.Jurisdiction
	Special []model.Jurisdiction
}

// All lists the resolved jurisdictions in state, county, city, special order.
func (r Resolution) All() []model.Jurisdiction {
	var out []model.Jurisdiction
	for _, j := range []*model.Jurisdiction{r.State, r.County, r.City} {
		if j != nil {
			out = append(out, *j)
		}
	}
	return append(out, r.Special...)
}

type JurisdictionResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type ResolutionResponse struct {
	State   *JurisdictionResponse  `json:"state"`
	County  *JurisdictionResponse  `json:"county"`
	City    *JurisdictionResponse  `json:"city"`
	Special []JurisdictionResponse `json:"special"`
}

type ResolverService interface {
	Resolve(ctx context.Context, lat, lon float64) (Resolution, error)
}

type resolverService struct {
	locator Locator
	log     logrus.FieldLogger
}

func NewResolverService(locator Locator, log logrus.FieldLogger) ResolverService {
	return &resolverService{locator: locator, log: log.WithField("component", "resolver")}
}

// Resolve partitions the covering jurisdictions by type. When more than one state, county or city
// covers the point (a shared boundary, or a sliver left by simplification) the lowest id wins.
func (s *resolverService) Resolve(ctx context.Context, lat, lon float64) (Resolution, error) {
	if err := ValidatePoint(lat, lon); err != nil {
		return Resolution{}, err
	}

	hits, err := s.locator.FindContaining(ctx, lat, lon)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to locate jurisdictions: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return bytes.Compare(hits[i].ID[:], hits[j].ID[:]) < 0 })

	var res Resolution
	for i := range hits {
		j := hits[i]
		var slot **model.Jurisdiction
		switch j.Type {
		case model.JurisdictionState:
			slot = &res.State
		case model.JurisdictionCounty:
			slot = &res.County
		case model.JurisdictionCity:
			slot = &res.City
		case model.JurisdictionSpecial:
			res.Special = append(res.Special, j)
			continue
		default:
			s.log.WithField("jurisdiction_id", j.ID).Warnf("skipping jurisdiction of unknown type %q", j.Type)
			continue
		}
		if *slot != nil {
			s.log.WithFields(logrus.Fields{
				"lat":     lat,
				"lon":     lon,
				"type":    j.Type,
				"kept":    (*slot).ID,
				"dropped": j.ID,
			}).Warn("point covered by more than one jurisdiction of the same type")
			continue
		}
		*slot = &j
	}
	return res, nil
}

// ValidatePoint checks WGS84 bounds.
func ValidatePoint(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return invalid("lat", "must be within [-90, 90], got %v", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return invalid("lon", "must be within [-180, 180], got %v", lon)
	}
	return nil
}

// ShapeLocator answers FindContaining from an in-memory R-tree. It holds a snapshot of the
// stored boundaries: jurisdictions seeded afterwards stay invisible until Reload. Rates are always
// read from the store.
type ShapeLocator struct {
	mu            sync.RWMutex
	index         *spatial.Index
	jurisdictions map[uuid.UUID]model.Jurisdiction
}

func NewShapeLocator(shapes []repository.JurisdictionShape) (*ShapeLocator, error) {
	index, jurisdictions, err := buildShapeIndex(shapes)
	if err != nil {
		return nil, err
	}
	return &ShapeLocator{index: index, jurisdictions: jurisdictions}, nil
}

func buildShapeIndex(shapes []repository.JurisdictionShape) (*spatial.Index, map[uuid.UUID]model.Jurisdiction, error) {
	index := spatial.NewIndex()
	jurisdictions := make(map[uuid.UUID]model.Jurisdiction, len(shapes))
	for _, s := range shapes {
		mp, err := spatial.ParseWKT(s.WKT)
		if err != nil {
			return nil, nil, fmt.Errorf("jurisdiction %s: %w", s.Code, err)
		}
		index.Put(s.ID, mp)
		jurisdictions[s.ID] = s.Jurisdiction
	}
	return index, jurisdictions, nil
}

// LoadShapeLocator builds a ShapeLocator from every stored boundary.
func LoadShapeLocator(ctx context.Context, repo repository.JurisdictionRepository) (*ShapeLocator, error) {
	shapes, err := repo.LoadShapes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load jurisdiction shapes: %w", err)
	}
	return NewShapeLocator(shapes)
}

// Reload replaces the snapshot with the boundaries currently stored. On error the old snapshot
// keeps serving.
func (l *ShapeLocator) Reload(ctx context.Context, repo repository.JurisdictionRepository) error {
	shapes, err := repo.LoadShapes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jurisdiction shapes: %w", err)
	}
	index, jurisdictions, err := buildShapeIndex(shapes)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.index, l.jurisdictions = index, jurisdictions
	l.mu.Unlock()
	return nil
}

func (l *ShapeLocator) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Len()
}

func (l *ShapeLocator) FindContaining(_ context.Context, lat, lon float64) ([]model.Jurisdiction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.index.Containing(lat, lon)
	out := make([]model.Jurisdiction, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.jurisdictions[id])
	}
	return out, nil
}

func NewJurisdictionResponse(j model.Jurisdiction) JurisdictionResponse {
	return JurisdictionResponse{ID: j.ID.String(), Code: j.Code, Name: j.Name, Type: j.Type}
}

func NewResolutionResponse(r Resolution) ResolutionResponse {
	resp := ResolutionResponse{Special: make([]JurisdictionResponse, 0, len(r.Special))}
	if r.State != nil {
		j := NewJurisdictionResponse(*r.State)
		resp.State = &j
	}
	if r.County != nil {
		j := NewJurisdictionResponse(*r.County)
		resp.County = &j
	}
	if r.City != nil {
		j := NewJurisdictionResponse(*r.City)
		resp.City = &j
	}
	for _, s := range r.Special {
		resp.Special = append(resp.Special, NewJurisdictionResponse(s))
	}
	return resp
}
