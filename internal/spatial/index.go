package spatial

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

// Index answers point-in-polygon queries in sub-linear time: an R-tree over bounding boxes
// narrows the candidates, then each candidate is tested with planar containment.
// Points on a boundary count as contained.
type Index struct {
	mu     sync.RWMutex
	tree   rtree.RTreeG[uuid.UUID]
	shapes map[uuid.UUID]orb.MultiPolygon
}

func NewIndex() *Index {
	return &Index{shapes: make(map[uuid.UUID]orb.MultiPolygon)}
}

// Put inserts or replaces the shape stored for id.
func (ix *Index) Put(id uuid.UUID, shape orb.MultiPolygon) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.shapes[id]; ok {
		ob := old.Bound()
		ix.tree.Delete(point(ob.Min), point(ob.Max), id)
	}
	b := shape.Bound()
	ix.tree.Insert(point(b.Min), point(b.Max), id)
	ix.shapes[id] = shape
}

// Shape returns the stored shape for id.
func (ix *Index) Shape(id uuid.UUID) (orb.MultiPolygon, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s, ok := ix.shapes[id]
	return s, ok
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.shapes)
}

// Containing returns the ids of all shapes covering (lat, lon), sorted ascending.
func (ix *Index) Containing(lat, lon float64) []uuid.UUID {
	pt := orb.Point{lon, lat}
	var ids []uuid.UUID

	ix.mu.RLock()
	ix.tree.Search(point(pt), point(pt), func(_, _ [2]float64, id uuid.UUID) bool {
		if planar.MultiPolygonContains(ix.shapes[id], pt) || onBoundary(ix.shapes[id], pt) {
			ids = append(ids, id)
		}
		return true
	})
	ix.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

func point(p orb.Point) [2]float64 {
	return [2]float64{p.X(), p.Y()}
}

// onBoundary reports whether pt lies on any ring edge of mp.
func onBoundary(mp orb.MultiPolygon, pt orb.Point) bool {
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 1; i < len(ring); i++ {
				if onSegment(ring[i-1], ring[i], pt) {
					return true
				}
			}
		}
	}
	return false
}

func onSegment(a, b, p orb.Point) bool {
	const eps = 1e-12
	cross := (b.X()-a.X())*(p.Y()-a.Y()) - (b.Y()-a.Y())*(p.X()-a.X())
	if cross > eps || cross < -eps {
		return false
	}
	return p.X() >= min(a.X(), b.X())-eps && p.X() <= max(a.X(), b.X())+eps &&
		p.Y() >= min(a.Y(), b.Y())-eps && p.Y() <= max(a.Y(), b.Y())+eps
}
