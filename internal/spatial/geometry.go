// Package spatial holds the geometry helpers shared by the seeding path and the in-process
// point-in-polygon index.
//
// Boundaries are simplified once at seed time with SimplifyTolerance. Points closer to a
// boundary than the tolerance can be attributed to the neighbouring jurisdiction; this is
// accepted for sales-tax purposes and disclosed here and in the API docs.
package spatial

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/simplify"
)

// SimplifyTolerance is the simplification tolerance in degrees (~55 m of latitude).
const SimplifyTolerance = 0.0005

// SRID of every stored geometry (WGS84).
const SRID = 4326

var ErrUnsupportedGeometry = errors.New("geometry must be a Polygon or MultiPolygon")

// AsMultiPolygon normalizes Polygon and MultiPolygon geometries.
func AsMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	switch g := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	case orb.MultiPolygon:
		return g, nil
	default:
		return nil, fmt.Errorf("%w, got %T", ErrUnsupportedGeometry, g)
	}
}

// ParseWKT accepts WKT or EWKT ("SRID=4326;...").
func ParseWKT(s string) (orb.MultiPolygon, error) {
	if i := strings.Index(s, ";"); i >= 0 && strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		s = s[i+1:]
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	return AsMultiPolygon(g)
}

// EWKT renders mp with the SRID prefix PostGIS expects.
func EWKT(mp orb.MultiPolygon) string {
	return fmt.Sprintf("SRID=%d;%s", SRID, wkt.MarshalString(mp))
}

// Simplify applies Douglas-Peucker with the given tolerance. PostGIS uses
// ST_SimplifyPreserveTopology instead; this is the in-process equivalent for the memory store.
func Simplify(mp orb.MultiPolygon, tolerance float64) orb.MultiPolygon {
	out, err := AsMultiPolygon(simplify.DouglasPeucker(tolerance).Simplify(mp.Clone()))
	if err != nil {
		return mp
	}
	return out
}
