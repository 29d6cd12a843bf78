package spatial

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one jurisdiction boundary read from a seed file.
type Feature struct {
	Code  string
	Name  string
	Type  string
	Shape orb.MultiPolygon
}

// ParseFeatureCollection reads a GeoJSON FeatureCollection whose features carry
// "code", "name" and "type" properties.
func ParseFeatureCollection(data []byte) ([]Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	out := make([]Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		code := strings.TrimSpace(f.Properties.MustString("code", ""))
		name := strings.TrimSpace(f.Properties.MustString("name", ""))
		kind := strings.ToLower(strings.TrimSpace(f.Properties.MustString("type", "")))
		if code == "" || name == "" || kind == "" {
			return nil, fmt.Errorf("feature %d: code, name and type properties are required", i)
		}
		shape, err := AsMultiPolygon(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, code, err)
		}
		out = append(out, Feature{Code: code, Name: name, Type: kind, Shape: shape})
	}
	return out, nil
}
