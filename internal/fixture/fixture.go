// Package fixture seeds an in-memory store with a small New York geography for tests.
package fixture

import (
	"context"
	"testing"
	"time"

	"nytax/internal/app"
	"nytax/internal/archive"
	"nytax/internal/metrics"
	"nytax/internal/repository/memory"
	"nytax/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// Points inside the fixture boundaries.
var (
	NYC         = Point{Lat: 40.7128, Lon: -74.0060} // New York County + New York City
	Brooklyn    = Point{Lat: 40.6500, Lon: -73.9500} // Kings County + New York City
	Albany      = Point{Lat: 42.6500, Lon: -73.7500} // Albany County (no rate) + special district
	Rural       = Point{Lat: 43.5000, Lon: -75.5000} // state only
	LosAngeles  = Point{Lat: 34.0500, Lon: -118.2400}
	StateBorder = Point{Lat: 45.1000, Lon: -75.0000} // on the state's northern edge
)

type Point struct {
	Lat float64
	Lon float64
}

// GeoJSON holds axis-aligned boxes standing in for real boundaries.
const GeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"code": "36", "name": "New York State", "type": "state"},
     "geometry": {"type": "Polygon", "coordinates": [[[-79.8,40.4],[-71.8,40.4],[-71.8,45.1],[-79.8,45.1],[-79.8,40.4]]]}},
    {"type": "Feature", "properties": {"code": "36061", "name": "New York County", "type": "county"},
     "geometry": {"type": "Polygon", "coordinates": [[[-74.03,40.69],[-73.90,40.69],[-73.90,40.88],[-74.03,40.88],[-74.03,40.69]]]}},
    {"type": "Feature", "properties": {"code": "36047", "name": "Kings County", "type": "county"},
     "geometry": {"type": "Polygon", "coordinates": [[[-74.05,40.55],[-73.83,40.55],[-73.83,40.685],[-74.05,40.685],[-74.05,40.55]]]}},
    {"type": "Feature", "properties": {"code": "3651000", "name": "New York City", "type": "city"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-74.26,40.49],[-73.70,40.49],[-73.70,40.92],[-74.26,40.92],[-74.26,40.49]]]]}},
    {"type": "Feature", "properties": {"code": "36001", "name": "Albany County", "type": "county"},
     "geometry": {"type": "Polygon", "coordinates": [[[-74.27,42.42],[-73.67,42.42],[-73.67,42.82],[-74.27,42.82],[-74.27,42.42]]]}},
    {"type": "Feature", "properties": {"code": "SPD-ALB", "name": "Albany Transit District", "type": "special"},
     "geometry": {"type": "Polygon", "coordinates": [[[-73.80,42.60],[-73.70,42.60],[-73.70,42.70],[-73.80,42.70],[-73.80,42.60]]]}}
  ]
}`

// Rates seeds every jurisdiction except Albany County, which stays without a rate.
const Rates = `rates:
  - code: "36"
    rate_percent: "4"
    effective_date: "2020-01-01"
  - code: "36061"
    rate_percent: "4"
    effective_date: "2020-01-01"
  - code: "36047"
    rate_percent: "4"
    effective_date: "2020-01-01"
  - code: "3651000"
    rate_percent: "0.875"
    effective_date: "2020-01-01"
  - code: "SPD-ALB"
    rate_percent: "0.375"
    effective_date: "2020-01-01"
`

// Env is a seeded store with every service wired to it.
type Env struct {
	Store    *memory.Store
	Services *app.Services
	Calendar service.Calendar
	Archive  *archive.Memory
	Registry *prometheus.Registry
	Events   *Recorder
	Log      *test.Hook
	IDs      map[string]uuid.UUID // jurisdiction id by code
}

// New seeds the fixture geography and rates.
func New(t testing.TB) *Env {
	t.Helper()
	env := Empty(t)
	ctx := context.Background()

	_, err := env.Services.Jurisdictions.SeedFromGeoJSON(ctx, []byte(GeoJSON), nil)
	require.NoError(t, err)
	_, err = env.Services.Jurisdictions.SeedRates(ctx, []byte(Rates), nil)
	require.NoError(t, err)

	all, err := env.Store.Jurisdictions().List(ctx, "")
	require.NoError(t, err)
	for _, j := range all {
		env.IDs[j.Code] = j.ID
	}
	env.Events.Reset()
	return env
}

// Empty wires the services to a store with no data.
func Empty(t testing.TB) *Env {
	t.Helper()
	calendar, err := service.LoadCalendar(service.DefaultTimezone)
	require.NoError(t, err)

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	store := memory.NewStore()
	registry := prometheus.NewRegistry()
	env := &Env{
		Store:    store,
		Calendar: calendar,
		Archive:  archive.NewMemory(),
		Registry: registry,
		Events:   &Recorder{},
		Log:      hook,
		IDs:      make(map[string]uuid.UUID),
	}
	env.Services = app.NewServices(Repositories(store), app.Options{
		Calendar:  calendar,
		Archiver:  env.Archive,
		Notifier:  env.Events,
		Metrics:   metrics.New(registry),
		JWTSecret: []byte("test-secret"),
		Workers:   4,
		Log:       log,
	})
	return env
}

// Repositories exposes a memory store through the app wiring.
func Repositories(store *memory.Store) app.Repositories {
	return app.Repositories{
		Jurisdictions: store.Jurisdictions(),
		Rates:         store.Rates(),
		Mutations:     store.Mutations(),
		Orders:        store.Orders(),
		Imports:       store.Imports(),
		Audit:         store.Audit(),
		Users:         store.Users(),
		Tx:            store.TxManager(),
	}
}

// ID returns the id of the jurisdiction with code.
func (e *Env) ID(t testing.TB, code string) uuid.UUID {
	t.Helper()
	id, ok := e.IDs[code]
	require.True(t, ok, "no jurisdiction %s in fixture", code)
	return id
}

// Day parses a YYYY-MM-DD date.
func Day(t testing.TB, s string) time.Time {
	t.Helper()
	d, err := service.ParseDate(s)
	require.NoError(t, err)
	return d
}
