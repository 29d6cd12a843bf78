package service_test

import (
	"context"
	"testing"

	"nytax/internal/fixture"
	"nytax/internal/model"
	"nytax/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedFromGeoJSONIsIdempotent(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	res, err := env.Services.Jurisdictions.SeedFromGeoJSON(ctx, []byte(fixture.GeoJSON), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 6, res.Skipped)

	all, err := env.Services.Jurisdictions.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	counties, err := env.Services.Jurisdictions.List(ctx, model.JurisdictionCounty)
	require.NoError(t, err)
	assert.Len(t, counties, 3)

	_, err = env.Services.Jurisdictions.List(ctx, "borough")
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestSeedFromGeoJSONRejectsBadInput(t *testing.T) {
	env := fixture.Empty(t)
	ctx := context.Background()

	unknownType := `{"type":"FeatureCollection","features":[{"type":"Feature",
		"properties":{"code":"X","name":"X","type":"borough"},
		"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`
	for _, body := range []string{"not json", unknownType} {
		_, err := env.Services.Jurisdictions.SeedFromGeoJSON(ctx, []byte(body), nil)
		assert.ErrorIs(t, err, service.ErrValidation)
	}

	all, err := env.Services.Jurisdictions.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetJurisdiction(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	j, err := env.Services.Jurisdictions.Get(ctx, env.ID(t, "3651000"))
	require.NoError(t, err)
	assert.Equal(t, "New York City", j.Name)
	assert.Equal(t, model.JurisdictionCity, j.Type)

	_, err = env.Services.Jurisdictions.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}
