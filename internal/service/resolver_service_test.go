package service_test

import (
	"context"
	"testing"

	"nytax/internal/fixture"
	"nytax/internal/model"
	"nytax/internal/service"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLocator []model.Jurisdiction

func (s stubLocator) FindContaining(context.Context, float64, float64) ([]model.Jurisdiction, error) {
	return append([]model.Jurisdiction(nil), s...), nil
}

func jurisdiction(id, name, typ string) model.Jurisdiction {
	return model.Jurisdiction{ID: uuid.MustParse(id), Code: name, Name: name, Type: typ}
}

func TestResolveLowestIDWinsTies(t *testing.T) {
	log, hook := test.NewNullLogger()
	resolver := service.NewResolverService(stubLocator{
		jurisdiction("00000000-0000-0000-0000-000000000009", "B County", model.JurisdictionCounty),
		jurisdiction("00000000-0000-0000-0000-000000000001", "State", model.JurisdictionState),
		jurisdiction("00000000-0000-0000-0000-000000000003", "A County", model.JurisdictionCounty),
		jurisdiction("00000000-0000-0000-0000-000000000005", "Transit", model.JurisdictionSpecial),
		jurisdiction("00000000-0000-0000-0000-000000000004", "Parks", model.JurisdictionSpecial),
	}, log)

	res, err := resolver.Resolve(context.Background(), 40, -74)
	require.NoError(t, err)
	require.NotNil(t, res.State)
	require.NotNil(t, res.County)
	assert.Equal(t, "A County", res.County.Name)
	assert.Nil(t, res.City)
	require.Len(t, res.Special, 2)
	assert.Equal(t, "Parks", res.Special[0].Name)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, model.JurisdictionCounty, entry.Data["type"])

	names := []string{}
	for _, j := range res.All() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{"State", "A County", "Parks", "Transit"}, names)
}

func TestResolveRejectsBadCoordinates(t *testing.T) {
	log, _ := test.NewNullLogger()
	resolver := service.NewResolverService(stubLocator{}, log)
	for _, p := range []fixture.Point{{Lat: 90.5, Lon: 0}, {Lat: 0, Lon: -180.1}} {
		_, err := resolver.Resolve(context.Background(), p.Lat, p.Lon)
		assert.ErrorIs(t, err, service.ErrValidation)
	}
	res, err := resolver.Resolve(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Nil(t, res.State)
}

func TestShapeLocatorMatchesStore(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	locator, err := service.LoadShapeLocator(ctx, env.Store.Jurisdictions())
	require.NoError(t, err)
	assert.Equal(t, 6, locator.Len())

	log, _ := test.NewNullLogger()
	inMemory := service.NewResolverService(locator, log)

	points := map[string]fixture.Point{
		"nyc": fixture.NYC, "brooklyn": fixture.Brooklyn, "albany": fixture.Albany,
		"rural": fixture.Rural, "la": fixture.LosAngeles, "border": fixture.StateBorder,
	}
	for name, p := range points {
		want, err := env.Services.Resolver.Resolve(ctx, p.Lat, p.Lon)
		require.NoError(t, err, name)
		got, err := inMemory.Resolve(ctx, p.Lat, p.Lon)
		require.NoError(t, err, name)
		assert.Equal(t, service.NewResolutionResponse(want), service.NewResolutionResponse(got), name)
	}

	res, err := inMemory.Resolve(ctx, fixture.Brooklyn.Lat, fixture.Brooklyn.Lon)
	require.NoError(t, err)
	assert.Equal(t, "Kings County", res.County.Name)
	assert.Equal(t, "New York City", res.City.Name)
	assert.Empty(t, res.Special)
}

func TestShapeLocatorReloadSeesNewJurisdictions(t *testing.T) {
	env := fixture.Empty(t)
	ctx := context.Background()
	locator, err := service.LoadShapeLocator(ctx, env.Store.Jurisdictions())
	require.NoError(t, err)
	assert.Equal(t, 0, locator.Len())

	_, err = env.Services.Jurisdictions.SeedFromGeoJSON(ctx, []byte(fixture.GeoJSON), nil)
	require.NoError(t, err)

	found, err := locator.FindContaining(ctx, fixture.Brooklyn.Lat, fixture.Brooklyn.Lon)
	require.NoError(t, err)
	assert.Empty(t, found, "snapshot predates the seed")

	require.NoError(t, locator.Reload(ctx, env.Store.Jurisdictions()))
	assert.Equal(t, 6, locator.Len())

	found, err = locator.FindContaining(ctx, fixture.Brooklyn.Lat, fixture.Brooklyn.Lon)
	require.NoError(t, err)
	names := make([]string, 0, len(found))
	for _, j := range found {
		names = append(names, j.Name)
	}
	assert.Contains(t, names, "Kings County")
}
