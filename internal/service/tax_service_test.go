package service_test

import (
	"context"
	"testing"
	"time"

	"nytax/internal/fixture"
	"nytax/internal/model"
	"nytax/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taxInput(p fixture.Point, subtotal string, at time.Time) service.TaxInput {
	return service.TaxInput{Lat: p.Lat, Lon: p.Lon, Subtotal: decimal.RequireFromString(subtotal), Timestamp: at}
}

func TestComputeTaxComposite(t *testing.T) {
	env := fixture.New(t)
	at := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		point     fixture.Point
		subtotal  string
		composite string
		tax       string
		total     string
		county    *string
		city      *string
		special   *string
		applied   int
	}{
		{name: "manhattan", point: fixture.NYC, subtotal: "100.00", composite: "0.08875", tax: "8.88", total: "108.88",
			county: strp("0.04"), city: strp("0.00875"), applied: 3},
		{name: "brooklyn", point: fixture.Brooklyn, subtotal: "19.99", composite: "0.08875", tax: "1.77", total: "21.76",
			county: strp("0.04"), city: strp("0.00875"), applied: 3},
		{name: "county without rate", point: fixture.Albany, subtotal: "100.00", composite: "0.04375", tax: "4.38", total: "104.38",
			county: strp("0"), special: strp("0.00375"), applied: 3},
		{name: "state only", point: fixture.Rural, subtotal: "50.00", composite: "0.04", tax: "2.00", total: "52.00", applied: 1},
		{name: "on the state boundary", point: fixture.StateBorder, subtotal: "10.00", composite: "0.04", tax: "0.40", total: "10.40", applied: 1},
		{name: "zero subtotal", point: fixture.NYC, subtotal: "0", composite: "0.08875", tax: "0", total: "0",
			county: strp("0.04"), city: strp("0.00875"), applied: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.Services.Tax.ComputeTax(context.Background(), taxInput(tt.point, tt.subtotal, at))
			require.NoError(t, err)

			assert.Equal(t, tt.composite, res.CompositeTaxRate.String())
			assert.True(t, decimal.RequireFromString(tt.tax).Equal(res.TaxAmount), "tax %s", res.TaxAmount)
			assert.True(t, decimal.RequireFromString(tt.total).Equal(res.TotalAmount), "total %s", res.TotalAmount)
			assert.True(t, res.Subtotal.Add(res.TaxAmount).Equal(res.TotalAmount))

			require.True(t, res.Breakdown.State.Valid)
			assert.Equal(t, "0.04", res.Breakdown.State.Decimal.String())
			assertNullRate(t, tt.county, res.Breakdown.County, "county")
			assertNullRate(t, tt.city, res.Breakdown.City, "city")
			assertNullRate(t, tt.special, res.Breakdown.Special, "special")

			require.Len(t, res.Applied, tt.applied)
			assert.Equal(t, model.JurisdictionState, res.Applied[0].Type)
			sum := decimal.Zero
			for _, a := range res.Applied {
				sum = sum.Add(a.Rate)
			}
			assert.True(t, sum.Equal(res.CompositeTaxRate))
		})
	}
	assert.Equal(t, float64(len(tests)), counter(t, env, "nytax_tax_computations_total", "ok"))
}

func strp(s string) *string { return &s }

func assertNullRate(t *testing.T, want *string, got decimal.NullDecimal, what string) {
	t.Helper()
	if want == nil {
		assert.False(t, got.Valid, "%s should be unresolved", what)
		return
	}
	require.True(t, got.Valid, "%s should be resolved", what)
	assert.True(t, decimal.RequireFromString(*want).Equal(got.Decimal), "%s rate %s", what, got.Decimal)
}

func TestComputeTaxUsesRateOnTaxDate(t *testing.T) {
	env := fixture.New(t)
	setRate(t, env, env.ID(t, "36047"), "0.045", "2024-06-01")

	// 23:30 on May 31 in New York, already June 1 in UTC.
	before := time.Date(2024, 6, 1, 3, 30, 0, 0, time.UTC)
	res, err := env.Services.Tax.ComputeTax(context.Background(), taxInput(fixture.Brooklyn, "100.00", before))
	require.NoError(t, err)
	assert.Equal(t, "0.08875", res.CompositeTaxRate.String())

	after := time.Date(2024, 6, 1, 4, 30, 0, 0, time.UTC)
	res, err = env.Services.Tax.ComputeTax(context.Background(), taxInput(fixture.Brooklyn, "100.00", after))
	require.NoError(t, err)
	assert.Equal(t, "0.09375", res.CompositeTaxRate.String())
	assert.Equal(t, "9.38", res.TaxAmount.StringFixed(2))
}

func TestComputeTaxErrors(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)

	_, err := env.Services.Tax.ComputeTax(ctx, taxInput(fixture.LosAngeles, "100.00", at))
	assert.ErrorIs(t, err, service.ErrOutOfCoverage)

	_, err = env.Services.Tax.ComputeTax(ctx, taxInput(fixture.NYC, "10.005", at))
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = env.Services.Tax.ComputeTax(ctx, taxInput(fixture.NYC, "-1.00", at))
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = env.Services.Tax.ComputeTax(ctx, service.TaxInput{Lat: 91, Lon: 0, Subtotal: decimal.NewFromInt(1), Timestamp: at})
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = env.Services.Tax.ComputeTax(ctx, taxInput(fixture.NYC, "100.00", time.Date(2019, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, service.ErrNoEffectiveRate)

	assert.Equal(t, 1.0, counter(t, env, "nytax_tax_computations_total", "out_of_coverage"))
	assert.Equal(t, 3.0, counter(t, env, "nytax_tax_computations_total", "validation_error"))
	assert.Equal(t, 1.0, counter(t, env, "nytax_tax_computations_total", "no_effective_rate"))
}

func TestComputeTaxStateWithoutRate(t *testing.T) {
	env := fixture.Empty(t)
	_, err := env.Services.Jurisdictions.SeedFromGeoJSON(context.Background(), []byte(fixture.GeoJSON), nil)
	require.NoError(t, err)

	_, err = env.Services.Tax.ComputeTax(context.Background(), taxInput(fixture.Rural, "100.00", time.Now()))
	var nerr *service.NoEffectiveRateError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "New York State", nerr.Name)
}

func TestComputeTaxRequestInput(t *testing.T) {
	cal, err := service.LoadCalendar("")
	require.NoError(t, err)
	lat, lon := 40.7, -74.0
	sub := decimal.RequireFromString("12.50")

	in, err := service.ComputeTaxRequest{Lat: &lat, Lon: &lon, Subtotal: &sub, Timestamp: "2024-06-01T12:00:00"}.Input(cal)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC), in.Timestamp.UTC())

	in, err = service.ComputeTaxRequest{Lat: &lat, Lon: &lon, Subtotal: &sub}.Input(cal)
	require.NoError(t, err)
	assert.True(t, in.Timestamp.IsZero())

	_, err = service.ComputeTaxRequest{Lat: &lat, Subtotal: &sub}.Input(cal)
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = service.ComputeTaxRequest{Lat: &lat, Lon: &lon, Subtotal: &sub, Timestamp: "yesterday"}.Input(cal)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestCreateOrderPersistsAndAudits(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC)

	order, err := env.Services.Tax.CreateOrder(ctx, taxInput(fixture.NYC, "100.00", at), nil)
	require.NoError(t, err)
	assert.Equal(t, model.OrderSourceManual, order.Source())
	assert.Nil(t, order.ImportID)

	stored, err := env.Store.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.88", stored.TaxAmount.StringFixed(2))
	assert.Len(t, stored.Jurisdictions, 3)

	assert.Equal(t, []string{service.EventOrderCreated}, env.Events.Names())

	logs, _, err := env.Services.Audit.GetAuditLogs(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionCreateOrder, logs[0].Action)
	assert.Equal(t, order.ID.String(), logs[0].EntityID)
	assert.Equal(t, "System", logs[0].Username)

	_, err = env.Services.Tax.CreateOrder(ctx, taxInput(fixture.LosAngeles, "100.00", at), nil)
	require.ErrorIs(t, err, service.ErrOutOfCoverage)
	assert.Len(t, env.Events.Names(), 1, "failed orders publish nothing")
}
