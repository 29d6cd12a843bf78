package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"nytax/internal/fixture"
	"nytax/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filters(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		out = append(out, json.RawMessage(r))
	}
	return out
}

func seedOrders(t *testing.T, env *fixture.Env) {
	t.Helper()
	ctx := context.Background()
	for _, o := range []struct {
		point    fixture.Point
		subtotal string
		at       time.Time
	}{
		{fixture.NYC, "100.00", time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)},
		{fixture.Brooklyn, "20.00", time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)}, // May 31 in New York
		{fixture.Albany, "250.00", time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)},    // still May 31 in New York
		{fixture.Rural, "5.00", time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC)},
	} {
		_, err := env.Services.Tax.CreateOrder(ctx, taxInput(o.point, o.subtotal, o.at), nil)
		require.NoError(t, err)
	}
}

func TestListOrdersFilters(t *testing.T) {
	env := fixture.New(t)
	seedOrders(t, env)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters []json.RawMessage
		want    int64
	}{
		{"no filters", nil, 4},
		{"bare end date covers the whole day", filters(`{"type":"date_range","from":"2024-05-01","to":"2024-05-31"}`), 2},
		{"open start", filters(`{"type":"date_range","to":"2024-03-31"}`), 1},
		{"subtotal range", filters(`{"type":"range","field":"subtotal","min":"20.00","max":"100.00"}`), 2},
		{"composite rate floor", filters(`{"type":"range","field":"composite_tax_rate","min":0.08}`), 2},
		{"text matches jurisdiction names", filters(`{"type":"text","query":"albany"}`), 1},
		{"source", filters(`{"type":"source","value":"import"}`), 0},
		{"conjunction", filters(`{"type":"source","value":"manual"}`, `{"type":"range","field":"total_amount","max":50}`), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := env.Services.Orders.ListOrders(ctx, service.SearchOrdersRequest{Filters: tt.filters})
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestListOrdersRejectsBadFilters(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	for _, raw := range []string{
		`{"type":"geo"}`,
		`{"field":"subtotal"}`,
		`{"type":"range","field":"latitude","min":1}`,
		`{"type":"range","field":"subtotal"}`,
		`{"type":"range","field":"subtotal","min":5,"max":1}`,
		`{"type":"text","query":"x","fuzzy":true}`,
		`{"type":"text","query":"  "}`,
		`{"type":"date_range","from":"2024-06-02","to":"2024-06-01"}`,
		`{"type":"date_range","from":"last week"}`,
		`{"type":"source","value":"api"}`,
		`{"type":"import","import_id":"nope"}`,
		`[1,2]`,
	} {
		_, _, err := env.Services.Orders.ListOrders(ctx, service.SearchOrdersRequest{Filters: filters(raw)})
		assert.ErrorIs(t, err, service.ErrValidation, raw)

		_, err = env.Services.Orders.Totals(ctx, service.TotalsRequest{Filters: filters(raw)})
		assert.ErrorIs(t, err, service.ErrValidation, raw)
	}
}

func TestOrderTotalsAndPaging(t *testing.T) {
	env := fixture.New(t)
	seedOrders(t, env)
	ctx := context.Background()

	totals, err := env.Services.Orders.Totals(ctx, service.TotalsRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, totals.Count)
	assert.Equal(t, "375.00", totals.SubtotalSum.StringFixed(2))
	assert.True(t, totals.SubtotalSum.Add(totals.TaxAmountSum).Equal(totals.TotalAmountSum))

	page, total, err := env.Services.Orders.ListOrders(ctx, service.SearchOrdersRequest{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, page, 1)

	got, err := env.Services.Orders.GetOrder(ctx, uuid.MustParse(page[0].ID))
	require.NoError(t, err)
	assert.Equal(t, page[0].TotalAmount, got.TotalAmount)

	_, err = env.Services.Orders.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}
