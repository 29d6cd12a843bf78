package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"nytax/internal/archive"
	"nytax/internal/fixture"
	"nytax/internal/model"
	"nytax/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersCSV = `lat,lon,subtotal,timestamp
40.7128,-74.0060,100.00,2024-06-01T12:00:00
40.65,-73.95,19.99,2024-06-01
34.05,-118.24,10.00,2024-06-01
abc,-74.0,10.00,
40.7128,-74.0060,1.005,2024-06-01
`

func importFilter(id string) []json.RawMessage {
	return []json.RawMessage{json.RawMessage(fmt.Sprintf(`{"type":"import","import_id":%q}`, id))}
}

func TestImportBatchStoresGoodRows(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	res, err := env.Services.Imports.ImportBatch(ctx, "orders.csv", []byte(ordersCSV), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.RowsTotal)
	assert.Equal(t, 2, res.RowsImported)
	assert.Equal(t, 3, res.RowsFailed)
	require.Len(t, res.RowErrors, 3)
	assert.Equal(t, []int{4, 5, 6}, []int{res.RowErrors[0].Row, res.RowErrors[1].Row, res.RowErrors[2].Row})
	assert.Contains(t, res.RowErrors[0].Error, "no state jurisdiction")
	assert.Contains(t, res.RowErrors[1].Error, "lat")
	assert.Contains(t, res.RowErrors[2].Error, "two decimal places")

	orders, total, err := env.Services.Orders.ListOrders(ctx, service.SearchOrdersRequest{Filters: importFilter(res.ImportID)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, o := range orders {
		assert.Equal(t, model.OrderSourceImport, o.Source)
		require.NotNil(t, o.ImportID)
		assert.Equal(t, res.ImportID, *o.ImportID)
	}

	totals, err := env.Services.Orders.Totals(ctx, service.TotalsRequest{Filters: importFilter(res.ImportID)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, totals.Count)
	assert.Equal(t, "119.99", totals.SubtotalSum.StringFixed(2))
	assert.Equal(t, "10.65", totals.TaxAmountSum.StringFixed(2))
	assert.Equal(t, "130.64", totals.TotalAmountSum.StringFixed(2))

	stored, ok := env.Archive.Get(archive.ImportKey(res.ContentHash))
	require.True(t, ok)
	assert.Equal(t, ordersCSV, string(stored))

	assert.Equal(t, []string{service.EventImportCompleted}, env.Events.Names())
	assert.Equal(t, 2.0, counter(t, env, "nytax_import_rows_total", "imported"))
	assert.Equal(t, 3.0, counter(t, env, "nytax_import_rows_total", "failed"))

	logs, _, err := env.Services.Audit.GetAuditLogs(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ActionImportOrders, logs[0].Action)
}

func TestImportBatchRejectsDuplicateContent(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	first, err := env.Services.Imports.ImportBatch(ctx, "orders.csv", []byte(ordersCSV), nil)
	require.NoError(t, err)

	_, err = env.Services.Imports.ImportBatch(ctx, "renamed.csv", []byte(ordersCSV), nil)
	require.ErrorIs(t, err, service.ErrDuplicateImport)
	var dup *service.DuplicateImportError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ImportID, dup.ExistingID.String())

	_, total, err := env.Services.Orders.ListOrders(ctx, service.SearchOrdersRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	imports, count, err := env.Services.Imports.ListImports(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, "orders.csv", imports[0].Filename)
}

func TestImportRollbackRemovesOrders(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	_, err := env.Services.Tax.CreateOrder(ctx, taxInput(fixture.Rural, "10.00", noon(t, "2024-06-01")), nil)
	require.NoError(t, err)
	res, err := env.Services.Imports.ImportBatch(ctx, "orders.csv", []byte(ordersCSV), nil)
	require.NoError(t, err)
	id := uuid.MustParse(res.ImportID)

	rb, err := env.Services.Imports.Rollback(ctx, id, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rb.OrdersRemoved)

	orders, total, err := env.Services.Orders.ListOrders(ctx, service.SearchOrdersRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "manual orders survive")
	assert.Equal(t, model.OrderSourceManual, orders[0].Source)

	_, err = env.Services.Imports.GetImport(ctx, id)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = env.Services.Imports.Rollback(ctx, id, nil)
	assert.ErrorIs(t, err, service.ErrNotFound)

	again, err := env.Services.Imports.ImportBatch(ctx, "orders.csv", []byte(ordersCSV), nil)
	require.NoError(t, err, "the same file can be imported again after a rollback")
	assert.NotEqual(t, res.ImportID, again.ImportID)

	assert.Equal(t, []string{
		service.EventOrderCreated,
		service.EventImportCompleted,
		service.EventImportRolledBack,
		service.EventImportCompleted,
	}, env.Events.Names())
}

func TestImportBatchRejectsBadFiles(t *testing.T) {
	env := fixture.New(t)
	ctx := context.Background()

	for name, body := range map[string]string{
		"empty":          "",
		"broken header":  "\"lat,lon\n",
		"missing column": "lat,lon,total\n40.7,-74.0,1.00\n",
		"repeated":       "lat,latitude,lon,subtotal\n1,1,1,1\n",
	} {
		_, err := env.Services.Imports.ImportBatch(ctx, "bad.csv", []byte(body), nil)
		assert.ErrorIs(t, err, service.ErrValidation, name)
	}

	imports, _, err := env.Services.Imports.ListImports(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, imports)
}

func TestImportBatchAcceptsHeaderAliases(t *testing.T) {
	env := fixture.New(t)
	body := "\xef\xbb\xbfLatitude, Longitude, Subtotal\n40.7128,-74.0060,100.00\n"

	res, err := env.Services.Imports.ImportBatch(context.Background(), "bom.csv", []byte(body), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsImported)
	assert.Empty(t, res.RowErrors)
}

func TestImportBatchCapsRowErrors(t *testing.T) {
	env := fixture.New(t)
	var b strings.Builder
	b.WriteString("lat,lon,subtotal\n")
	for i := 0; i < 150; i++ {
		b.WriteString("34.05,-118.24,1.00\n")
	}
	b.WriteString("40.7128,-74.0060,1.00\n")

	res, err := env.Services.Imports.ImportBatch(context.Background(), "la.csv", []byte(b.String()), nil)
	require.NoError(t, err)
	assert.Equal(t, 151, res.RowsTotal)
	assert.Equal(t, 1, res.RowsImported)
	assert.Equal(t, 150, res.RowsFailed)
	assert.Len(t, res.RowErrors, 100)
}
