package repository

import (
	"context"
	"testing"
	"time"

	"nytax/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type capturedQuery struct {
	SQL  string
	Vars []interface{}
}

// dryRunDB builds SQL against the postgres dialect without a server and records every SELECT.
func dryRunDB(t *testing.T) (*gorm.DB, *[]capturedQuery) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=nytax dbname=nytax sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)

	var queries []capturedQuery
	err = db.Callback().Query().After("gorm:query").Register("test:capture", func(tx *gorm.DB) {
		queries = append(queries, capturedQuery{
			SQL:  tx.Statement.SQL.String(),
			Vars: append([]interface{}(nil), tx.Statement.Vars...),
		})
	})
	require.NoError(t, err)
	return db, &queries
}

func lastQuery(t *testing.T, queries *[]capturedQuery) capturedQuery {
	t.Helper()
	require.NotEmpty(t, *queries)
	return (*queries)[len(*queries)-1]
}

func TestFindEffectiveSQL(t *testing.T) {
	db, queries := dryRunDB(t)
	repo := NewRateRepository(db)
	id := uuid.New()

	_, err := repo.FindEffective(context.Background(), id, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	q := lastQuery(t, queries)
	assert.Contains(t, q.SQL, `FROM "rate_intervals"`)
	assert.Contains(t, q.SQL, "jurisdiction_id = $1")
	assert.Contains(t, q.SQL, "valid_from <= $2::date")
	assert.Contains(t, q.SQL, "(valid_to IS NULL OR valid_to > $3::date)")
	assert.Contains(t, q.SQL, "ORDER BY valid_from DESC")
	assert.Contains(t, q.SQL, "LIMIT")
	require.GreaterOrEqual(t, len(q.Vars), 3)
	assert.Equal(t, []interface{}{id, "2024-06-01", "2024-06-01"}, q.Vars[:3])
}

func TestFindHeadSQL(t *testing.T) {
	db, queries := dryRunDB(t)
	id := uuid.New()

	_, _ = NewRateRepository(db).FindHead(context.Background(), id)

	q := lastQuery(t, queries)
	assert.Contains(t, q.SQL, "jurisdiction_id = $1 AND valid_to IS NULL")
	assert.Equal(t, id, q.Vars[0])
}

func TestOrderPredicateSQL(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	low := decimal.RequireFromString("10")
	high := decimal.RequireFromString("99.99")
	importID := uuid.New()

	tests := []struct {
		name      string
		predicate OrderPredicate
		fragments []string
		vars      []interface{}
	}{
		{
			name:      "date range",
			predicate: DateRangePredicate{From: &from, To: &to},
			fragments: []string{"timestamp >= $1", "timestamp <= $2"},
			vars:      []interface{}{from, to},
		},
		{
			name:      "open date range",
			predicate: DateRangePredicate{To: &to},
			fragments: []string{"timestamp <= $1"},
			vars:      []interface{}{to},
		},
		{
			name:      "numeric range",
			predicate: RangePredicate{Field: FieldSubtotal, Min: &low, Max: &high},
			fragments: []string{"subtotal >= $1", "subtotal <= $2"},
			vars:      []interface{}{low, high},
		},
		{
			name:      "open upward range",
			predicate: RangePredicate{Field: FieldCompositeTaxRate, Min: &low},
			fragments: []string{"composite_tax_rate >= $1"},
			vars:      []interface{}{low},
		},
		{
			name:      "text escapes like wildcards",
			predicate: TextPredicate{Query: `50%_off\`},
			fragments: []string{
				"CAST(id AS TEXT) ILIKE $1",
				"jsonb_array_elements(jurisdictions) j WHERE j->>'name' ILIKE $2",
			},
			vars: []interface{}{`%50\%\_off\\%`, `%50\%\_off\\%`},
		},
		{
			name:      "manual source",
			predicate: SourcePredicate{Source: model.OrderSourceManual},
			fragments: []string{"import_id IS NULL"},
		},
		{
			name:      "import source",
			predicate: SourcePredicate{Source: model.OrderSourceImport},
			fragments: []string{"import_id IS NOT NULL"},
		},
		{
			name:      "one import",
			predicate: ImportPredicate{ImportID: importID},
			fragments: []string{"import_id = $1"},
			vars:      []interface{}{importID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, queries := dryRunDB(t)
			_, _, err := NewOrderRepository(db).List(context.Background(), OrderQuery{
				Predicates: []OrderPredicate{tt.predicate},
				Page:       2,
				Limit:      20,
			})
			require.NoError(t, err)
			require.Len(t, *queries, 2, "count then fetch")

			count, fetch := (*queries)[0], (*queries)[1]
			assert.Contains(t, count.SQL, "count(*)")
			assert.Contains(t, fetch.SQL, "ORDER BY timestamp DESC, id DESC")
			for _, q := range []capturedQuery{count, fetch} {
				assert.Contains(t, q.SQL, `FROM "orders"`)
				for _, f := range tt.fragments {
					assert.Contains(t, q.SQL, f)
				}
				if tt.vars != nil {
					require.GreaterOrEqual(t, len(q.Vars), len(tt.vars))
					assert.Equal(t, tt.vars, q.Vars[:len(tt.vars)])
				}
			}
		})
	}
}

func TestOrderPredicatesConjoin(t *testing.T) {
	db, queries := dryRunDB(t)
	low := decimal.RequireFromString("5")
	_, _, err := NewOrderRepository(db).List(context.Background(), OrderQuery{
		Predicates: []OrderPredicate{
			SourcePredicate{Source: model.OrderSourceImport},
			RangePredicate{Field: FieldTaxAmount, Min: &low},
		},
		Page:  1,
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Contains(t, lastQuery(t, queries).SQL, "import_id IS NOT NULL AND tax_amount >= $1")
}

func TestOrderPredicatesRejectUnknown(t *testing.T) {
	db, queries := dryRunDB(t)
	repo := NewOrderRepository(db)

	_, _, err := repo.List(context.Background(), OrderQuery{
		Predicates: []OrderPredicate{RangePredicate{Field: "subtotal; DROP TABLE orders"}},
		Page:       1,
		Limit:      10,
	})
	assert.ErrorContains(t, err, "unsupported range field")

	_, err = repo.Totals(context.Background(), []OrderPredicate{SourcePredicate{Source: "api"}})
	assert.ErrorContains(t, err, "unsupported source")
	assert.Empty(t, *queries)
}
