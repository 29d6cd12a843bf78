package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"wrapped record not found", fmt.Errorf("first: %w", gorm.ErrRecordNotFound), ErrNotFound},
		{"exclusion violation", &pgconn.PgError{Code: "23P01", ConstraintName: "rate_intervals_no_overlap"}, ErrOverlap},
		{"second head", &pgconn.PgError{Code: "23505", ConstraintName: "rate_intervals_single_head"}, ErrOverlap},
		{"wrapped second head", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "rate_intervals_single_head"}), ErrOverlap},
		{"duplicate content hash", &pgconn.PgError{Code: "23505", ConstraintName: "idx_import_logs_content_hash"}, ErrDuplicate},
		{"empty valid range", &pgconn.PgError{Code: "23514", ConstraintName: "rate_intervals_valid_range"}, ErrOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, translate(nil))
	})

	t.Run("other errors pass through", func(t *testing.T) {
		for _, err := range []error{
			plain,
			&pgconn.PgError{Code: "23514", ConstraintName: "orders_subtotal_non_negative"},
			&pgconn.PgError{Code: "23503", ConstraintName: "orders_import_id_fkey"},
		} {
			got := translate(err)
			assert.Same(t, err, got)
			assert.NotErrorIs(t, got, ErrOverlap)
			assert.NotErrorIs(t, got, ErrDuplicate)
			assert.NotErrorIs(t, got, ErrNotFound)
		}
	})
}
