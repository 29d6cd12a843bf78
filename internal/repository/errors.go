package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrOverlap is returned when a rate interval would overlap another interval of the same
	// jurisdiction, or a second open head would be created.
	ErrOverlap = errors.New("rate interval overlaps an existing interval")
	// ErrDuplicate is returned when a unique key (e.g. an import content hash) already exists.
	ErrDuplicate = errors.New("duplicate key")
)

// PostgreSQL SQLSTATE codes
const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
	pgCheckViolation     = "23514"
)

// Constraints whose unique violation means "a second head" rather than a plain duplicate.
const constraintSingleHead = "rate_intervals_single_head"

// translate maps driver errors to the repository sentinels so services never inspect gorm or pgx.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		switch pgErr.Code {
		case pgExclusionViolation:
			return errors.Join(ErrOverlap, err)
		case pgUniqueViolation:
			if pgErr.ConstraintName == constraintSingleHead {
				return errors.Join(ErrOverlap, err)
			}
			return errors.Join(ErrDuplicate, err)
		case pgCheckViolation:
			if pgErr.ConstraintName == "rate_intervals_valid_range" {
				return errors.Join(ErrOverlap, err)
			}
		}
	}
	return err
}
