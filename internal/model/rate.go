package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of rate dates.
const DateLayout = "2006-01-02"

// RateInterval is one SCD Type-2 row of a jurisdiction's rate timeline.
// [ValidFrom, ValidTo) with ValidTo == nil meaning the interval is the open head.
// Overlap is rejected by an exclusion constraint created in database.NewConnection.
type RateInterval struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	JurisdictionID uuid.UUID       `gorm:"type:uuid;not null;index" json:"jurisdiction_id"`
	Jurisdiction   *Jurisdiction   `gorm:"foreignKey:JurisdictionID;constraint:OnDelete:RESTRICT" json:"-"`
	Rate           decimal.Decimal `gorm:"type:decimal(9,6);not null" json:"rate"` // fraction, 0.04 = 4%
	ValidFrom      time.Time       `gorm:"type:date;not null;index" json:"valid_from"`
	ValidTo        *time.Time      `gorm:"type:date;index" json:"valid_to"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Contains reports whether day falls inside [ValidFrom, ValidTo).
func (r RateInterval) Contains(day time.Time) bool {
	if day.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || day.Before(*r.ValidTo)
}

// IsHead reports whether the interval is still open.
func (r RateInterval) IsHead() bool {
	return r.ValidTo == nil
}

// Mutation kinds
const (
	MutationSet    = "SET"
	MutationRevert = "REVERT"
)

// RateMutation is an append-only ledger entry. A SET records a rate change; a REVERT undoes the SET
// named by RevertsID. Rows are never updated or deleted.
type RateMutation struct {
	ID             uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Sequence       int64               `gorm:"autoIncrement;not null;uniqueIndex" json:"sequence"` // total order of the ledger
	JurisdictionID uuid.UUID           `gorm:"type:uuid;not null;index" json:"jurisdiction_id"`
	Kind           string              `gorm:"type:varchar(10);not null" json:"kind"`
	OldRate        decimal.NullDecimal `gorm:"type:decimal(9,6)" json:"old_rate"`
	NewRate        decimal.NullDecimal `gorm:"type:decimal(9,6)" json:"new_rate"`
	EffectiveDate  time.Time           `gorm:"type:date;not null" json:"effective_date"`
	RevertsID      *uuid.UUID          `gorm:"type:uuid;uniqueIndex" json:"reverts_id"` // a SET can be reverted once
	ActorID        *uuid.UUID          `gorm:"type:uuid" json:"actor_id"`
	CreatedAt      time.Time           `json:"created_at"`
}
