package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order sources
const (
	OrderSourceManual = "manual"
	OrderSourceImport = "import"
)

// AppliedJurisdiction is the snapshot of one jurisdiction and the rate it contributed when the
// order was computed. Later rate changes never touch it.
type AppliedJurisdiction struct {
	ID   uuid.UUID       `json:"id"`
	Name string          `json:"name"`
	Type string          `json:"type"`
	Rate decimal.Decimal `json:"rate"`
}

// Order is an immutable tax computation record.
type Order struct {
	ID               uuid.UUID                                `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Latitude         float64                                  `gorm:"type:double precision;not null" json:"latitude"`
	Longitude        float64                                  `gorm:"type:double precision;not null" json:"longitude"`
	Subtotal         decimal.Decimal                          `gorm:"type:decimal(18,2);not null;index" json:"subtotal"`
	Timestamp        time.Time                                `gorm:"not null;index" json:"timestamp"`
	CompositeTaxRate decimal.Decimal                          `gorm:"type:decimal(9,6);not null;index" json:"composite_tax_rate"`
	StateRate        decimal.NullDecimal                      `gorm:"type:decimal(9,6)" json:"state_rate"`
	CountyRate       decimal.NullDecimal                      `gorm:"type:decimal(9,6)" json:"county_rate"`
	CityRate         decimal.NullDecimal                      `gorm:"type:decimal(9,6)" json:"city_rate"`
	SpecialRate      decimal.NullDecimal                      `gorm:"type:decimal(9,6)" json:"special_rate"`
	TaxAmount        decimal.Decimal                          `gorm:"type:decimal(18,2);not null" json:"tax_amount"`
	TotalAmount      decimal.Decimal                          `gorm:"type:decimal(18,2);not null;index" json:"total_amount"`
	Jurisdictions    datatypes.JSONSlice[AppliedJurisdiction] `gorm:"type:jsonb;not null" json:"jurisdictions"`
	ImportID         *uuid.UUID                               `gorm:"type:uuid;index" json:"import_id"` // nil for manual entry
	Import           *ImportLog                               `gorm:"foreignKey:ImportID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt        time.Time                                `gorm:"index" json:"created_at"`
}

// Source tells manually entered orders apart from imported ones.
func (o Order) Source() string {
	if o.ImportID != nil {
		return OrderSourceImport
	}
	return OrderSourceManual
}
