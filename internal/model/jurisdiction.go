package model

import (
	"time"

	"github.com/google/uuid"
)

// JurisdictionType enum constants
const (
	JurisdictionState   = "state"
	JurisdictionCounty  = "county"
	JurisdictionCity    = "city"
	JurisdictionSpecial = "special"
)

// ValidJurisdictionType reports whether t is one of the four taxing levels.
func ValidJurisdictionType(t string) bool {
	switch t {
	case JurisdictionState, JurisdictionCounty, JurisdictionCity, JurisdictionSpecial:
		return true
	}
	return false
}

// Jurisdiction is a taxing authority with a boundary. Rows are seeded once and never edited,
// apart from the in-database geometry simplification applied at seed time.
type Jurisdiction struct {
	ID   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"` // e.g. FIPS "36047"
	Name string    `gorm:"type:varchar(255);not null;index" json:"name"`
	Type string    `gorm:"type:varchar(16);not null;index" json:"type"` // state, county, city, special

	// Geometry holds EWKT ("SRID=4326;MULTIPOLYGON(...)"). gorm neither reads nor writes it; the
	// jurisdiction repository inserts it with ST_GeomFromEWKT and reads it back with ST_AsText.
	Geometry string `gorm:"column:geom;type:geometry(MultiPolygon,4326);not null;->:false;<-:false" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
