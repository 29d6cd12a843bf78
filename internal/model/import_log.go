package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RowError describes why one CSV row was not imported.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportLog is the dedup and rollback handle of one uploaded file.
// Deleting it cascades to every Order carrying its id.
type ImportLog struct {
	ID           uuid.UUID                     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Filename     string                        `gorm:"type:varchar(255);not null" json:"filename"`
	ContentHash  string                        `gorm:"type:char(64);uniqueIndex;not null" json:"content_hash"` // SHA-256 hex of the raw bytes
	FileSize     int64                         `gorm:"not null" json:"file_size"`
	RowsTotal    int                           `gorm:"not null" json:"rows_total"`
	RowsImported int                           `gorm:"not null" json:"rows_imported"`
	RowsFailed   int                           `gorm:"not null" json:"rows_failed"`
	DurationMs   int64                         `gorm:"not null" json:"duration_ms"`
	RowErrors    datatypes.JSONSlice[RowError] `gorm:"type:jsonb" json:"row_errors"`
	ActorID      *uuid.UUID                    `gorm:"type:uuid" json:"actor_id"`
	CreatedAt    time.Time                     `gorm:"index" json:"created_at"`
}
