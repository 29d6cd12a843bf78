package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ActionCreateOrder      = "CREATE_ORDER"
	ActionImportOrders     = "IMPORT_ORDERS"
	ActionRollbackImport   = "ROLLBACK_IMPORT"
	ActionSetRate          = "SET_RATE"
	ActionRevertRate       = "REVERT_RATE"
	ActionSeedJurisdiction = "SEED_JURISDICTION"
	ActionCreateUser       = "CREATE_USER"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID     `gorm:"type:uuid;index" json:"user_id"` // Nullable for CLI / automated runs
	User       *User          `gorm:"foreignKey:UserID" json:"user"`
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string         `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string         `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}
