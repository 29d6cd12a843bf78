package model

import (
	"time"

	"github.com/google/uuid"
)

// Roles
const (
	RoleAdmin   = "admin"   // rate mutations, imports, rollbacks
	RoleAnalyst = "analyst" // read + compute
)

// User is an operator of the admin surface
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`   // bcrypt hash
	Role      string    `gorm:"type:varchar(50);not null" json:"role"` // admin, analyst
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
