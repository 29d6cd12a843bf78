package database

import (
	"fmt"

	"nytax/internal/logger"
	"nytax/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Statements run after AutoMigrate. gorm has no vocabulary for exclusion constraints, partial
// indexes or GIST indexes, so they are issued as raw DDL. Every statement is idempotent.
var constraintDDL = []string{
	`CREATE INDEX IF NOT EXISTS jurisdictions_geom_gist ON jurisdictions USING GIST (geom)`,

	`DO $$ BEGIN
		ALTER TABLE rate_intervals ADD CONSTRAINT rate_intervals_valid_range
			CHECK (valid_to IS NULL OR valid_to > valid_from);
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`DO $$ BEGIN
		ALTER TABLE rate_intervals ADD CONSTRAINT rate_intervals_rate_range
			CHECK (rate >= 0 AND rate < 1);
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`DO $$ BEGIN
		ALTER TABLE rate_intervals ADD CONSTRAINT rate_intervals_no_overlap
			EXCLUDE USING gist (
				jurisdiction_id WITH =,
				daterange(valid_from, valid_to, '[)') WITH &&
			);
	EXCEPTION WHEN duplicate_object THEN NULL; END $$`,

	`CREATE UNIQUE INDEX IF NOT EXISTS rate_intervals_single_head
		ON rate_intervals (jurisdiction_id) WHERE valid_to IS NULL`,

	`CREATE INDEX IF NOT EXISTS orders_jurisdictions_gin ON orders USING GIN (jurisdictions jsonb_path_ops)`,
}

// NewConnection initializes a new connection pool using GORM and brings the schema up to date.
func NewConnection(dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.NewGorm(log)})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the extensions, tables and constraints the repositories rely on.
func Migrate(db *gorm.DB) error {
	for _, ext := range []string{"postgis", "btree_gist", "pgcrypto"} {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS " + ext).Error; err != nil {
			return fmt.Errorf("failed to create extension %s: %w", ext, err)
		}
	}

	err := db.AutoMigrate(
		&model.User{},
		&model.Jurisdiction{},
		&model.RateInterval{},
		&model.RateMutation{},
		&model.ImportLog{},
		&model.Order{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}

	for _, stmt := range constraintDDL {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to apply constraint ddl: %w", err)
		}
	}
	return nil
}
