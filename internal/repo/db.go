// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all tracker tables, including
// the unique indexes the recording pipeline and offline queue rely on.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Regimen{},
		&domain.AdministrationRecord{},
		&domain.CoSignRequest{},
		&domain.InventorySource{},
		&domain.QueuedAction{},
	); err != nil {
		return err
	}

	// Slot invariant: one non-deleted record per (regimen, animal, occurrence).
	// Partial indexes cannot be expressed with struct tags, so this one is
	// created by hand. PRN records carry no scheduled_for and stay out of it.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_administration_slot
		ON administration_records (regimen_id, animal_id, scheduled_for)
		WHERE deleted_at IS NULL AND scheduled_for IS NOT NULL`).Error
}
