// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// InventorySource model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// CreateInventorySource inserts a stock record.
func CreateInventorySource(ctx context.Context, db *gorm.DB, src *domain.InventorySource) error {
	return db.WithContext(ctx).Create(src).Error
}

// GetInventorySource fetches a stock record by ID scoped to its household.
// Returns ErrNotFound when missing.
func GetInventorySource(ctx context.Context, db *gorm.DB, id, householdID string) (*domain.InventorySource, error) {
	var src domain.InventorySource
	err := db.WithContext(ctx).
		Where("id = ? AND household_id = ?", id, householdID).
		First(&src).Error
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// DecrementInventory atomically takes one unit from a stock record. The
// UPDATE is guarded by units_remaining > 0, so concurrent recordings can
// never drive the count negative; ok=false means the source is exhausted.
func DecrementInventory(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.InventorySource{}).
		Where("id = ? AND units_remaining > 0", id).
		Update("units_remaining", gorm.Expr("units_remaining - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
