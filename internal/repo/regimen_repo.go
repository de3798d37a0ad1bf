// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Regimen
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a regimen is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRegimen inserts a new regimen row. The caller supplies the ID
// (a UUID) and all schedule fields.
func CreateRegimen(ctx context.Context, db *gorm.DB, r *domain.Regimen) error {
	return db.WithContext(ctx).Create(r).Error
}

// GetRegimen fetches a regimen by ID scoped to its household. Returns
// ErrNotFound when missing.
func GetRegimen(ctx context.Context, db *gorm.DB, id, householdID string) (*domain.Regimen, error) {
	var r domain.Regimen
	err := db.WithContext(ctx).
		Where("id = ? AND household_id = ?", id, householdID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRegimens returns all regimens of a household, most recent first.
// Discontinued regimens are included; they stay visible for history views.
func ListRegimens(ctx context.Context, db *gorm.DB, householdID string) ([]domain.Regimen, error) {
	var out []domain.Regimen
	err := db.WithContext(ctx).
		Where("household_id = ?", householdID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListRegimensForAnimals returns the household's regimens for the given
// animals. An empty animalIDs slice matches the whole household.
func ListRegimensForAnimals(ctx context.Context, db *gorm.DB, householdID string, animalIDs []string) ([]domain.Regimen, error) {
	q := db.WithContext(ctx).Where("household_id = ?", householdID)
	if len(animalIDs) > 0 {
		q = q.Where("animal_id IN ?", animalIDs)
	}
	var out []domain.Regimen
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// ListSweepableFixedRegimens returns every non-PRN regimen that is still
// active or was discontinued after since. Used by the background sweeper to
// materialize missed doses: a dose whose cutoff elapsed before the regimen
// ended still needs a record, so discontinuation must not hide the regimen
// from the sweep window.
func ListSweepableFixedRegimens(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.Regimen, error) {
	var out []domain.Regimen
	err := db.WithContext(ctx).
		Where("prn = ? AND (discontinued_at IS NULL OR discontinued_at > ?)", false, since).
		Find(&out).Error
	return out, err
}

// DiscontinueRegimen soft-ends a regimen by stamping discontinued_at/by.
// Returns ErrNotFound when the regimen is missing or already discontinued.
func DiscontinueRegimen(ctx context.Context, db *gorm.DB, id, householdID, byCaregiver string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Regimen{}).
		Where("id = ? AND household_id = ? AND discontinued_at IS NULL", id, householdID).
		Updates(map[string]any{
			"discontinued_at": at,
			"discontinued_by": byCaregiver,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
