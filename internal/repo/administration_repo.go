// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AdministrationRecord model, including the atomic unique-insert that backs
// the recording pipeline's at-most-once guarantee.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// ErrDuplicate indicates that a row with the same unique key already exists.
// The recording pipeline treats it as an idempotency replay and returns the
// previously persisted record instead of an error.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a unique-constraint violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateAdministration inserts a record and returns ErrDuplicate on a unique
// violation of either the idempotency key or the partial slot index. The
// insert is the atomic check: there is no read-then-write window, so
// concurrent retries with the same key collapse to a single row and
// concurrent writers cannot double-fill a schedule slot.
func CreateAdministration(ctx context.Context, db *gorm.DB, rec *domain.AdministrationRecord) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAdministrationByKey fetches the record persisted under an idempotency
// key, including soft-deleted rows (a replayed undo must still find its
// original). Returns ErrNotFound when no row exists.
func GetAdministrationByKey(ctx context.Context, db *gorm.DB, key string) (*domain.AdministrationRecord, error) {
	var rec domain.AdministrationRecord
	err := db.WithContext(ctx).Unscoped().
		Where("idempotency_key = ?", key).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAdministration fetches a non-deleted record by ID scoped to its
// household. Returns ErrNotFound when missing.
func GetAdministration(ctx context.Context, db *gorm.DB, id, householdID string) (*domain.AdministrationRecord, error) {
	var rec domain.AdministrationRecord
	err := db.WithContext(ctx).
		Where("id = ? AND household_id = ?", id, householdID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindBySlot returns the non-deleted record occupying a schedule slot
// (regimenID, animalID, scheduledAt), or ErrNotFound. At most one such row may
// exist; undone records do not count and free the slot for re-recording. The
// animal is part of the slot identity so a bulk recording can answer the same
// regimen occurrence once per animal.
func FindBySlot(ctx context.Context, db *gorm.DB, regimenID, animalID string, scheduledAt time.Time) (*domain.AdministrationRecord, error) {
	var rec domain.AdministrationRecord
	err := db.WithContext(ctx).
		Where("regimen_id = ? AND animal_id = ? AND scheduled_for = ?", regimenID, animalID, scheduledAt).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountAdministrations returns the number of non-deleted records for a
// household, optionally filtered to one animal.
func CountAdministrations(ctx context.Context, db *gorm.DB, householdID, animalID string) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.AdministrationRecord{}).
		Where("household_id = ?", householdID)
	if animalID != "" {
		q = q.Where("animal_id = ?", animalID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListAdministrationsPage returns a page of a household's non-deleted records,
// most recently recorded first, optionally filtered to one animal.
func ListAdministrationsPage(ctx context.Context, db *gorm.DB, householdID, animalID string, offset, limit int) ([]domain.AdministrationRecord, error) {
	q := db.WithContext(ctx).
		Where("household_id = ?", householdID)
	if animalID != "" {
		q = q.Where("animal_id = ?", animalID)
	}
	var out []domain.AdministrationRecord
	err := q.Order("recorded_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListAdministrationsForRegimens returns the non-deleted records of the given
// regimens whose schedule slot falls within [from, to), plus their PRN records
// recorded in the same window. Used to join recorded facts onto resolved
// occurrences.
func ListAdministrationsForRegimens(ctx context.Context, db *gorm.DB, regimenIDs []string, from, to time.Time) ([]domain.AdministrationRecord, error) {
	if len(regimenIDs) == 0 {
		return nil, nil
	}
	var out []domain.AdministrationRecord
	err := db.WithContext(ctx).
		Where("regimen_id IN ?", regimenIDs).
		Where(
			db.Where("scheduled_for >= ? AND scheduled_for < ?", from, to).
				Or("scheduled_for IS NULL AND recorded_at >= ? AND recorded_at < ?", from, to),
		).
		Order("recorded_at asc").
		Find(&out).Error
	return out, err
}

// ListRecentAdministrations returns a household's non-deleted records recorded
// at or after since, ordered oldest first. Feeds the double-dose suggestion
// heuristic.
func ListRecentAdministrations(ctx context.Context, db *gorm.DB, householdID string, since time.Time) ([]domain.AdministrationRecord, error) {
	var out []domain.AdministrationRecord
	err := db.WithContext(ctx).
		Where("household_id = ? AND recorded_at >= ?", householdID, since).
		Order("recorded_at asc").
		Find(&out).Error
	return out, err
}

// MarkAdministrationEdited applies an audited note edit: notes are replaced
// and the soft-edit markers stamped. Returns ErrNotFound when the record is
// missing or already deleted.
func MarkAdministrationEdited(ctx context.Context, db *gorm.DB, id, householdID, editedBy, notes string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.AdministrationRecord{}).
		Where("id = ? AND household_id = ?", id, householdID).
		Updates(map[string]any{
			"notes":     notes,
			"is_edited": true,
			"edited_by": editedBy,
			"edited_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteAdministration undoes a recording: it stamps deleted_by and sets
// the GORM soft-delete marker, preserving the row for audit. Returns
// ErrNotFound when the record is missing or already deleted.
func SoftDeleteAdministration(ctx context.Context, db *gorm.DB, id, householdID, deletedBy string) error {
	res := db.WithContext(ctx).
		Model(&domain.AdministrationRecord{}).
		Where("id = ? AND household_id = ?", id, householdID).
		Update("deleted_by", deletedBy)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.AdministrationRecord{}).Error
}

// ResolveCosignPending clears the cosign_pending flag after a successful
// second signature.
func ResolveCosignPending(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.AdministrationRecord{}).
		Where("id = ?", id).
		Update("cosign_pending", false).Error
}
