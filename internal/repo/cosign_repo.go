// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// CoSignRequest model. State transitions are compare-and-swap UPDATEs guarded
// by the current state, so only the first writer wins; losers observe zero
// affected rows.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// CreateCoSign inserts a co-sign request. The unique index on
// administration_id guarantees at most one request per record; a violation
// maps to ErrDuplicate.
func CreateCoSign(ctx context.Context, db *gorm.DB, req *domain.CoSignRequest) error {
	if err := db.WithContext(ctx).Create(req).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetCoSignByAdministration fetches the co-sign request attached to an
// administration record, or ErrNotFound.
func GetCoSignByAdministration(ctx context.Context, db *gorm.DB, administrationID string) (*domain.CoSignRequest, error) {
	var req domain.CoSignRequest
	err := db.WithContext(ctx).
		Where("administration_id = ?", administrationID).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ConfirmCoSign attempts the pending→confirmed transition. The UPDATE is
// guarded by state='pending' and the expiry instant, so under concurrent
// confirmations exactly one caller sees ok=true; everyone else gets a stale
// result.
func ConfirmCoSign(ctx context.Context, db *gorm.DB, id, confirmedBy string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CoSignRequest{}).
		Where("id = ? AND state = ? AND expires_at > ?", id, domain.CoSignPending, now).
		Updates(map[string]any{
			"state":        domain.CoSignConfirmed,
			"confirmed_by": confirmedBy,
			"confirmed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireCoSign attempts the pending→expired transition for one request.
// Returns whether this caller performed the transition.
func ExpireCoSign(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CoSignRequest{}).
		Where("id = ? AND state = ?", id, domain.CoSignPending).
		Update("state", domain.CoSignExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireLapsedCoSigns persists the expired state for every pending request
// whose window has elapsed. Safe to run from multiple sweepers concurrently;
// each row transitions exactly once. Returns the number of rows expired by
// this caller.
func ExpireLapsedCoSigns(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.CoSignRequest{}).
		Where("state = ? AND expires_at <= ?", domain.CoSignPending, now).
		Update("state", domain.CoSignExpired)
	return res.RowsAffected, res.Error
}

// ListPendingCoSigns returns a household's still-confirmable requests:
// state pending and not yet past expiry at now. Requests past expiry are
// treated as expired on read even before the sweeper persists the transition.
func ListPendingCoSigns(ctx context.Context, db *gorm.DB, householdID string, now time.Time) ([]domain.CoSignRequest, error) {
	var out []domain.CoSignRequest
	err := db.WithContext(ctx).
		Where("household_id = ? AND state = ? AND expires_at > ?", householdID, domain.CoSignPending, now).
		Order("expires_at asc").
		Find(&out).Error
	return out, err
}

// DeleteCoSignByAdministration removes the request attached to an undone
// administration record. Undo of the record makes its co-sign state moot.
func DeleteCoSignByAdministration(ctx context.Context, db *gorm.DB, administrationID string) error {
	return db.WithContext(ctx).
		Where("administration_id = ?", administrationID).
		Delete(&domain.CoSignRequest{}).Error
}
