// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the offline
// action queue. Rows are keyed by an autoincrement sequence (replay order)
// and a unique idempotency key fixed at enqueue time.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// EnqueueAction appends an action to the device's durable queue. A repeated
// enqueue with the same idempotency key maps to ErrDuplicate so the caller
// can treat it as already queued.
func EnqueueAction(ctx context.Context, db *gorm.DB, a *domain.QueuedAction) error {
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetQueuedActionByKey returns the queued action stored under an idempotency
// key, or ErrNotFound.
func GetQueuedActionByKey(ctx context.Context, db *gorm.DB, key string) (*domain.QueuedAction, error) {
	var a domain.QueuedAction
	err := db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListPendingActions returns a device's unapplied actions in enqueue order.
// Sequence order preserves per-regimen submission order on replay.
func ListPendingActions(ctx context.Context, db *gorm.DB, deviceID string) ([]domain.QueuedAction, error) {
	var out []domain.QueuedAction
	err := db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, domain.QueuePending).
		Order("seq asc").
		Find(&out).Error
	return out, err
}

// ListActions returns all of a device's queued actions (pending and rejected)
// in enqueue order.
func ListActions(ctx context.Context, db *gorm.DB, deviceID string) ([]domain.QueuedAction, error) {
	var out []domain.QueuedAction
	err := db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("seq asc").
		Find(&out).Error
	return out, err
}

// DeleteAction removes an applied action from the queue.
func DeleteAction(ctx context.Context, db *gorm.DB, deviceID string, seq uint64) error {
	return db.WithContext(ctx).
		Where("device_id = ? AND seq = ?", deviceID, seq).
		Delete(&domain.QueuedAction{}).Error
}

// MarkActionRejected records a permanent rejection. The row stays in the
// queue so the caregiver can review the reason; it is removed only by an
// explicit acknowledgement.
func MarkActionRejected(ctx context.Context, db *gorm.DB, seq uint64, reason string, attempts int) error {
	return db.WithContext(ctx).
		Model(&domain.QueuedAction{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"status":        domain.QueueRejected,
			"reject_reason": reason,
			"attempts":      attempts,
		}).Error
}

// UpdateActionAttempts bumps the attempt counter after a transient failure.
func UpdateActionAttempts(ctx context.Context, db *gorm.DB, seq uint64, attempts int) error {
	return db.WithContext(ctx).
		Model(&domain.QueuedAction{}).
		Where("seq = ?", seq).
		Update("attempts", attempts).Error
}

// AckRejectedAction removes a rejected action after the caller has shown the
// rejection to the user. Returns ErrNotFound when no rejected row matches,
// so a pending action can never be acknowledged away by mistake.
func AckRejectedAction(ctx context.Context, db *gorm.DB, deviceID string, seq uint64) error {
	res := db.WithContext(ctx).
		Where("device_id = ? AND seq = ? AND status = ?", deviceID, seq, domain.QueueRejected).
		Delete(&domain.QueuedAction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
