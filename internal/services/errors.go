// Package services defines the business logic for recording medication
// administrations, the two-person co-sign protocol, the offline sync queue,
// and compliance aggregation. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"strings"
)

// Regimen and recording errors.
var (
	// ErrRegimenNotFound indicates that the requested regimen does not exist or
	// is not accessible to the current household.
	ErrRegimenNotFound = errors.New("regimen not found")

	// ErrRegimenDiscontinued is returned when a recording targets a regimen
	// that has been soft-discontinued since the request was composed.
	ErrRegimenDiscontinued = errors.New("regimen discontinued")

	// ErrRecordNotFound indicates that the requested administration record does
	// not exist or is not accessible to the current household.
	ErrRecordNotFound = errors.New("administration record not found")

	// ErrDuplicateSlot is returned when a non-PRN schedule slot already has a
	// non-deleted administration record under a different idempotency key.
	ErrDuplicateSlot = errors.New("dose already recorded for this schedule slot")

	// ErrMissingIdempotencyKey is returned when a recording request carries no
	// idempotency key. Keys are mandatory: they are the at-most-once boundary.
	ErrMissingIdempotencyKey = errors.New("idempotency key required")

	// ErrMissingCaregiver is returned when a request carries no caregiver
	// identity.
	ErrMissingCaregiver = errors.New("caregiver id required")

	// ErrBadTimezone is returned when a regimen names a timezone the IANA
	// database does not know.
	ErrBadTimezone = errors.New("unknown timezone")

	// ErrNoDoseTimes is returned when a fixed-time regimen is created without
	// any local dose times. PRN regimens carry none by definition.
	ErrNoDoseTimes = errors.New("fixed-time regimen needs at least one dose time")
)

// Inventory validation errors.
var (
	// ErrInventoryNotFound indicates the referenced inventory source does not
	// exist in the household.
	ErrInventoryNotFound = errors.New("inventory source not found")

	// ErrInventoryExpired is returned when the inventory source is past its
	// expiry date and no override was requested.
	ErrInventoryExpired = errors.New("inventory source expired")

	// ErrInventoryMismatch is returned when the inventory source holds a
	// different medication than the regimen and no override was requested.
	ErrInventoryMismatch = errors.New("inventory medication does not match regimen")

	// ErrInventoryExhausted is returned when the inventory source has no units
	// remaining. Exhaustion cannot be overridden.
	ErrInventoryExhausted = errors.New("inventory source exhausted")
)

// Co-sign protocol errors.
var (
	// ErrStaleCoSign is returned when a confirmation races a concurrent
	// confirmation, arrives after the request expired, or targets an already
	// resolved request.
	ErrStaleCoSign = errors.New("co-sign request expired or already resolved")

	// ErrSelfCoSign is returned when the requesting caregiver attempts to
	// confirm their own administration. The second signature must come from a
	// different caregiver.
	ErrSelfCoSign = errors.New("co-sign must come from a different caregiver")

	// ErrCoSignNotFound indicates no co-sign request exists for the record.
	ErrCoSignNotFound = errors.New("co-sign request not found")
)

// Offline queue errors.
var (
	// ErrFlushInProgress is returned when a second flush is attempted while one
	// is already running for this process. The caller should await the first.
	ErrFlushInProgress = errors.New("flush already in progress")

	// ErrBadActionPayload is returned when a queued action's payload cannot be
	// decoded for its kind.
	ErrBadActionPayload = errors.New("queued action payload invalid")

	// ErrUnknownActionKind is returned when a queued action carries an
	// unrecognized kind.
	ErrUnknownActionKind = errors.New("unknown queued action kind")
)

// BulkApplyError carries the per-animal failures of a flushed bulk action.
// The queue never silently drops a dose: a bulk action with any failed animal
// surfaces as a rejection instead of counting as applied.
type BulkApplyError struct {
	Failures []BulkFailure
}

func (e *BulkApplyError) Error() string {
	return "bulk action failed for " + e.Reason()
}

// Reason renders the failures in the queue's rejection format, one
// "animalID:reason" pair per failed animal.
func (e *BulkApplyError) Reason() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.AnimalID + ":" + f.Reason
	}
	return strings.Join(parts, ";")
}

// permanent reports whether every per-animal failure is a classified
// rejection. An unclassified reason means storage trouble, so the action
// stays eligible for retry; succeeded animals replay through their keys.
func (e *BulkApplyError) permanent() bool {
	for _, f := range e.Failures {
		if f.Reason == "internal_error" {
			return false
		}
	}
	return len(e.Failures) > 0
}

// rejectionReasons maps service errors to the stable snake_case codes used in
// bulk per-animal failures and offline queue rejections.
var rejectionReasons = []struct {
	err    error
	reason string
}{
	{ErrRegimenNotFound, "regimen_not_found"},
	{ErrRegimenDiscontinued, "regimen_discontinued"},
	{ErrRecordNotFound, "record_not_found"},
	{ErrDuplicateSlot, "duplicate_slot"},
	{ErrMissingIdempotencyKey, "missing_idempotency_key"},
	{ErrMissingCaregiver, "missing_caregiver"},
	{ErrBadTimezone, "bad_timezone"},
	{ErrNoDoseTimes, "no_dose_times"},
	{ErrInventoryNotFound, "inventory_not_found"},
	{ErrInventoryExpired, "inventory_expired"},
	{ErrInventoryMismatch, "inventory_mismatch"},
	{ErrInventoryExhausted, "inventory_exhausted"},
	{ErrStaleCoSign, "stale_cosign"},
	{ErrSelfCoSign, "self_cosign"},
	{ErrCoSignNotFound, "cosign_not_found"},
	{ErrBadActionPayload, "bad_payload"},
	{ErrUnknownActionKind, "unknown_action_kind"},
}

// ReasonForError returns the stable rejection code for a service error, or
// "internal_error" for anything unclassified.
func ReasonForError(err error) string {
	var bulkErr *BulkApplyError
	if errors.As(err, &bulkErr) {
		return bulkErr.Reason()
	}
	for _, m := range rejectionReasons {
		if errors.Is(err, m.err) {
			return m.reason
		}
	}
	return "internal_error"
}

// IsPermanent reports whether an error is a terminal rejection that must not
// be retried (validation failures, conflicts, exhausted or expired inventory).
// Anything unclassified — typically storage or connectivity trouble — is
// considered transient and eligible for bounded backoff.
func IsPermanent(err error) bool {
	var bulkErr *BulkApplyError
	if errors.As(err, &bulkErr) {
		return bulkErr.permanent()
	}
	for _, m := range rejectionReasons {
		if errors.Is(err, m.err) {
			return true
		}
	}
	return false
}
