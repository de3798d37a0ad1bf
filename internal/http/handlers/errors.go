// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., duplicate_slot, stale_cosign) come from the
//     service layer's rejection taxonomy, so a reason seen in a bulk failure or
//     an offline queue rejection is the same string seen in a direct API error.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Usage:
//   - Handlers translate service errors with failService(), which picks the HTTP
//     status from the error and reuses services.ReasonForError for the code.
//   - Clients are expected to branch on these codes for programmatic error handling.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "duplicate_slot",
//     "message": "dose already recorded for this schedule slot"
//   }

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/schedule"
	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeFlushInProgress  = "flush_in_progress"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// statusForError maps a service error to the HTTP status it should surface as.
// Anything unclassified is a server-side failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrRegimenNotFound),
		errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrCoSignNotFound),
		errors.Is(err, services.ErrInventoryNotFound):
		return http.StatusNotFound

	case errors.Is(err, services.ErrRegimenDiscontinued),
		errors.Is(err, services.ErrDuplicateSlot),
		errors.Is(err, services.ErrInventoryExpired),
		errors.Is(err, services.ErrInventoryMismatch),
		errors.Is(err, services.ErrInventoryExhausted),
		errors.Is(err, services.ErrStaleCoSign),
		errors.Is(err, services.ErrFlushInProgress):
		return http.StatusConflict

	case errors.Is(err, services.ErrSelfCoSign):
		return http.StatusForbidden

	case errors.Is(err, services.ErrMissingIdempotencyKey),
		errors.Is(err, services.ErrMissingCaregiver),
		errors.Is(err, services.ErrBadTimezone),
		errors.Is(err, services.ErrNoDoseTimes),
		errors.Is(err, services.ErrBadActionPayload),
		errors.Is(err, services.ErrUnknownActionKind),
		errors.Is(err, schedule.ErrBadClockTime):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// codeForError returns the stable machine-readable code for a service error.
func codeForError(err error) string {
	if errors.Is(err, services.ErrFlushInProgress) {
		return ErrCodeFlushInProgress
	}
	if errors.Is(err, schedule.ErrBadClockTime) {
		return ErrCodeBadRequest
	}
	return services.ReasonForError(err)
}

// failService translates a service error into the standard error envelope.
func failService(c *gin.Context, err error) {
	fail(c, statusForError(err), codeForError(err), err.Error())
}
