// Handler wiring and shared request helpers.
//
// This file defines the Handlers aggregate that groups every endpoint of the
// public API, plus the identity and pagination helpers the individual handler
// files share. Handlers are transport-thin: they validate input, call
// application services, and translate results into HTTP responses.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
	"github.com/kjanat/vet-med-tracker-sub009/internal/utils"
)

// Identity headers. Caregiver and household identify the author and scope of
// every API call; the device header scopes the offline sync queue.
const (
	HeaderCaregiverID = "X-Caregiver-ID"
	HeaderHouseholdID = "X-Household-ID"
	HeaderDeviceID    = "X-Device-ID"
)

// HeaderIdempotencyReplayed is set to "true" on responses served from a
// previously persisted record instead of a new insert.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// Handlers groups HTTP endpoints for regimens, administrations, co-signing,
// dose statuses, compliance, and the offline sync queue. Services are concrete
// structs; they carry no transport state and are safe for concurrent use.
type Handlers struct {
	Regimens   *services.RegimenService
	Recorder   *services.RecordingService
	CoSigner   *services.CoSignService
	Statuses   *services.DoseStatusService
	Compliance *services.ComplianceService
	Sync       *services.SyncService
	Sweeper    *services.Sweeper
}

// New constructs a Handlers instance bound to the given services.
func New(
	regimens *services.RegimenService,
	recorder *services.RecordingService,
	cosigner *services.CoSignService,
	statuses *services.DoseStatusService,
	compliance *services.ComplianceService,
	sync *services.SyncService,
	sweeper *services.Sweeper,
) *Handlers {
	return &Handlers{
		Regimens:   regimens,
		Recorder:   recorder,
		CoSigner:   cosigner,
		Statuses:   statuses,
		Compliance: compliance,
		Sync:       sync,
		Sweeper:    sweeper,
	}
}

// now returns the server clock, honoring the dose-status service's test seam.
func (h *Handlers) now() time.Time {
	if h.Statuses != nil && h.Statuses.Now != nil {
		return h.Statuses.Now().UTC()
	}
	return time.Now().UTC()
}

// caregiverID extracts the caregiver identity stashed by the identity
// middleware, falling back to the raw header (tests hit handlers directly).
func caregiverID(c *gin.Context) string {
	if v, ok := c.Get("caregiverID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader(HeaderCaregiverID))
	}
	return ""
}

// householdID extracts the household scope, same resolution order as
// caregiverID.
func householdID(c *gin.Context) string {
	if v, ok := c.Get("householdID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader(HeaderHouseholdID))
	}
	return ""
}

// deviceID extracts the sync device identity from header.
func deviceID(c *gin.Context) string {
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader(HeaderDeviceID))
	}
	return ""
}

// identity resolves caregiver and household or fails the request with 401.
// Returns ok=false after writing the error response.
func identity(c *gin.Context) (caregiver, household string, ok bool) {
	caregiver, household = caregiverID(c), householdID(c)
	if caregiver == "" || household == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "caregiver and household identity required")
		return "", "", false
	}
	return caregiver, household, true
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// timeRange parses the from/to RFC 3339 query parameters into a UTC interval.
// Defaults cover the last 7 days ending now. Returns ok=false after writing a
// 400 when a parameter is present but malformed or the interval is inverted.
func timeRange(c *gin.Context, now time.Time) (from, to time.Time, ok bool) {
	to = now.UTC()
	from = to.AddDate(0, 0, -7)

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must be RFC 3339")
			return from, to, false
		}
		from = t.UTC()
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be RFC 3339")
			return from, to, false
		}
		to = t.UTC()
	}
	if !from.Before(to) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must precede to")
		return from, to, false
	}
	return from, to, true
}
