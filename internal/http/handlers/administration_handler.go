// Administration HTTP handlers.
//
// This file exposes REST endpoints for administration records:
//   - POST   /administrations            (record one dose, idempotent)
//   - POST   /administrations/bulk       (record one regimen across animals)
//   - GET    /administrations            (list, paginated, ETag support)
//   - PATCH  /administrations/{id}       (audited note edit)
//   - DELETE /administrations/{id}       (undo, soft delete)
//   - POST   /administrations/{id}/cosign (second-caregiver confirmation)
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/http/middleware"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

//
// DTOs
//

// RecordAdministrationRequest is the JSON payload for recording a single dose.
type RecordAdministrationRequest struct {
	// RegimenID identifies the medication schedule being answered.
	RegimenID string `json:"regimen_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// AnimalID identifies the animal the dose was given to.
	AnimalID string `json:"animal_id" binding:"required" example:"animal-1"`

	// ScheduledFor is the UTC occurrence this recording answers; omit for PRN.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty" example:"2025-06-10T08:00:00Z"`
	// ClientRecordedAt is the caller's clock at submission time (hint only).
	ClientRecordedAt *time.Time `json:"client_recorded_at,omitempty"`

	// IdempotencyKey deduplicates retries; the Idempotency-Key header wins
	// when both are present.
	IdempotencyKey string `json:"idempotency_key,omitempty" example:"rec-7f3a"`

	InventorySourceID *string `json:"inventory_source_id,omitempty"`
	AllowOverride     bool    `json:"allow_override,omitempty"`
	OverrideReason    string  `json:"override_reason,omitempty"`

	Notes string `json:"notes,omitempty"`
	// Skip marks an explicit decision not to give the dose.
	Skip bool `json:"skip,omitempty"`
}

// BulkAdministrationRequest is the JSON payload for a bulk recording: one
// regimen occurrence applied to several animals in one caregiver gesture.
type BulkAdministrationRequest struct {
	RegimenID string   `json:"regimen_id" binding:"required"`
	AnimalIDs []string `json:"animal_ids" binding:"required,min=1"`

	ScheduledFor     *time.Time `json:"scheduled_for,omitempty"`
	ClientRecordedAt *time.Time `json:"client_recorded_at,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`

	InventorySourceID *string `json:"inventory_source_id,omitempty"`
	AllowOverride     bool    `json:"allow_override,omitempty"`
	OverrideReason    string  `json:"override_reason,omitempty"`

	Notes string `json:"notes,omitempty"`
	Skip  bool   `json:"skip,omitempty"`
}

// EditAdministrationRequest is the JSON payload for an audited note edit.
type EditAdministrationRequest struct {
	Notes string `json:"notes" binding:"required,max=2000"`
}

// ListAdministrationsResponse wraps a page of records and pagination metadata.
type ListAdministrationsResponse struct {
	Administrations []domain.AdministrationRecord `json:"administrations"`
	Pagination      Pagination                    `json:"pagination"`
}

// idempotencyKey resolves the dedupe token for a recording request: the
// validated header wins, then the body field.
func idempotencyKey(c *gin.Context, bodyKey string) string {
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		return key
	}
	if h := strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey)); h != "" {
		return h
	}
	return strings.TrimSpace(bodyKey)
}

//
// Handlers
//

// RecordAdministration godoc
// @ID          recordAdministration
// @Summary     Record a dose
// @Description Records that a dose was given or explicitly skipped. Retries with the same Idempotency-Key return the original record with Idempotency-Replayed: true.
// @Tags        Administrations
// @Accept      json
// @Produce     json
//
// @Param       X-Caregiver-ID   header  string  true  "Caregiver ID"   example(cg-1)
// @Param       X-Household-ID   header  string  true  "Household ID"   example(hh-1)
// @Param       Idempotency-Key  header  string  false "Dedupe token for retries"
// @Param       body             body    handlers.RecordAdministrationRequest  true  "Recording payload"
//
// @Success     201  {object}  services.RecordResult
// @Success     200  {object}  services.RecordResult "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse "Regimen not found"
// @Failure     409  {object}  handlers.ErrorResponse "Slot conflict or regimen discontinued"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /administrations [post]
func (h *Handlers) RecordAdministration(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	var req RecordAdministrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.Recorder.Record(c.Request.Context(), services.RecordInput{
		RegimenID:         req.RegimenID,
		AnimalID:          req.AnimalID,
		HouseholdID:       household,
		CaregiverID:       caregiver,
		ScheduledFor:      req.ScheduledFor,
		ClientRecordedAt:  req.ClientRecordedAt,
		IdempotencyKey:    idempotencyKey(c, req.IdempotencyKey),
		InventorySourceID: req.InventorySourceID,
		AllowOverride:     req.AllowOverride,
		OverrideReason:    req.OverrideReason,
		Notes:             req.Notes,
		Skip:              req.Skip,
	})
	if err != nil {
		failService(c, err)
		return
	}

	if res.Replayed {
		c.Header(HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, res)
		return
	}
	ok(c, http.StatusCreated, res)
}

// RecordBulkAdministrations godoc
// @ID          recordBulkAdministrations
// @Summary     Record a dose for several animals
// @Description Fans one regimen occurrence out across animals. Each animal succeeds or fails independently; the summary reports exact counts. Retrying with the same key replays per-animal outcomes without new rows.
// @Tags        Administrations
// @Accept      json
// @Produce     json
//
// @Param       X-Caregiver-ID   header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID   header  string  true  "Household ID"  example(hh-1)
// @Param       Idempotency-Key  header  string  false "Dedupe token for retries"
// @Param       body             body    handlers.BulkAdministrationRequest  true  "Bulk payload"
//
// @Success     200  {object}  services.BulkResult
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /administrations/bulk [post]
func (h *Handlers) RecordBulkAdministrations(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	var req BulkAdministrationRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.AnimalIDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "regimen_id and at least one animal_id required")
		return
	}

	res, err := h.Recorder.RecordBulk(c.Request.Context(), services.BulkInput{
		HouseholdID:       household,
		RegimenID:         req.RegimenID,
		AnimalIDs:         req.AnimalIDs,
		CaregiverID:       caregiver,
		ScheduledFor:      req.ScheduledFor,
		ClientRecordedAt:  req.ClientRecordedAt,
		IdempotencyKey:    idempotencyKey(c, req.IdempotencyKey),
		InventorySourceID: req.InventorySourceID,
		AllowOverride:     req.AllowOverride,
		OverrideReason:    req.OverrideReason,
		Notes:             req.Notes,
		Skip:              req.Skip,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListAdministrations godoc
// @ID          listAdministrations
// @Summary     List administration records (paginated)
// @Description Returns a page of the household's records, most recent first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Administrations
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       If-None-Match   header  string  false "Return 304 if ETag matches"
// @Param       animal_id       query   string  false "Filter to one animal"
// @Param       page            query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size       query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListAdministrationsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /administrations [get]
func (h *Handlers) ListAdministrations(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()
	animalID := strings.TrimSpace(c.Query("animal_id"))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	count, maxTS, err := repo.AdministrationsStats(ctx, h.Recorder.DB, household, animalID)
	if err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"administrations:%s:%s:%d:%d"`, household, animalID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	total, err := repo.CountAdministrations(ctx, h.Recorder.DB, household, animalID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	items, err := repo.ListAdministrationsPage(ctx, h.Recorder.DB, household, animalID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListAdministrationsResponse{
		Administrations: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// EditAdministration godoc
// @ID          editAdministration
// @Summary     Edit a record's notes
// @Description Applies an audited note change. The record keeps who edited it and when.
// @Tags        Administrations
// @Accept      json
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       id              path    string  true  "Record ID (ULID)"
// @Param       body            body    handlers.EditAdministrationRequest  true  "New notes"
//
// @Success     200  {object} domain.AdministrationRecord
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Record not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /administrations/{id} [patch]
func (h *Handlers) EditAdministration(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	var req EditAdministrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notes required")
		return
	}

	rec, err := h.Recorder.Edit(c.Request.Context(), c.Param("id"), household, caregiver, req.Notes)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// UndoAdministration godoc
// @ID          undoAdministration
// @Summary     Undo a recording
// @Description Soft-deletes a record, freeing its schedule slot for re-recording. The row is preserved for audit.
// @Tags        Administrations
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       id              path    string  true  "Record ID (ULID)"
//
// @Success     204  {string} string "No Content"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Record not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /administrations/{id} [delete]
func (h *Handlers) UndoAdministration(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	if err := h.Recorder.Undo(c.Request.Context(), c.Param("id"), household, caregiver); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// ConfirmCoSign godoc
// @ID          confirmCoSign
// @Summary     Co-sign a high-risk administration
// @Description Applies the second caregiver's signature. Must come from a different caregiver than the requester, before the request expires. Exactly one confirmation can ever succeed.
// @Tags        CoSign
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Confirming caregiver ID"  example(cg-2)
// @Param       X-Household-ID  header  string  true  "Household ID"             example(hh-1)
// @Param       id              path    string  true  "Administration record ID"
//
// @Success     200  {object} domain.AdministrationRecord
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     403  {object} handlers.ErrorResponse "Self co-sign"
// @Failure     404  {object} handlers.ErrorResponse "Record or request not found"
// @Failure     409  {object} handlers.ErrorResponse "Expired or already resolved"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /administrations/{id}/cosign [post]
func (h *Handlers) ConfirmCoSign(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	rec, err := h.CoSigner.Confirm(c.Request.Context(), c.Param("id"), household, caregiver)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}
