// Regimen HTTP handlers.
//
// This file exposes REST endpoints for medication regimens:
//   - POST /regimens                   (create)
//   - GET  /regimens                   (list, discontinued included)
//   - GET  /regimens/{id}              (fetch one)
//   - POST /regimens/{id}/discontinue  (soft lifecycle end)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

// CreateRegimenRequest is the JSON payload for creating a regimen.
type CreateRegimenRequest struct {
	AnimalID string `json:"animal_id" binding:"required" example:"animal-1"`

	MedicationName string `json:"medication_name" binding:"required,max=255" example:"Amoxicillin"`
	Dose           string `json:"dose,omitempty" example:"250mg"`
	Route          string `json:"route,omitempty" example:"oral"`

	// TimesLocal is the comma-separated local dose times, e.g. "08:00,20:00".
	// Must be empty for PRN regimens and non-empty otherwise.
	TimesLocal string `json:"times_local,omitempty" example:"08:00,20:00"`
	// Timezone is the IANA zone the dose times are anchored in.
	Timezone string `json:"timezone,omitempty" example:"Europe/Berlin"`
	PRN      bool   `json:"prn,omitempty"`

	LateAfterMin     int `json:"late_after_min,omitempty"`
	VeryLateAfterMin int `json:"very_late_after_min,omitempty"`

	HighRisk       bool `json:"high_risk,omitempty"`
	RequiresCoSign bool `json:"requires_cosign,omitempty"`
}

// ListRegimensResponse wraps a household's regimens.
type ListRegimensResponse struct {
	Regimens []domain.Regimen `json:"regimens"`
}

// CreateRegimen godoc
// @ID          createRegimen
// @Summary     Create a regimen
// @Description Creates a medication schedule for one animal. Fixed-time regimens need at least one HH:MM dose time; PRN regimens carry none.
// @Tags        Regimens
// @Accept      json
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       body            body    handlers.CreateRegimenRequest  true  "Regimen payload"
//
// @Success     201  {object} domain.Regimen
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /regimens [post]
func (h *Handlers) CreateRegimen(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	var req CreateRegimenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "animal_id and medication_name required")
		return
	}

	reg, err := h.Regimens.Create(c.Request.Context(), services.CreateRegimenInput{
		HouseholdID:      household,
		AnimalID:         req.AnimalID,
		CaregiverID:      caregiver,
		MedicationName:   req.MedicationName,
		Dose:             req.Dose,
		Route:            req.Route,
		TimesLocal:       req.TimesLocal,
		Timezone:         req.Timezone,
		PRN:              req.PRN,
		LateAfterMin:     req.LateAfterMin,
		VeryLateAfterMin: req.VeryLateAfterMin,
		HighRisk:         req.HighRisk,
		RequiresCoSign:   req.RequiresCoSign,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, reg)
}

// ListRegimens godoc
// @ID          listRegimens
// @Summary     List the household's regimens
// @Description Returns every regimen of the household, discontinued ones included.
// @Tags        Regimens
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
//
// @Success     200  {object} handlers.ListRegimensResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /regimens [get]
func (h *Handlers) ListRegimens(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	regs, err := h.Regimens.List(c.Request.Context(), household)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if regs == nil {
		regs = []domain.Regimen{}
	}
	ok(c, http.StatusOK, ListRegimensResponse{Regimens: regs})
}

// GetRegimen godoc
// @ID          getRegimen
// @Summary     Fetch one regimen
// @Tags        Regimens
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       id              path    string  true  "Regimen ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Regimen
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Regimen not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /regimens/{id} [get]
func (h *Handlers) GetRegimen(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	reg, err := h.Regimens.Get(c.Request.Context(), c.Param("id"), household)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, reg)
}

// DiscontinueRegimen godoc
// @ID          discontinueRegimen
// @Summary     Discontinue a regimen
// @Description Soft-ends a regimen. Recorded administrations keep their linkage; occurrences after the discontinuation instant stop being resolved and new recordings are refused. Discontinuing twice is a conflict.
// @Tags        Regimens
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       id              path    string  true  "Regimen ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Regimen
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     404  {object} handlers.ErrorResponse "Regimen not found"
// @Failure     409  {object} handlers.ErrorResponse "Already discontinued"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /regimens/{id}/discontinue [post]
func (h *Handlers) DiscontinueRegimen(c *gin.Context) {
	caregiver, household, authed := identity(c)
	if !authed {
		return
	}
	reg, err := h.Regimens.Discontinue(c.Request.Context(), c.Param("id"), household, caregiver)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, reg)
}
