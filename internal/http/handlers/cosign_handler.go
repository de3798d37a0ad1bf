// Co-sign HTTP handlers.
//
// This file exposes the read side of the two-person confirmation protocol:
//   - GET /cosign/pending      (requests still awaiting a second signature)
//   - GET /cosign/suggestions  (implicit double-dose situations worth flagging)
//
// Confirmation itself lives on the administration resource
// (POST /administrations/{id}/cosign).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

// PendingCoSignsResponse wraps the household's still-confirmable requests.
type PendingCoSignsResponse struct {
	Pending []domain.CoSignRequest `json:"pending"`
}

// CoSignSuggestionsResponse wraps the double-dose suggestion feed.
type CoSignSuggestionsResponse struct {
	Suggestions []services.DoubleDoseSuggestion `json:"suggestions"`
}

// ListPendingCoSigns godoc
// @ID          listPendingCoSigns
// @Summary     List pending co-sign requests
// @Description Returns the household's co-sign requests that are still confirmable. Lapsed requests are excluded even before the sweeper persists their expiry.
// @Tags        CoSign
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
//
// @Success     200  {object} handlers.PendingCoSignsResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /cosign/pending [get]
func (h *Handlers) ListPendingCoSigns(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	pending, err := h.CoSigner.ListPending(c.Request.Context(), household)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if pending == nil {
		pending = []domain.CoSignRequest{}
	}
	ok(c, http.StatusOK, PendingCoSignsResponse{Pending: pending})
}

// CoSignSuggestions godoc
// @ID          coSignSuggestions
// @Summary     Suggest regimens worth co-signing
// @Description Scans the last day of administrations for regimens that received doses from two caregivers within a short window without a high-risk flag. Read-only; never mutates regimen flags.
// @Tags        CoSign
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
//
// @Success     200  {object} handlers.CoSignSuggestionsResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /cosign/suggestions [get]
func (h *Handlers) CoSignSuggestions(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	suggestions, err := h.CoSigner.Suggestions(c.Request.Context(), household)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []services.DoubleDoseSuggestion{}
	}
	ok(c, http.StatusOK, CoSignSuggestionsResponse{Suggestions: suggestions})
}
