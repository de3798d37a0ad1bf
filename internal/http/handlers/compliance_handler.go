// Compliance HTTP handlers.
//
// This file exposes the adherence roll-ups:
//   - GET /compliance/animals/{id}  (one animal over a range)
//   - GET /compliance/household     (all of the household's animals)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AnimalCompliance godoc
// @ID          animalCompliance
// @Summary     Compliance summary for one animal
// @Description Folds the animal's dose statuses over [from, to) into scheduled/completed/missed counts, an adherence percentage, and the current no-missed-dose streak. Skipped doses never break the streak.
// @Tags        Compliance
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       id              path    string  true  "Animal ID"
// @Param       from            query   string  false "Range start (RFC 3339, default now-7d)"
// @Param       to              query   string  false "Range end (RFC 3339, default now)"
//
// @Success     200  {object} services.ComplianceSummary
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /compliance/animals/{id} [get]
func (h *Handlers) AnimalCompliance(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	from, to, valid := timeRange(c, h.now())
	if !valid {
		return
	}

	sum, err := h.Compliance.ForAnimal(c.Request.Context(), household, c.Param("id"), from, to)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

// HouseholdCompliance godoc
// @ID          householdCompliance
// @Summary     Compliance summary for the household
// @Description Folds every animal's dose statuses over [from, to) into one adherence summary. Streak day boundaries follow the household's regimen timezone.
// @Tags        Compliance
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       from            query   string  false "Range start (RFC 3339, default now-7d)"
// @Param       to              query   string  false "Range end (RFC 3339, default now)"
//
// @Success     200  {object} services.ComplianceSummary
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /compliance/household [get]
func (h *Handlers) HouseholdCompliance(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	from, to, valid := timeRange(c, h.now())
	if !valid {
		return
	}

	sum, err := h.Compliance.ForHousehold(c.Request.Context(), household, from, to)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}
