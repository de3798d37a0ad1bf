// Dose status HTTP handler.
//
// This file exposes the derived dose-status feed:
//   - GET /dose-statuses (every occurrence in a range joined with records)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

// DoseStatusesResponse wraps the derived dose-status entries for a range.
type DoseStatusesResponse struct {
	Entries []services.DoseStatusEntry `json:"entries"`
}

// splitIDs parses a comma-separated id list query parameter.
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ListDoseStatuses godoc
// @ID          listDoseStatuses
// @Summary     List dose statuses for a range
// @Description Resolves every schedule occurrence of the requested animals' regimens over [from, to) and joins recorded facts onto them. Unrecorded occurrences get a live pending/due/missed classification; PRN administrations are appended. The listing is a pure recomputation and writes nothing.
// @Tags        DoseStatuses
// @Produce     json
//
// @Param       X-Caregiver-ID  header  string  true  "Caregiver ID"  example(cg-1)
// @Param       X-Household-ID  header  string  true  "Household ID"  example(hh-1)
// @Param       animal_ids      query   string  false "Comma-separated animal ids; empty covers the household"
// @Param       from            query   string  false "Range start (RFC 3339, default now-7d)"
// @Param       to              query   string  false "Range end (RFC 3339, default now)"
//
// @Success     200  {object} handlers.DoseStatusesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing identity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /dose-statuses [get]
func (h *Handlers) ListDoseStatuses(c *gin.Context) {
	_, household, authed := identity(c)
	if !authed {
		return
	}
	from, to, valid := timeRange(c, h.now())
	if !valid {
		return
	}

	entries, err := h.Statuses.List(c.Request.Context(), household, splitIDs(c.Query("animal_ids")), from, to)
	if err != nil {
		failService(c, err)
		return
	}
	if entries == nil {
		entries = []services.DoseStatusEntry{}
	}
	ok(c, http.StatusOK, DoseStatusesResponse{Entries: entries})
}
