// Sweeper status HTTP handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SweeperStatus godoc
// @ID          sweeperStatus
// @Summary     Background sweeper status
// @Description Reports whether the sweeper loop is running, when it last swept, and its last error. Read-only; querying never triggers a sweep.
// @Tags        Sweeper
// @Produce     json
//
// @Success     200  {object} services.SweeperStatus
// @Router      /sweeper/status [get]
func (h *Handlers) SweeperStatus(c *gin.Context) {
	ok(c, http.StatusOK, h.Sweeper.Status())
}
