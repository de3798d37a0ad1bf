// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the identity middleware. Session verification is an
// external collaborator; by the time a request reaches this service, upstream
// infrastructure has authenticated the caregiver and stamped the identity
// headers. The middleware only enforces their presence and stashes them in
// the Gin context for handlers and other middleware (rate limiting, logging).
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers expected on every API request.
const (
	HeaderCaregiverID = "X-Caregiver-ID"
	HeaderHouseholdID = "X-Household-ID"
	HeaderDeviceID    = "X-Device-ID"
)

// Context keys used to stash identity state.
const (
	ctxKeyCaregiverID = "caregiverID"
	ctxKeyHouseholdID = "householdID"
	ctxKeyDeviceID    = "deviceID"
)

// CaregiverFrom returns the caregiver identity stashed by RequireIdentity.
func CaregiverFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyCaregiverID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// HouseholdFrom returns the household scope stashed by RequireIdentity.
func HouseholdFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyHouseholdID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireIdentity rejects requests without caregiver and household identity
// headers with 401 and stashes the values for downstream consumers. The
// optional device header is stashed when present; the sync endpoints enforce
// it themselves.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		caregiver := strings.TrimSpace(c.GetHeader(HeaderCaregiverID))
		household := strings.TrimSpace(c.GetHeader(HeaderHouseholdID))
		if caregiver == "" || household == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "unauthorized",
				"message":    "caregiver and household identity required",
			})
			return
		}
		c.Set(ctxKeyCaregiverID, caregiver)
		c.Set(ctxKeyHouseholdID, household)
		if dev := strings.TrimSpace(c.GetHeader(HeaderDeviceID)); dev != "" {
			c.Set(ctxKeyDeviceID, dev)
		}
		c.Next()
	}
}
