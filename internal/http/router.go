// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/kjanat/vet-med-tracker-sub009/internal/config"
	"github.com/kjanat/vet-med-tracker-sub009/internal/http/handlers"
	"github.com/kjanat/vet-med-tracker-sub009/internal/http/middleware"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter and gzip
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per caregiver/IP, bypass on replay)
//  9. CORS and Security headers
//
// The identity middleware runs on the API group only: health, metrics, and
// swagger stay reachable without caregiver headers.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) *services.Sweeper {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			middleware.HeaderCaregiverID,
			middleware.HeaderHouseholdID,
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting). The lookup consults
	// the administration records' unique key index, so a replayed recording
	// bypasses the rate limiter.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, _, key string, _ time.Time) (bool, error) {
			if _, err := repo.GetAdministrationByKey(ctx, db, key); err != nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per caregiver/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCaregiverOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderCaregiverID,
		middleware.HeaderHouseholdID,
		middleware.HeaderDeviceID,
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderIdempotencyReplayed},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderIdempotencyReplayed},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (flag-gated)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/config
	regimenSvc := &services.RegimenService{
		DB:              db,
		DefaultTimezone: cfg.DefaultTimezone,
	}
	recorder := &services.RecordingService{
		DB:                   db,
		CoSignWindow:         cfg.CoSignWindow,
		DefaultLateAfter:     cfg.DefaultLateAfter,
		DefaultVeryLateAfter: cfg.DefaultVeryLateAfter,
	}
	cosigner := &services.CoSignService{
		DB:               db,
		SuggestionWindow: cfg.SuggestionWindow,
	}
	statusSvc := &services.DoseStatusService{
		DB:                   db,
		DefaultLateAfter:     cfg.DefaultLateAfter,
		DefaultVeryLateAfter: cfg.DefaultVeryLateAfter,
	}
	complianceSvc := &services.ComplianceService{
		DB:              db,
		Statuses:        statusSvc,
		DefaultTimezone: cfg.DefaultTimezone,
	}
	syncSvc := &services.SyncService{
		DB:          db,
		Recorder:    recorder,
		CoSigner:    cosigner,
		MaxAttempts: cfg.FlushMaxAttempts,
		BaseBackoff: cfg.FlushBaseBackoff,
	}
	sweeper := &services.Sweeper{
		DB:       db,
		Recorder: recorder,
		Interval: cfg.SweepInterval,
		Lookback: cfg.SweepLookback,
	}
	h := handlers.New(regimenSvc, recorder, cosigner, statusSvc, complianceSvc, syncSvc, sweeper)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.RequireIdentity())
	{
		// Regimens
		api.POST("/regimens", h.CreateRegimen)
		api.GET("/regimens", h.ListRegimens)
		api.GET("/regimens/:id", h.GetRegimen)
		api.POST("/regimens/:id/discontinue", h.DiscontinueRegimen)

		// Administrations
		api.POST("/administrations", h.RecordAdministration)
		api.POST("/administrations/bulk", h.RecordBulkAdministrations)
		api.GET("/administrations", h.ListAdministrations)
		api.PATCH("/administrations/:id", h.EditAdministration)
		api.DELETE("/administrations/:id", h.UndoAdministration)
		api.POST("/administrations/:id/cosign", h.ConfirmCoSign)

		// Co-sign feeds
		api.GET("/cosign/pending", h.ListPendingCoSigns)
		api.GET("/cosign/suggestions", h.CoSignSuggestions)

		// Dose statuses and compliance
		api.GET("/dose-statuses", h.ListDoseStatuses)
		api.GET("/compliance/animals/:id", h.AnimalCompliance)
		api.GET("/compliance/household", h.HouseholdCompliance)

		// Offline sync queue
		api.POST("/sync/queue", h.EnqueueAction)
		api.GET("/sync/queue", h.ListQueue)
		api.POST("/sync/flush", h.FlushQueue)
		api.POST("/sync/queue/:seq/ack", h.AckRejectedAction)

		// Sweeper
		api.GET("/sweeper/status", h.SweeperStatus)
	}

	return sweeper
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
