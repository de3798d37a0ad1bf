// Command api runs the medication tracker HTTP server.
//
// Startup order: env file, config, logging, database, tracing, router,
// background sweeper, HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	_ "github.com/kjanat/vet-med-tracker-sub009/docs"
	"github.com/kjanat/vet-med-tracker-sub009/internal/config"
	httpapi "github.com/kjanat/vet-med-tracker-sub009/internal/http"
	"github.com/kjanat/vet-med-tracker-sub009/internal/observability"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// @title        Vet Med Tracker API
// @version      1.0
// @description  Medication administration tracking for multi-caregiver households: regimens, idempotent dose recording, two-person co-signing, offline sync, and compliance reporting.
// @BasePath     /api/v1
//
// @tag.name Regimens
// @tag.name Administrations
// @tag.name CoSign
// @tag.name DoseStatuses
// @tag.name Compliance
// @tag.name Sync
func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	// Tracing (no-op unless OTEL_ENABLED)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup opentelemetry")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("gorm tracing plugin")
		}
	}

	// Router and background sweeper
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	sweeper := httpapi.RegisterRoutes(engine, db, cfg)

	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("version", version).
			Str("addr", srv.Addr).
			Str("db", cfg.DBPath).
			Msg("starting vet-med-tracker api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}
