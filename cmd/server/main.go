// Command server runs the doubt resolution backend: a REST API for raising
// and answering course doubts, Server-Sent Event feeds for live updates, and
// the supporting observability endpoints.
//
// Startup order: env → config → logging → database → tracing → bus → routes.
// Shutdown drains in the reverse order so in-flight requests, pending
// notifications, and open event streams finish cleanly.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mentora/go-doubt-backend/internal/bus"
	"github.com/mentora/go-doubt-backend/internal/config"
	httpapi "github.com/mentora/go-doubt-backend/internal/http"
	"github.com/mentora/go-doubt-backend/internal/notify"
	"github.com/mentora/go-doubt-backend/internal/observability"
	"github.com/mentora/go-doubt-backend/internal/repo"
	"github.com/mentora/go-doubt-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	gin.SetMode(cfg.GinMode)

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	// Realtime fan-out
	b := bus.New(cfg.BusBuffer)

	// Educator notifications: real mail when a key is configured, console
	// logging otherwise.
	var notifier notify.Notifier
	if cfg.Mail.SendGridAPIKey != "" {
		notifier = notify.NewSendGrid(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromEmail)
		log.Info().Str("from", cfg.Mail.FromEmail).Msg("notifications: sendgrid")
	} else {
		notifier = notify.Console{}
		log.Info().Msg("notifications: console (no SENDGRID_API_KEY)")
	}

	// HTTP
	r := gin.New()
	svc := httpapi.RegisterRoutes(r, db, b, notifier, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// Let in-flight educator notifications finish, then close the bus, which
	// ends every open SSE stream; subscribers re-pull state on reconnect.
	svc.Drain()
	b.Close()

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info().Msg("bye")
}
