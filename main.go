// Command backend is the main entrypoint for the guestcast API and background workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the store-side retention sweeper for ephemeral reactions and
//     the optional IRC chat bridge.
//   - Exposes the HTTP server: health, metrics, chat, reactions, celebration
//     triggers, and the live session streams (SSE/websocket).
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/andsky/guestcast/backend/bridge"
	"github.com/andsky/guestcast/backend/config"
	"github.com/andsky/guestcast/backend/db"
	"github.com/andsky/guestcast/backend/docstore"
	"github.com/andsky/guestcast/backend/ephemeral"
	"github.com/andsky/guestcast/backend/server"
	"github.com/andsky/guestcast/backend/session"
	"github.com/andsky/guestcast/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("guestcast", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := docstore.New(database)

	// Live-query fan-out: one listening connection per collection.
	feed, err := docstore.NewFeed(ctx, db.DSN(),
		db.NotifyChat, db.NotifyReaction, db.NotifyTrigger, db.NotifyConfig)
	if err != nil {
		slog.Error("failed to start live-query feed", slog.Any("err", err))
		os.Exit(1)
	}
	defer feed.Close()

	// Store-side half of the dual TTL: purge expired reactions regardless of
	// whether anyone is subscribed.
	go ephemeral.StartSweeper(ctx, "reactions", cfg.SweepInterval, cfg.ReactionRetention, store.SweepReactions)

	// Optional IRC chat mirror
	go bridge.Start(ctx, cfg, store)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	opts := session.Options{
		PresenceWindow:           cfg.PresenceWindow,
		ReactionVisibility:       cfg.ReactionVisibility,
		CelebrateEffect:          cfg.CelebrateEffect,
		CelebrateCooldown:        cfg.CelebrateCooldown,
		CelebratePublishCooldown: cfg.CelebratePublishCooldown,
		ChatHistoryLimit:         cfg.ChatHistoryLimit,
	}

	go func() {
		if err := server.Start(ctx, store, feed, opts, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
