// Package server exposes the HTTP API: health, metrics, chat, reactions,
// celebration triggers, live session streams (SSE and websocket), and the
// admin surface. It includes permissive CORS for development and injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andsky/guestcast/backend/session"
	"github.com/andsky/guestcast/backend/telemetry"
)

// Store is the document-store surface the HTTP layer needs.
// *docstore.Store satisfies it; tests substitute a fake.
type Store interface {
	session.Store
	PurgeMessages(ctx context.Context) (int64, error)
	SetStreamConfig(ctx context.Context, streamURL string) error
	Ping(ctx context.Context) error
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, st Store, feed session.Feed, opts session.Options) http.Handler {
	authCfg := loadAuthConfig()
	corsCfg := loadCORSConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())

	handlers := NewHandlers(ctx, st, feed, opts)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Guest-facing endpoints
	mux.HandleFunc("/config", handlers.HandleConfig)
	mux.HandleFunc("/chat", handlers.HandleChat)
	mux.HandleFunc("/reactions", handlers.HandleReactions)
	mux.HandleFunc("/celebrate", handlers.HandleCelebrate)
	mux.HandleFunc("/session/sse", handlers.HandleSessionSSE)
	mux.HandleFunc("/session/ws", handlers.HandleSessionWS)

	// Admin endpoints
	mux.HandleFunc("/admin/config", handlers.HandleAdminConfig)
	mux.HandleFunc("/admin/chat/clear", handlers.HandleAdminChatClear)

	// Selective protection: auth + rate limiting on admin, rate limiting on
	// the celebration broadcast (its per-session cooldown lives in the
	// websocket path; bare POSTs get the transport-level limiter).
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= 7 && r.URL.Path[:7] == "/admin/" {
			adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg).ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/celebrate" {
			rateLimitMiddleware(mux, rateLimiter).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, st Store, feed session.Feed, opts session.Options, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, st, feed, opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // streaming endpoints (SSE/WS) stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
