// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesAppended      prometheus.Counter
	ReactionsPublished    prometheus.Counter
	CelebrationsTriggered prometheus.Counter
	CelebrationsBlocked   prometheus.Counter
	PublishFailures       prometheus.Counter
	SweepDeleted          prometheus.Counter

	// Histograms (seconds)
	PublishDuration prometheus.Observer

	// Gauges
	PresenceGauge       prometheus.Gauge
	ActiveSessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{Name: "guestcast_messages_appended_total", Help: "Number of chat messages appended"})
		ReactionsPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "guestcast_reactions_published_total", Help: "Number of ephemeral reactions published"})
		CelebrationsTriggered = promauto.NewCounter(prometheus.CounterOpts{Name: "guestcast_celebrations_triggered_total", Help: "Number of celebration broadcasts issued"})
		CelebrationsBlocked = promauto.NewCounter(prometheus.CounterOpts{Name: "guestcast_celebrations_blocked_total", Help: "Number of celebration triggers rejected by cooldown"})
		PublishFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "guestcast_publish_failures_total", Help: "Number of failed ephemeral event publishes"})
		SweepDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "guestcast_sweep_deleted_total", Help: "Number of expired event records purged by the retention sweep"})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "guestcast_publish_duration_seconds", Help: "Ephemeral event publish duration seconds", Buckets: prometheus.DefBuckets})
		PresenceGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "guestcast_presence", Help: "Estimated guests online (distinct recent chat authors)"})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "guestcast_active_sessions", Help: "Currently attached guest sessions"})
	})
}

// SetPresence records the latest presence estimate.
func SetPresence(n int) {
	if PresenceGauge != nil {
		PresenceGauge.Set(float64(n))
	}
}

// AddSweepDeleted records purged event records.
func AddSweepDeleted(n int64) {
	if SweepDeleted != nil {
		SweepDeleted.Add(float64(n))
	}
}

// ObservePublish records one publish attempt.
func ObservePublish(d time.Duration, ok bool) {
	if PublishDuration != nil {
		PublishDuration.Observe(d.Seconds())
	}
	if !ok && PublishFailures != nil {
		PublishFailures.Inc()
	}
}

// SessionOpened / SessionClosed track attached guest sessions.
func SessionOpened() {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Inc()
	}
}

func SessionClosed() {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Dec()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
