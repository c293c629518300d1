// Package ephemeral broadcasts short-lived, self-expiring events. It
// generalizes the two instances used by the event page: positioned emoji
// reactions and the singleton celebration trigger.
//
// Expiry is dual-sided on purpose (tolerant of client/server clock skew and
// of long-mounted consumers): every subscription filters snapshots by age and
// additionally runs a local sweep tick, while a store-side Sweeper (sweep.go)
// purges the underlying records independently of any subscriber.
package ephemeral

import (
	"context"
	"sync"
	"time"

	"github.com/andsky/guestcast/backend/telemetry"
)

// Event is a broadcast record with a server-assigned occurrence time.
type Event interface {
	Occurred() time.Time
}

// FetchFunc returns the current snapshot of the backing collection in
// non-decreasing occurrence order.
type FetchFunc[E Event] func(ctx context.Context) ([]E, error)

// PublishFunc appends or overwrites one record in the backing collection.
type PublishFunc[E Event] func(ctx context.Context, ev E) error

// Channel is a live feed of events younger than a visibility horizon.
// Consumers never re-check horizons themselves: snapshots delivered to a
// subscription are already filtered.
type Channel[E Event] struct {
	publish PublishFunc[E]
	fetch   FetchFunc[E]
	now     func() time.Time
	sweep   time.Duration
}

// Option configures a Channel.
type Option[E Event] func(*Channel[E])

// WithClock overrides the time source (tests).
func WithClock[E Event](now func() time.Time) Option[E] {
	return func(c *Channel[E]) { c.now = now }
}

// WithSweepGranularity overrides the local expiry sweep interval. Values
// above one second are rejected so expired events never linger visibly.
func WithSweepGranularity[E Event](d time.Duration) Option[E] {
	return func(c *Channel[E]) {
		if d > 0 && d <= time.Second {
			c.sweep = d
		}
	}
}

// New builds a channel over a store-backed publish/fetch pair.
func New[E Event](publish PublishFunc[E], fetch FetchFunc[E], opts ...Option[E]) *Channel[E] {
	c := &Channel[E]{
		publish: publish,
		fetch:   fetch,
		now:     time.Now,
		sweep:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish writes one event and waits only for the write acknowledgement,
// never for fan-out. Failures are reported to the caller and not retried
// here; retry policy belongs to the caller.
func (c *Channel[E]) Publish(ctx context.Context, ev E) error {
	start := time.Now()
	err := c.publish(ctx, ev)
	telemetry.ObservePublish(time.Since(start), err == nil)
	return err
}

// Subscribe starts a live feed of events younger than visibility. Each
// delivery replaces the previous one (latest-wins, buffered by one), so slow
// consumers observe the freshest visible set rather than a backlog. The wake
// channel signals that the backing collection changed; a nil wake channel
// degrades to pure local sweeping.
//
// Close (or ctx cancellation) stops delivery and the local sweep timer.
func (c *Channel[E]) Subscribe(ctx context.Context, visibility time.Duration, wake <-chan struct{}) *Subscription[E] {
	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription[E]{
		ch:     make(chan []E, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(sctx, c, visibility, wake)
	return s
}

// Subscription is one consumer's attachment to a Channel.
type Subscription[E Event] struct {
	ch     chan []E
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the delivery channel. Each value is the full currently
// visible set. The channel closes after Close.
func (s *Subscription[E]) Events() <-chan []E { return s.ch }

// Close detaches the subscription: no further deliveries, and the local
// expiry timer is cancelled. Safe to call more than once.
func (s *Subscription[E]) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription[E]) run(ctx context.Context, c *Channel[E], visibility time.Duration, wake <-chan struct{}) {
	defer close(s.done)
	defer close(s.ch)

	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	var snapshot []E // last raw fetch, unfiltered
	var delivered int = -1

	refetch := func() {
		if evs, err := c.fetch(ctx); err == nil {
			snapshot = evs
		}
		// On fetch failure keep the previous snapshot; the local sweep
		// still expires it, so the worst case is a stale visual.
	}

	refetch()
	delivered = s.deliver(ctx, c.visible(snapshot, visibility))

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			refetch()
			delivered = s.deliver(ctx, c.visible(snapshot, visibility))
		case <-ticker.C:
			// Local sweep: expire events even when no new snapshot arrives.
			vis := c.visible(snapshot, visibility)
			if len(vis) != delivered {
				delivered = s.deliver(ctx, vis)
			}
		}
	}
}

// visible filters a snapshot down to events whose age is below the horizon.
func (c *Channel[E]) visible(snapshot []E, visibility time.Duration) []E {
	now := c.now()
	out := make([]E, 0, len(snapshot))
	for _, ev := range snapshot {
		if now.Sub(ev.Occurred()) < visibility {
			out = append(out, ev)
		}
	}
	return out
}

// deliver replaces any pending value so the consumer always reads the latest
// visible set. Returns the delivered length for change detection.
func (s *Subscription[E]) deliver(ctx context.Context, vis []E) int {
	select {
	case s.ch <- vis:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- vis:
		case <-ctx.Done():
		}
	}
	return len(vis)
}

// Latest tracks the newest occurrence already seen by one consumer of a
// singleton-kind event. Re-delivery of an unchanged timestamp (reconnects,
// redundant snapshots) is not a new occurrence.
type Latest struct {
	mu   sync.Mutex
	seen time.Time
}

// Observe reports whether t is a genuinely new occurrence and records it.
func (l *Latest) Observe(t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.seen) {
		l.seen = t
		return true
	}
	return false
}
