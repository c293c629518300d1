// Package cooldown rate-limits repeated effect triggers. Each kind carries
// its own lock-until timestamp; expiry happens lazily on the next check, so
// no background timers are needed.
package cooldown

import (
	"sync"
	"time"
)

// Gate tracks per-kind cooldown state for one guest session. It is safe for
// concurrent use: snapshot deliveries and guest actions may race.
type Gate struct {
	mu        sync.Mutex
	durations map[string]time.Duration
	lockedTil map[string]time.Time
	now       func() time.Time
}

// New builds a gate with per-kind cooldown durations. Kinds absent from the
// map (or with zero duration) are never rate limited.
func New(durations map[string]time.Duration) *Gate {
	d := make(map[string]time.Duration, len(durations))
	for k, v := range durations {
		d[k] = v
	}
	return &Gate{
		durations: d,
		lockedTil: make(map[string]time.Time),
		now:       time.Now,
	}
}

// TryTrigger reports whether kind may fire now. On success the kind locks
// until now+duration. A rejected call has no side effect and is not an
// error; callers silently skip the action.
func (g *Gate) TryTrigger(kind string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.durations[kind]
	if d <= 0 {
		return true
	}
	now := g.now()
	if until, ok := g.lockedTil[kind]; ok && now.Before(until) {
		return false
	}
	g.lockedTil[kind] = now.Add(d)
	return true
}

// Remaining returns how long kind stays locked, zero when idle.
func (g *Gate) Remaining(kind string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.lockedTil[kind]
	if !ok {
		return 0
	}
	if r := until.Sub(g.now()); r > 0 {
		return r
	}
	return 0
}

// setClock overrides the time source for tests.
func (g *Gate) setClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}
