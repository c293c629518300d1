// Package presence derives a "who's online" count from chat recency: a guest
// is considered present while they have a message inside the trailing window.
package presence

import (
	"time"

	"github.com/andsky/guestcast/backend/docstore"
)

// Estimate counts distinct authors among messages newer than now-window.
//
// Authors compare by exact display-name match: duplicate names merge into one
// guest and case variants split into two. There is no stable session identity
// to dedupe by, so this is a known limitation, not a bug to fix here.
//
// Pure: same inputs yield the same count. Degenerate windows (<= 0) and empty
// logs yield 0.
func Estimate(messages []docstore.ChatMessage, now time.Time, window time.Duration) int {
	if window <= 0 || len(messages) == 0 {
		return 0
	}
	authors := make(map[string]struct{})
	for _, m := range messages {
		if now.Sub(m.CreatedAt) < window {
			authors[m.Author] = struct{}{}
		}
	}
	return len(authors)
}
