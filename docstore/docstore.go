// Package docstore is the document-store adapter backing the event page.
// Collections map to Postgres tables owned by this package: an append-only
// chat log, a short-lived reactions collection, singleton trigger rows, and
// the stream config singleton. Timestamps are server-assigned (NOW()) so
// ordering never depends on client clocks, and every change fires a
// pg_notify wakeup consumed by Watcher.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one entry of the append-only guest chat log.
type ChatMessage struct {
	ID        string
	Author    string
	Text      string
	CreatedAt time.Time
}

// Reaction is an ephemeral positioned emoji. X and Y are percentages in
// [0,100] of the player surface.
type Reaction struct {
	ID        string
	Emoji     string
	X         float64
	Y         float64
	CreatedAt time.Time
}

// Occurred reports the server-assigned creation time. Satisfies ephemeral.Event.
func (r Reaction) Occurred() time.Time { return r.CreatedAt }

// Trigger is the latest occurrence of a singleton broadcast kind (e.g. "celebrate").
// A new occurrence overwrites the previous row; consumers detect newness by
// comparing TriggeredAt, not by row presence.
type Trigger struct {
	Kind        string
	TriggeredAt time.Time
}

// Occurred reports the latest occurrence time. Satisfies ephemeral.Event.
func (t Trigger) Occurred() time.Time { return t.TriggeredAt }

// StreamConfig is the admin-owned singleton read by every guest session.
type StreamConfig struct {
	StreamURL string
	UpdatedAt time.Time
}

// Store wraps the shared *sql.DB with collection-level operations.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// Ping reports store reachability; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// AppendMessage appends to the chat log and returns the stored message with
// its server-assigned id and timestamp.
func (s *Store) AppendMessage(ctx context.Context, author, text string) (ChatMessage, error) {
	m := ChatMessage{ID: uuid.New().String(), Author: author, Text: text}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_messages (id, author, body) VALUES ($1, $2, $3) RETURNING created_at`,
		m.ID, m.Author, m.Text).Scan(&m.CreatedAt)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("append chat message: %w", err)
	}
	return m, nil
}

// RecentMessages returns up to limit messages in ascending created_at order.
// Ordering is enforced here rather than assumed from notification order.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, body, created_at FROM (
			SELECT id, author, body, created_at FROM chat_messages ORDER BY created_at DESC LIMIT $1
		) recent ORDER BY created_at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()
	out := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Author, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PurgeMessages deletes the entire chat log (administrative side-channel).
func (s *Store) PurgeMessages(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages`)
	if err != nil {
		return 0, fmt.Errorf("purge chat messages: %w", err)
	}
	return res.RowsAffected()
}

// AddReaction publishes an ephemeral reaction. The caller waits only for the
// write acknowledgement, never for fan-out.
func (s *Store) AddReaction(ctx context.Context, emoji string, x, y float64) (Reaction, error) {
	r := Reaction{ID: uuid.New().String(), Emoji: emoji, X: x, Y: y}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reactions (id, emoji, x, y) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		r.ID, r.Emoji, r.X, r.Y).Scan(&r.CreatedAt)
	if err != nil {
		return Reaction{}, fmt.Errorf("add reaction: %w", err)
	}
	return r, nil
}

// ListReactions returns reactions created after cutoff, newest last.
func (s *Store) ListReactions(ctx context.Context, cutoff time.Time) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, emoji, x, y, created_at FROM reactions WHERE created_at > $1 ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()
	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.Emoji, &r.X, &r.Y, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SweepReactions range-deletes reactions older than cutoff. Safe under
// concurrent sweepers from multiple processes: deleting rows another sweep
// already removed simply affects zero rows.
func (s *Store) SweepReactions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reactions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep reactions: %w", err)
	}
	return res.RowsAffected()
}

// FireTrigger records a new occurrence of a singleton trigger kind,
// overwriting the previous one, and returns the stored occurrence.
func (s *Store) FireTrigger(ctx context.Context, kind string) (Trigger, error) {
	t := Trigger{Kind: kind}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO triggers (kind, triggered_at) VALUES ($1, NOW())
		ON CONFLICT (kind) DO UPDATE SET triggered_at = NOW()
		RETURNING triggered_at`, kind).Scan(&t.TriggeredAt)
	if err != nil {
		return Trigger{}, fmt.Errorf("fire trigger %s: %w", kind, err)
	}
	return t, nil
}

// LatestTriggers returns the current occurrence per kind. Kinds that have
// never fired are simply absent.
func (s *Store) LatestTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, triggered_at FROM triggers`)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()
	var out []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.Kind, &t.TriggeredAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetStreamConfig reads the stream config singleton.
func (s *Store) GetStreamConfig(ctx context.Context) (StreamConfig, error) {
	var c StreamConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_url, updated_at FROM stream_config WHERE id = 1`).Scan(&c.StreamURL, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return StreamConfig{}, nil
	}
	if err != nil {
		return StreamConfig{}, fmt.Errorf("get stream config: %w", err)
	}
	return c, nil
}

// SetStreamConfig updates the stream URL (admin only; an empty URL takes the
// stream down for every guest).
func (s *Store) SetStreamConfig(ctx context.Context, streamURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_config (id, stream_url, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET stream_url = EXCLUDED.stream_url, updated_at = NOW()`, streamURL)
	if err != nil {
		return fmt.Errorf("set stream config: %w", err)
	}
	return nil
}
