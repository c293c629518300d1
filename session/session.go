// Package session composes the guest-facing stream session: the live config
// subscription run through the URL normalizer, the chat subscription feeding
// the presence estimate, and the two ephemeral channels (positioned reactions
// and the celebration trigger). One Session per attached guest; cooldown
// state is session-scoped, never shared across guests.
package session

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/andsky/guestcast/backend/cooldown"
	"github.com/andsky/guestcast/backend/db"
	"github.com/andsky/guestcast/backend/docstore"
	"github.com/andsky/guestcast/backend/embed"
	"github.com/andsky/guestcast/backend/ephemeral"
	"github.com/andsky/guestcast/backend/presence"
	"github.com/andsky/guestcast/backend/telemetry"
)

// Trigger kind names. CelebrateKind is what lands in the store; the publish
// kind only exists inside the cooldown gate.
const (
	CelebrateKind        = "celebrate"
	celebratePublishKind = "celebrate.publish"
)

var (
	ErrEmptyMessage = errors.New("empty message or author")
	ErrEmptyEmoji   = errors.New("empty emoji")
)

// Store is the slice of the document store a session needs. *docstore.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	AppendMessage(ctx context.Context, author, text string) (docstore.ChatMessage, error)
	RecentMessages(ctx context.Context, limit int) ([]docstore.ChatMessage, error)
	AddReaction(ctx context.Context, emoji string, x, y float64) (docstore.Reaction, error)
	ListReactions(ctx context.Context, cutoff time.Time) ([]docstore.Reaction, error)
	FireTrigger(ctx context.Context, kind string) (docstore.Trigger, error)
	LatestTriggers(ctx context.Context) ([]docstore.Trigger, error)
	GetStreamConfig(ctx context.Context) (docstore.StreamConfig, error)
}

// Feed delivers change wakeups per collection. *docstore.Feed satisfies it.
type Feed interface {
	Subscribe(channel string) (<-chan struct{}, func())
}

// Options carries the horizons and cooldowns for one session.
type Options struct {
	PresenceWindow           time.Duration
	ReactionVisibility       time.Duration
	CelebrateEffect          time.Duration
	CelebrateCooldown        time.Duration
	CelebratePublishCooldown time.Duration
	ChatHistoryLimit         int
}

// View is the rendered state handed to the (out of scope) view layer.
type View struct {
	StreamURL         string                 `json:"streamUrl"`
	EmbedURL          string                 `json:"embedUrl"`
	Presence          int                    `json:"presence"`
	Reactions         []docstore.Reaction    `json:"reactions"`
	CelebrationActive bool                   `json:"celebrationActive"`
	Messages          []docstore.ChatMessage `json:"messages"`
}

// Session is one guest's attachment to the event page.
type Session struct {
	st   Store
	opts Options
	gate *cooldown.Gate

	reactions *ephemeral.Channel[docstore.Reaction]
	triggers  *ephemeral.Channel[docstore.Trigger]

	mu               sync.Mutex
	view             View
	celebrationUntil time.Time
	closed           bool
	seen             ephemeral.Latest

	updates chan View
	cancel  context.CancelFunc
	done    chan struct{}
	unsubs  []func()
}

// New attaches a guest session to the store and feed, loads the initial
// snapshot, and starts the update loop. Close must be called when the guest
// navigates away; it detaches every subscription and cancels local timers.
func New(ctx context.Context, st Store, feed Feed, opts Options) *Session {
	if opts.ChatHistoryLimit <= 0 {
		opts.ChatHistoryLimit = 200
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		st:   st,
		opts: opts,
		gate: cooldown.New(map[string]time.Duration{
			CelebrateKind:        opts.CelebrateCooldown,
			celebratePublishKind: opts.CelebratePublishCooldown,
		}),
		updates: make(chan View, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.reactions = ephemeral.New[docstore.Reaction](
		func(ctx context.Context, r docstore.Reaction) error {
			_, err := st.AddReaction(ctx, r.Emoji, r.X, r.Y)
			return err
		},
		func(ctx context.Context) ([]docstore.Reaction, error) {
			// The store sweep already prunes aggressively; the extra window
			// here just bounds the query.
			return st.ListReactions(ctx, time.Now().Add(-2*opts.ReactionVisibility))
		},
	)
	s.triggers = ephemeral.New[docstore.Trigger](
		func(ctx context.Context, t docstore.Trigger) error {
			_, err := st.FireTrigger(ctx, t.Kind)
			return err
		},
		st.LatestTriggers,
	)

	reactionWake, unsubReactions := feed.Subscribe(db.NotifyReaction)
	triggerWake, unsubTriggers := feed.Subscribe(db.NotifyTrigger)
	chatWake, unsubChat := feed.Subscribe(db.NotifyChat)
	configWake, unsubConfig := feed.Subscribe(db.NotifyConfig)
	s.unsubs = []func(){unsubReactions, unsubTriggers, unsubChat, unsubConfig}

	reactionSub := s.reactions.Subscribe(sctx, opts.ReactionVisibility, reactionWake)
	// Triggers have no visibility horizon of their own; the effect duration
	// is applied locally. A long horizon keeps the row visible to Latest.
	triggerSub := s.triggers.Subscribe(sctx, 24*time.Hour, triggerWake)

	telemetry.SessionOpened()
	s.refreshChat(sctx)
	s.refreshConfig(sctx)
	go s.run(sctx, reactionSub, triggerSub, chatWake, configWake)
	return s
}

// Updates returns the live view feed. Deliveries are latest-wins: a slow
// consumer reads the freshest state, not a backlog. Closed after Close.
func (s *Session) Updates() <-chan View { return s.updates }

// Snapshot returns a copy of the current view.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Close detaches the session: unsubscribes from the feed, stops both
// ephemeral subscriptions and their expiry timers, and closes Updates.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// SendMessage appends to the chat log. The error surfaces transient store
// failures to the caller; no retry happens here.
func (s *Session) SendMessage(ctx context.Context, author, text string) (docstore.ChatMessage, error) {
	author = strings.TrimSpace(author)
	text = strings.TrimSpace(text)
	if author == "" || text == "" {
		return docstore.ChatMessage{}, ErrEmptyMessage
	}
	m, err := s.st.AppendMessage(ctx, author, text)
	if err == nil {
		telemetry.MessagesAppended.Inc()
	}
	return m, err
}

// SendReaction publishes a positioned emoji. Placement mirrors the page:
// x in [15,85], y in [25,75] percent, assigned here so every subscriber
// renders the reaction at the same spot.
func (s *Session) SendReaction(ctx context.Context, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return ErrEmptyEmoji
	}
	x, y := RandomReactionPosition()
	r := docstore.Reaction{Emoji: emoji, X: x, Y: y}
	err := s.reactions.Publish(ctx, r)
	if err == nil {
		telemetry.ReactionsPublished.Inc()
	}
	return err
}

// TriggerCelebration fires the celebration effect. The effect cooldown gates
// the affordance itself; a rejected call returns false with no error. The
// publish cooldown independently gates the broadcast write, so a locally
// allowed trigger may still skip the store write. The local effect starts
// immediately either way.
func (s *Session) TriggerCelebration(ctx context.Context) (bool, error) {
	if !s.gate.TryTrigger(CelebrateKind) {
		telemetry.CelebrationsBlocked.Inc()
		return false, nil
	}

	s.mu.Lock()
	s.celebrationUntil = time.Now().Add(s.opts.CelebrateEffect)
	s.view.CelebrationActive = true
	view := s.view
	s.mu.Unlock()
	s.emit(view)

	if !s.gate.TryTrigger(celebratePublishKind) {
		return true, nil
	}
	if err := s.triggers.Publish(ctx, docstore.Trigger{Kind: CelebrateKind}); err != nil {
		return true, err
	}
	telemetry.CelebrationsTriggered.Inc()
	// The page pairs the broadcast with a confetti emoji reaction.
	if err := s.SendReaction(ctx, "🎊"); err != nil {
		return true, err
	}
	return true, nil
}

// RandomReactionPosition picks where a reaction floats on the player:
// x in [15,85], y in [25,75] percent, keeping emoji clear of the edges.
func RandomReactionPosition() (x, y float64) {
	return rand.Float64()*70 + 15, rand.Float64()*50 + 25
}

// CelebrationCooldown reports how long the celebrate affordance stays locked.
func (s *Session) CelebrationCooldown() time.Duration {
	return s.gate.Remaining(CelebrateKind)
}

func (s *Session) run(ctx context.Context,
	reactionSub *ephemeral.Subscription[docstore.Reaction],
	triggerSub *ephemeral.Subscription[docstore.Trigger],
	chatWake, configWake <-chan struct{},
) {
	defer close(s.done)
	defer func() {
		// Actions may race with shutdown; emit checks closed under the lock
		// before touching the channel.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.updates)
	}()
	defer telemetry.SessionClosed()
	defer func() {
		for _, unsub := range s.unsubs {
			unsub()
		}
		reactionSub.Close()
		triggerSub.Close()
	}()

	// Time advances presence and celebration decay even with a quiet store.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-chatWake:
			s.refreshChat(ctx)
		case <-configWake:
			s.refreshConfig(ctx)
		case vis, ok := <-reactionSub.Events():
			if !ok {
				return
			}
			s.mu.Lock()
			s.view.Reactions = vis
			view := s.view
			s.mu.Unlock()
			s.emit(view)
		case trgs, ok := <-triggerSub.Events():
			if !ok {
				return
			}
			s.observeTriggers(trgs)
		case <-ticker.C:
			s.advance(ctx)
		}
	}
}

// observeTriggers applies newly observed singleton occurrences. Unchanged
// timestamps (redelivered rows, reconnects) are not new occurrences.
func (s *Session) observeTriggers(trgs []docstore.Trigger) {
	for _, t := range trgs {
		if t.Kind != CelebrateKind {
			continue
		}
		if s.seen.Observe(t.TriggeredAt) {
			s.mu.Lock()
			s.celebrationUntil = time.Now().Add(s.opts.CelebrateEffect)
			s.view.CelebrationActive = true
			view := s.view
			s.mu.Unlock()
			s.emit(view)
		}
	}
}

func (s *Session) refreshChat(ctx context.Context) {
	msgs, err := s.st.RecentMessages(ctx, s.opts.ChatHistoryLimit)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("chat refresh failed", "err", err)
		return
	}
	count := presence.Estimate(msgs, time.Now(), s.opts.PresenceWindow)
	telemetry.SetPresence(count)

	s.mu.Lock()
	s.view.Messages = msgs
	s.view.Presence = count
	view := s.view
	s.mu.Unlock()
	s.emit(view)
}

func (s *Session) refreshConfig(ctx context.Context) {
	cfg, err := s.st.GetStreamConfig(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("config refresh failed", "err", err)
		return
	}
	s.mu.Lock()
	s.view.StreamURL = cfg.StreamURL
	s.view.EmbedURL = embed.Normalize(cfg.StreamURL)
	view := s.view
	s.mu.Unlock()
	s.emit(view)
}

// advance handles pure time passage: presence decays as messages age out and
// the celebration effect ends.
func (s *Session) advance(ctx context.Context) {
	now := time.Now()
	changed := false

	s.mu.Lock()
	count := presence.Estimate(s.view.Messages, now, s.opts.PresenceWindow)
	if count != s.view.Presence {
		s.view.Presence = count
		telemetry.SetPresence(count)
		changed = true
	}
	if s.view.CelebrationActive && now.After(s.celebrationUntil) {
		s.view.CelebrationActive = false
		changed = true
	}
	view := s.view
	s.mu.Unlock()

	if changed {
		s.emit(view)
	}
}

// emit delivers latest-wins: replace any pending view rather than queueing.
func (s *Session) emit(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- v:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- v:
		default:
		}
	}
}
