package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andsky/guestcast/backend/db"
	"github.com/andsky/guestcast/backend/docstore"
	"github.com/andsky/guestcast/backend/telemetry"
)

// fakeStore is an in-memory Store standing in for Postgres.
type fakeStore struct {
	mu        sync.Mutex
	messages  []docstore.ChatMessage
	reactions []docstore.Reaction
	triggers  map[string]docstore.Trigger
	config    docstore.StreamConfig
	fired     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{triggers: make(map[string]docstore.Trigger)}
}

func (f *fakeStore) AppendMessage(_ context.Context, author, text string) (docstore.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := docstore.ChatMessage{ID: "m", Author: author, Text: text, CreatedAt: time.Now()}
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, limit int) ([]docstore.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]docstore.ChatMessage, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeStore) AddReaction(_ context.Context, emoji string, x, y float64) (docstore.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := docstore.Reaction{ID: "r", Emoji: emoji, X: x, Y: y, CreatedAt: time.Now()}
	f.reactions = append(f.reactions, r)
	return r, nil
}

func (f *fakeStore) ListReactions(_ context.Context, cutoff time.Time) ([]docstore.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []docstore.Reaction
	for _, r := range f.reactions {
		if r.CreatedAt.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) FireTrigger(_ context.Context, kind string) (docstore.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := docstore.Trigger{Kind: kind, TriggeredAt: time.Now()}
	f.triggers[kind] = t
	f.fired++
	return t, nil
}

func (f *fakeStore) LatestTriggers(_ context.Context) ([]docstore.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []docstore.Trigger
	for _, t := range f.triggers {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) GetStreamConfig(_ context.Context) (docstore.StreamConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config, nil
}

func (f *fakeStore) setStreamURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = docstore.StreamConfig{StreamURL: u, UpdatedAt: time.Now()}
}

func (f *fakeStore) counts() (msgs, reactions, fires int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages), len(f.reactions), f.fired
}

// fakeFeed hands out wake channels the test can signal directly.
type fakeFeed struct {
	mu    sync.Mutex
	wakes map[string]chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{wakes: make(map[string]chan struct{})}
}

func (f *fakeFeed) Subscribe(channel string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.wakes[channel]
	if !ok {
		ch = make(chan struct{}, 1)
		f.wakes[channel] = ch
	}
	return ch, func() {}
}

func (f *fakeFeed) wake(channel string) {
	f.mu.Lock()
	ch := f.wakes[channel]
	f.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

func testOpts() Options {
	return Options{
		PresenceWindow:           300 * time.Second,
		ReactionVisibility:       10 * time.Second,
		CelebrateEffect:          5 * time.Second,
		CelebrateCooldown:        8 * time.Second,
		CelebratePublishCooldown: 10 * time.Second,
		ChatHistoryLimit:         200,
	}
}

func waitSnapshot(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v := s.Snapshot()
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never matched, last: %+v", v)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitialSnapshot(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	st.setStreamURL("https://youtu.be/abc123")
	_, _ = st.AppendMessage(context.Background(), "alice", "hello")
	_, _ = st.AppendMessage(context.Background(), "bob", "hi")

	s := New(context.Background(), st, newFakeFeed(), testOpts())
	defer s.Close()

	v := s.Snapshot()
	if v.StreamURL != "https://youtu.be/abc123" {
		t.Errorf("StreamURL = %q", v.StreamURL)
	}
	if want := "https://www.youtube.com/embed/abc123?autoplay=1&mute=1"; v.EmbedURL != want {
		t.Errorf("EmbedURL = %q, want %q", v.EmbedURL, want)
	}
	if len(v.Messages) != 2 {
		t.Errorf("Messages = %d, want 2", len(v.Messages))
	}
	if v.Presence != 2 {
		t.Errorf("Presence = %d, want 2", v.Presence)
	}
	if v.CelebrationActive {
		t.Error("CelebrationActive should start false")
	}
}

func TestSendMessageValidation(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	s := New(context.Background(), st, newFakeFeed(), testOpts())
	defer s.Close()

	if _, err := s.SendMessage(context.Background(), "", "hi"); err != ErrEmptyMessage {
		t.Errorf("empty author err = %v, want ErrEmptyMessage", err)
	}
	if _, err := s.SendMessage(context.Background(), "alice", "   "); err != ErrEmptyMessage {
		t.Errorf("whitespace text err = %v, want ErrEmptyMessage", err)
	}
	m, err := s.SendMessage(context.Background(), "  alice  ", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if m.Author != "alice" || m.Text != "hello" {
		t.Errorf("stored message = %+v, want trimmed fields", m)
	}
}

func TestSendReaction(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	s := New(context.Background(), st, newFakeFeed(), testOpts())
	defer s.Close()

	if err := s.SendReaction(context.Background(), ""); err != ErrEmptyEmoji {
		t.Errorf("empty emoji err = %v, want ErrEmptyEmoji", err)
	}
	if err := s.SendReaction(context.Background(), "🔥"); err != nil {
		t.Fatalf("SendReaction: %v", err)
	}

	st.mu.Lock()
	r := st.reactions[0]
	st.mu.Unlock()
	if r.X < 15 || r.X > 85 {
		t.Errorf("X = %v, want within [15,85]", r.X)
	}
	if r.Y < 25 || r.Y > 75 {
		t.Errorf("Y = %v, want within [25,75]", r.Y)
	}
}

func TestCelebrationCooldownBlocksRepeat(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	s := New(context.Background(), st, newFakeFeed(), testOpts())
	defer s.Close()

	ok, err := s.TriggerCelebration(context.Background())
	if err != nil || !ok {
		t.Fatalf("first celebration: ok=%v err=%v", ok, err)
	}
	ok, err = s.TriggerCelebration(context.Background())
	if err != nil {
		t.Fatalf("second celebration: %v", err)
	}
	if ok {
		t.Error("second celebration inside cooldown should report false")
	}

	if _, _, fires := st.counts(); fires != 1 {
		t.Errorf("trigger fired %d times, want 1", fires)
	}
	if s.CelebrationCooldown() <= 0 {
		t.Error("cooldown should be pending after a trigger")
	}
	v := s.Snapshot()
	if !v.CelebrationActive {
		t.Error("local effect should start immediately")
	}
}

func TestCelebrationPublishGateIsIndependent(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	opts := testOpts()
	opts.CelebrateCooldown = 0 // effect never limited for this test
	s := New(context.Background(), st, newFakeFeed(), opts)
	defer s.Close()

	for i := 0; i < 3; i++ {
		ok, err := s.TriggerCelebration(context.Background())
		if err != nil || !ok {
			t.Fatalf("celebration %d: ok=%v err=%v", i, ok, err)
		}
	}

	// Only the first call clears the publish gate: one broadcast write and
	// one companion confetti reaction.
	_, reactions, fires := st.counts()
	if fires != 1 {
		t.Errorf("trigger fired %d times, want 1", fires)
	}
	if reactions != 1 {
		t.Errorf("%d reactions stored, want 1 companion emoji", reactions)
	}
}

func TestSeededTriggerActivatesCelebration(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	_, _ = st.FireTrigger(context.Background(), CelebrateKind)

	s := New(context.Background(), st, newFakeFeed(), testOpts())
	defer s.Close()

	waitSnapshot(t, s, func(v View) bool { return v.CelebrationActive })
}

func TestChatWakeRefreshesSnapshot(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	feed := newFakeFeed()
	s := New(context.Background(), st, feed, testOpts())
	defer s.Close()

	_, _ = st.AppendMessage(context.Background(), "carol", "late arrival")
	feed.wake(db.NotifyChat)

	v := waitSnapshot(t, s, func(v View) bool { return len(v.Messages) == 1 })
	if v.Presence != 1 {
		t.Errorf("Presence = %d, want 1", v.Presence)
	}
}

func TestConfigWakeRefreshesSnapshot(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	feed := newFakeFeed()
	s := New(context.Background(), st, feed, testOpts())
	defer s.Close()

	st.setStreamURL("https://vimeo.com/99")
	feed.wake(db.NotifyConfig)

	v := waitSnapshot(t, s, func(v View) bool { return v.StreamURL == "https://vimeo.com/99" })
	if want := "https://player.vimeo.com/video/99?autoplay=1&muted=1"; v.EmbedURL != want {
		t.Errorf("EmbedURL = %q, want %q", v.EmbedURL, want)
	}
}

func TestCloseShutsDownUpdates(t *testing.T) {
	telemetry.Init()
	st := newFakeStore()
	s := New(context.Background(), st, newFakeFeed(), testOpts())
	s.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed after Close")
		}
	}
}
