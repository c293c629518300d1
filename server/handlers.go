package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/andsky/guestcast/backend/docstore"
	"github.com/andsky/guestcast/backend/embed"
	"github.com/andsky/guestcast/backend/session"
	"github.com/andsky/guestcast/backend/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	st   Store
	feed session.Feed
	opts session.Options
	ctx  context.Context
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, st Store, feed session.Feed, opts session.Options) *Handlers {
	return &Handlers{st: st, feed: feed, opts: opts, ctx: ctx}
}

// HandleHealthz reports process liveness.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleReadyz reports readiness: the store must be reachable.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.st.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleConfig returns the public stream config: the raw URL set by the admin
// and its normalized embeddable form.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg, err := h.st.GetStreamConfig(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"streamUrl": cfg.StreamURL,
		"embedUrl":  embed.Normalize(cfg.StreamURL),
	})
}

type chatMessageJSON struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func toChatJSON(msgs []docstore.ChatMessage) []chatMessageJSON {
	out := make([]chatMessageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessageJSON{ID: m.ID, Author: m.Author, Text: m.Text, CreatedAt: m.CreatedAt})
	}
	return out
}

// HandleChat serves the chat log: GET lists recent messages in ascending
// timestamp order, POST appends one.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parseIntQuery(r, "limit", h.opts.ChatHistoryLimit)
		if limit <= 0 || limit > 1000 {
			limit = h.opts.ChatHistoryLimit
		}
		msgs, err := h.st.RecentMessages(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toChatJSON(msgs))
	case http.MethodPost:
		var req struct {
			Author string `json:"author"`
			Text   string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Author == "" || req.Text == "" {
			http.Error(w, "author and text required", http.StatusBadRequest)
			return
		}
		m, err := h.st.AppendMessage(r.Context(), req.Author, req.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		telemetry.MessagesAppended.Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(chatMessageJSON{ID: m.ID, Author: m.Author, Text: m.Text, CreatedAt: m.CreatedAt})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleReactions publishes an ephemeral positioned reaction. Fire-and-forget
// from the page's perspective: we acknowledge the write, fan-out is the
// subscribers' concern.
func (h *Handlers) HandleReactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Emoji == "" {
		http.Error(w, "emoji required", http.StatusBadRequest)
		return
	}
	x, y := session.RandomReactionPosition()
	if _, err := h.st.AddReaction(r.Context(), req.Emoji, x, y); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.ReactionsPublished.Inc()
	w.WriteHeader(http.StatusAccepted)
}

// HandleCelebrate issues a celebration broadcast. The stateless POST path has
// no per-session cooldown gate; the IP rate limiter in front of it is the
// transport-level backstop. Websocket sessions go through the gate instead.
func (h *Handlers) HandleCelebrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := h.st.FireTrigger(r.Context(), session.CelebrateKind); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.CelebrationsTriggered.Inc()
	x, y := session.RandomReactionPosition()
	if _, err := h.st.AddReaction(r.Context(), "🎊", x, y); err != nil {
		// The broadcast already landed; the companion emoji is best-effort.
		telemetry.LoggerWithCorr(r.Context()).Warn("celebration reaction failed", "err", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleAdminConfig gets or sets the stream URL (admin-gated upstream).
func (h *Handlers) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleConfig(w, r)
	case http.MethodPut, http.MethodPost:
		var req struct {
			StreamURL string `json:"streamUrl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := h.st.SetStreamConfig(r.Context(), req.StreamURL); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Info("stream url updated")
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminChatClear purges the chat log (administrative side-channel; the
// ephemeral subsystem never deletes chat itself).
func (h *Handlers) HandleAdminChatClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := h.st.PurgeMessages(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("chat history cleared")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"deleted": n})
}
