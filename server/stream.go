package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/andsky/guestcast/backend/session"
)

// HandleSessionSSE streams live view snapshots over Server-Sent Events. Each
// connection is one guest session; closing the request detaches it and
// cancels its expiry timers.
func (h *Handlers) HandleSessionSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	sess := session.New(ctx, h.st, h.feed, h.opts)
	defer sess.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	enc := json.NewEncoder(w)
	writeView := func(v session.View) bool {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if err := enc.Encode(v); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeView(sess.Snapshot()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sess.Updates():
			if !ok {
				return
			}
			if !writeView(v) {
				return
			}
		}
	}
}

// Client action frames accepted on the websocket.
type wsAction struct {
	Type   string `json:"type"` // message | reaction | celebrate
	Author string `json:"author,omitempty"`
	Text   string `json:"text,omitempty"`
	Emoji  string `json:"emoji,omitempty"`
}

// Server frames pushed to the websocket.
type wsFrame struct {
	Type    string        `json:"type"` // view | celebrate | error
	View    *session.View `json:"view,omitempty"`
	Allowed *bool         `json:"allowed,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// HandleSessionWS runs a bidirectional guest session over a websocket:
// view snapshots flow out, action frames flow in. This is the path where the
// cooldown gate gets its per-client-session scope, since the session lives
// exactly as long as the connection.
func (h *Handlers) HandleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// CORS policy is handled by the HTTP middleware in front of us.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket accept failed", slog.Any("err", err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session.New(ctx, h.st, h.feed, h.opts)
	defer sess.Close()

	// Reader: guest actions.
	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var act wsAction
			if err := json.Unmarshal(data, &act); err != nil {
				writeFrame(ctx, conn, wsFrame{Type: "error", Error: "invalid frame"})
				continue
			}
			h.applyAction(ctx, conn, sess, act)
		}
	}()

	// Writer: view snapshots.
	v := sess.Snapshot()
	if !writeFrame(ctx, conn, wsFrame{Type: "view", View: &v}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sess.Updates():
			if !ok {
				return
			}
			if !writeFrame(ctx, conn, wsFrame{Type: "view", View: &v}) {
				return
			}
		}
	}
}

func (h *Handlers) applyAction(ctx context.Context, conn *websocket.Conn, sess *session.Session, act wsAction) {
	switch act.Type {
	case "message":
		if _, err := sess.SendMessage(ctx, act.Author, act.Text); err != nil {
			writeFrame(ctx, conn, wsFrame{Type: "error", Error: err.Error()})
		}
	case "reaction":
		if err := sess.SendReaction(ctx, act.Emoji); err != nil {
			writeFrame(ctx, conn, wsFrame{Type: "error", Error: err.Error()})
		}
	case "celebrate":
		allowed, err := sess.TriggerCelebration(ctx)
		frame := wsFrame{Type: "celebrate", Allowed: &allowed}
		if err != nil {
			frame.Error = err.Error()
		}
		writeFrame(ctx, conn, frame)
	default:
		writeFrame(ctx, conn, wsFrame{Type: "error", Error: "unknown action type"})
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f wsFrame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}
