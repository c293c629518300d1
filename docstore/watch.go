package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// Watcher turns Postgres LISTEN/NOTIFY into coalesced wakeups. It holds a
// dedicated native pgx connection (LISTEN does not work through the
// database/sql pool). A wakeup carries no payload; the consumer re-queries
// the ordered snapshot, so dropped or coalesced notifications are harmless.
type Watcher struct {
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Watch opens a listening connection for the given notification channels.
// The watcher reconnects with backoff on connection loss and emits a wakeup
// after every (re)connect so consumers catch changes missed while detached.
func Watch(ctx context.Context, dsn string, channels ...string) (*Watcher, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("watch: no channels given")
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(wctx, dsn, channels)
	return w, nil
}

// Wake returns the wakeup channel. Multiple pending notifications coalesce
// into a single wakeup.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

// Close stops listening and releases the connection. No wakeups are
// delivered after Close returns.
func (w *Watcher) Close() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context, dsn string, channels []string) {
	defer close(w.done)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.listen(ctx, dsn, channels); err != nil && ctx.Err() == nil {
			slog.Warn("watcher connection lost, reconnecting",
				slog.Any("err", err), slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (w *Watcher) listen(ctx context.Context, dsn string, channels []string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("watcher connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			slog.Debug("watcher close error", slog.Any("err", err))
		}
	}()

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	// Wake once on (re)connect so the consumer resnapshots.
	w.notify()

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		w.notify()
	}
}

func (w *Watcher) notify() {
	select {
	case w.wake <- struct{}{}:
	default: // a wakeup is already pending; coalesce
	}
}
