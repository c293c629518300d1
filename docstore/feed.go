package docstore

import (
	"context"
	"sync"
)

// Feed fans a small set of shared Watchers out to any number of guest
// sessions. One listening connection per collection serves the whole
// process instead of one per subscriber.
type Feed struct {
	mu       sync.Mutex
	subs     map[string]map[chan struct{}]struct{}
	watchers []*Watcher
	cancel   context.CancelFunc
}

// NewFeed starts one Watcher per notification channel and begins fan-out.
func NewFeed(ctx context.Context, dsn string, channels ...string) (*Feed, error) {
	fctx, cancel := context.WithCancel(ctx)
	f := &Feed{
		subs:   make(map[string]map[chan struct{}]struct{}),
		cancel: cancel,
	}
	for _, ch := range channels {
		w, err := Watch(fctx, dsn, ch)
		if err != nil {
			cancel()
			f.Close()
			return nil, err
		}
		f.watchers = append(f.watchers, w)
		f.subs[ch] = make(map[chan struct{}]struct{})
		go f.fanout(fctx, ch, w)
	}
	return f, nil
}

// Subscribe returns a coalesced wakeup channel for one collection and a
// cancel func that detaches it. Detached channels receive nothing further.
func (f *Feed) Subscribe(channel string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	set, ok := f.subs[channel]
	if !ok {
		set = make(map[chan struct{}]struct{})
		f.subs[channel] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[channel], ch)
			f.mu.Unlock()
		})
	}
}

// Close stops all watchers. Subscribers simply stop receiving wakeups.
func (f *Feed) Close() {
	f.cancel()
	for _, w := range f.watchers {
		w.Close()
	}
}

func (f *Feed) fanout(ctx context.Context, channel string, w *Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Wake():
			f.mu.Lock()
			for ch := range f.subs[channel] {
				select {
				case ch <- struct{}{}:
				default: // subscriber already has a pending wakeup
				}
			}
			f.mu.Unlock()
		}
	}
}
