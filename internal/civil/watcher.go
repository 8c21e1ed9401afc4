package civil

import (
	"sync"
	"time"
)

const defaultWatchInterval = 30 * time.Second

// Watcher periodically recomputes the civil date and announces rollovers.
// Scanner sessions use it to abandon state that was built for the previous day.
type Watcher struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	current string
	ch      chan string
	done    chan struct{}
	stopped bool
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithInterval overrides the recompute interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) WatcherOption {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWatcher starts a watcher goroutine. Callers must Stop it.
func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{
		interval: defaultWatchInterval,
		now:      time.Now,
		ch:       make(chan string, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current = Date(w.now())

	go w.run()
	return w
}

// Current returns the most recently computed civil date.
func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Rollover delivers the new date whenever the civil date changes. The channel
// holds a single pending notification; intermediate rollovers overwrite it.
func (w *Watcher) Rollover() <-chan string {
	return w.ch
}

// Stop terminates the watcher goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.done)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	next := Date(w.now())

	w.mu.Lock()
	if w.stopped || next == w.current {
		w.mu.Unlock()
		return
	}
	w.current = next
	w.mu.Unlock()

	// Drop the stale pending notification, if any, then publish.
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- next:
	default:
	}
}
