// Package dedup suppresses re-processing of notification events that
// the source delivers more than once (in-place updates, redeliveries
// after reconnects).
//
// Two independent matching strategies guard against different
// redelivery mechanisms: key identity catches in-place updates under a
// stable key, and (text, postTime) identity catches redeliveries that
// arrive under a fresh key with an identical payload.
package dedup

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is how long a seen entry suppresses repeats.
	DefaultWindow = 30 * time.Second
	// DefaultMaxEntries bounds the table; notifications arrive at human
	// timescales, so a small cap keeps memory flat.
	DefaultMaxEntries = 10
)

type entry struct {
	key      string
	postTime int64
	text     string
	seenAt   time.Time
}

// Window is a bounded-time, bounded-size dedup table.
//
// ShouldSkip is the single mutating entry point and is safe for
// concurrent use; the internal lock is the pipeline's serialization
// point for dedup state.
type Window struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	now        func() time.Time

	// Insertion order is the eviction order.
	entries []entry
}

type Option func(*Window)

// WithClock replaces the time source. Tests use this to advance past
// the window without sleeping.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

func New(window time.Duration, maxEntries int, opts ...Option) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	w := &Window{window: window, maxEntries: maxEntries, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ShouldSkip reports whether the event identified by key is a repeat
// within the window, recording it when it is not.
//
// Policy, in order:
//  1. Entries older than the window are purged (purge is lazy; there
//     is no background sweep).
//  2. Presence of key alone skips, regardless of text/postTime.
//  3. Any existing entry with identical (text, postTime) skips.
//  4. Otherwise the event is recorded; the oldest-inserted entries are
//     evicted while the table exceeds its cap.
func (w *Window) ShouldSkip(key string, postTime int64, text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()

	kept := w.entries[:0]
	for _, e := range w.entries {
		if now.Sub(e.seenAt) <= w.window {
			kept = append(kept, e)
		}
	}
	w.entries = kept

	for _, e := range w.entries {
		if e.key == key {
			return true
		}
	}
	for _, e := range w.entries {
		if e.text == text && e.postTime == postTime {
			return true
		}
	}

	w.entries = append(w.entries, entry{key: key, postTime: postTime, text: text, seenAt: now})
	for len(w.entries) > w.maxEntries {
		w.entries = w.entries[1:]
	}
	return false
}

// Configure swaps the window length and size cap. Existing entries are
// kept; the new bounds apply from the next ShouldSkip call.
func (w *Window) Configure(window time.Duration, maxEntries int) {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	w.mu.Lock()
	w.window = window
	w.maxEntries = maxEntries
	w.mu.Unlock()
}

// Len returns the current number of tracked entries (expired entries
// included until the next ShouldSkip call purges them).
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Reset clears all tracked entries.
func (w *Window) Reset() {
	w.mu.Lock()
	w.entries = nil
	w.mu.Unlock()
}
