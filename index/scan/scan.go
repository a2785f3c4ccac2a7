// Package scan provides the bounded brute-force fallback used when the
// blocking index backend is unavailable. It keeps a capped window of the most
// recently ingested entities and compares token sets directly.
package scan

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/resolvgo/entity"
	"golang.org/x/time/rate"
)

// Options contains configuration for the fallback window.
type Options struct {
	// WindowSize caps how many recent entities are retained.
	WindowSize int

	// MinOverlap is the minimum Jaccard token overlap for a window entry
	// to count as a candidate.
	MinOverlap float64

	// RateLimit bounds fallback scans per second. Degraded mode must not
	// turn into an accidental O(n) hot loop; zero disables limiting.
	RateLimit rate.Limit

	// Fields restricts tokenization, matching the primary index's fields.
	Fields []string
}

// DefaultOptions contains the default configuration for the fallback window.
var DefaultOptions = Options{
	WindowSize: 1024,
	MinOverlap: 0.2,
	RateLimit:  rate.Limit(100),
}

type windowEntry struct {
	id     entity.ID
	tokens map[string]struct{}
}

// Window is a fixed-size ring of recently seen entities supporting bounded
// brute-force candidate scans.
type Window struct {
	mu      sync.RWMutex
	opts    Options
	entries []windowEntry // ring buffer
	next    int
	full    bool
	limiter *rate.Limiter
}

// New creates a new fallback window.
func New(optFns ...func(o *Options)) *Window {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultOptions.WindowSize
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(opts.RateLimit, 1)
	}

	return &Window{
		opts:    opts,
		entries: make([]windowEntry, opts.WindowSize),
		limiter: limiter,
	}
}

// Observe records an entity in the window, evicting the oldest when full.
func (w *Window) Observe(e *entity.Entity) {
	tokens := make(map[string]struct{})
	for _, tok := range e.Tokens(w.opts.Fields...) {
		tokens[tok] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries[w.next] = windowEntry{id: e.ID, tokens: tokens}
	w.next++
	if w.next == len(w.entries) {
		w.next = 0
		w.full = true
	}
}

// Scan returns up to max candidate ids whose token overlap with e meets
// MinOverlap, sorted ascending. It blocks on the rate limiter; a cancelled
// context aborts the wait.
func (w *Window) Scan(ctx context.Context, e *entity.Entity, max int) ([]entity.ID, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	query := make(map[string]struct{})
	for _, tok := range e.Tokens(w.opts.Fields...) {
		query[tok] = struct{}{}
	}
	if len(query) == 0 {
		return nil, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	n := w.next
	if w.full {
		n = len(w.entries)
	}

	var out []entity.ID
	for i := 0; i < n; i++ {
		entry := &w.entries[i]
		if entry.id == e.ID || len(entry.tokens) == 0 {
			continue
		}
		if jaccard(query, entry.tokens) >= w.opts.MinOverlap {
			out = append(out, entry.id)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Len returns the number of entities currently held by the window.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.full {
		return len(w.entries)
	}
	return w.next
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
