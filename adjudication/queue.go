// Package adjudication implements the human-review queue for borderline
// candidate pairs.
package adjudication

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/resolvgo/entity"
)

// Status is the review state of a queued pair.
type Status string

const (
	// StatusPending means the pair awaits a reviewer decision.
	StatusPending Status = "pending"
	// StatusApproved means a reviewer confirmed the pair as a match.
	StatusApproved Status = "approved"
	// StatusRejected means a reviewer rejected the pair.
	StatusRejected Status = "rejected"
)

// ErrNotQueued is returned when resolving a pair that has no pending item.
var ErrNotQueued = errors.New("pair is not queued")

// Item is one entry in the review queue.
type Item struct {
	PairID      string    `json:"pair_id"`
	A           entity.ID `json:"entity_a"`
	B           entity.ID `json:"entity_b"`
	Score       float64   `json:"score"`
	Status      Status    `json:"status"`
	EnqueuedSeq uint64    `json:"enqueued_seq"`
	Reviewer    string    `json:"reviewer,omitempty"`
}

// Queue is an in-memory adjudication queue, deduplicated by pair id.
// Safe for concurrent use.
type Queue struct {
	mu      sync.RWMutex
	items   map[string]*Item
	nextSeq uint64
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		items: make(map[string]*Item),
	}
}

// Enqueue adds a pair for review. Enqueueing an already-pending pair is a
// no-op and returns false. A pair resolved earlier may be queued again, for
// example after re-scoring with fresh attributes.
func (q *Queue) Enqueue(pairID string, a, b entity.ID, score float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.items[pairID]; ok && it.Status == StatusPending {
		return false
	}

	q.nextSeq++
	q.items[pairID] = &Item{
		PairID:      pairID,
		A:           a,
		B:           b,
		Score:       score,
		Status:      StatusPending,
		EnqueuedSeq: q.nextSeq,
	}
	return true
}

// Pending returns all pending items in enqueue order.
func (q *Queue) Pending() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []Item
	for _, it := range q.items {
		if it.Status == StatusPending {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedSeq < out[j].EnqueuedSeq })
	return out
}

// Get returns the item for a pair id, pending or resolved.
func (q *Queue) Get(pairID string) (Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	it, ok := q.items[pairID]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Resolve marks a pending item as approved or rejected and returns it.
// Resolving a pair that is not pending fails with ErrNotQueued, so a decision
// cannot be replayed twice.
func (q *Queue) Resolve(pairID string, approved bool, reviewer string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[pairID]
	if !ok || it.Status != StatusPending {
		return Item{}, fmt.Errorf("%w: %s", ErrNotQueued, pairID)
	}

	if approved {
		it.Status = StatusApproved
	} else {
		it.Status = StatusRejected
	}
	it.Reviewer = reviewer
	return *it, nil
}

// Items returns every item, pending and resolved, in enqueue order.
func (q *Queue) Items() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedSeq < out[j].EnqueuedSeq })
	return out
}

// Load replaces the queue contents, e.g. when restoring a snapshot.
func (q *Queue) Load(items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make(map[string]*Item, len(items))
	q.nextSeq = 0
	for _, it := range items {
		item := it
		q.items[item.PairID] = &item
		if item.EnqueuedSeq > q.nextSeq {
			q.nextSeq = item.EnqueuedSeq
		}
	}
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, it := range q.items {
		if it.Status == StatusPending {
			n++
		}
	}
	return n
}
