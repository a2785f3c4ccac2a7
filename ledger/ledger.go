// Package ledger implements the append-only, hash-chained audit log.
//
// Every identity decision (merge, split, rejection, adjudication) is recorded
// as an Entry whose hash covers the previous entry's hash, so any tampering
// with history is detectable by Verify. Appends are serialized through a
// single writer; sequence numbers are strictly increasing with no gaps.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/resolvgo/entity"
)

// Action identifies the kind of identity decision an entry records.
type Action string

const (
	// ActionMerge records two clusters being united.
	ActionMerge Action = "merge"
	// ActionSplit records a previous merge being reversed.
	ActionSplit Action = "split"
	// ActionReject records an automatic rejection of a candidate pair.
	ActionReject Action = "reject"
	// ActionAdjudicateApprove records a human approving a queued pair.
	ActionAdjudicateApprove Action = "adjudicate_approve"
	// ActionAdjudicateReject records a human rejecting a queued pair.
	ActionAdjudicateReject Action = "adjudicate_reject"
)

func (a Action) valid() bool {
	switch a {
	case ActionMerge, ActionSplit, ActionReject, ActionAdjudicateApprove, ActionAdjudicateReject:
		return true
	}
	return false
}

// genesisHash anchors the chain: the first entry's PrevHash.
var genesisHash = hex.EncodeToString(make([]byte, sha256.Size))

// Record is the caller-supplied part of an audit entry.
type Record struct {
	Action      Action      `json:"action"`
	Actor       string      `json:"actor"`
	Reason      string      `json:"reason"`
	AffectedIDs []entity.ID `json:"affected_ids"`
	ClusterID   entity.ID   `json:"cluster_id,omitempty"`
	PairID      string      `json:"pair_id,omitempty"`
}

// Entry is a committed audit record.
//
// EntryHash = SHA-256(PrevHash bytes || canonical JSON of the entry with both
// hash fields empty). Timestamps are Unix nanoseconds so the canonical
// encoding is byte-stable across encode/decode cycles.
type Entry struct {
	Seq         uint64      `json:"seq"`
	TS          int64       `json:"ts"`
	Action      Action      `json:"action"`
	Actor       string      `json:"actor"`
	Reason      string      `json:"reason"`
	AffectedIDs []entity.ID `json:"affected_ids"`
	ClusterID   entity.ID   `json:"cluster_id,omitempty"`
	PairID      string      `json:"pair_id,omitempty"`
	PrevHash    string      `json:"prev_hash"`
	EntryHash   string      `json:"entry_hash"`
}

// Time returns the entry timestamp.
func (e Entry) Time() time.Time {
	return time.Unix(0, e.TS)
}

func (e Entry) computeHash() (string, error) {
	shadow := e
	shadow.PrevHash = ""
	shadow.EntryHash = ""

	// Canonical form: encoding/json over a fixed struct. Field order is the
	// struct order, so the bytes are stable across versions of this file.
	payload, err := json.Marshal(shadow)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TamperError reports a broken hash chain.
type TamperError struct {
	Seq    uint64
	Detail string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("ledger tampered at seq %d: %s", e.Seq, e.Detail)
}

// ErrClosed is returned when appending to a closed ledger.
var ErrClosed = errors.New("ledger is closed")

// Filter selects entries for Query. Zero values match everything.
type Filter struct {
	// EntityID matches entries whose AffectedIDs or ClusterID contain the id.
	EntityID entity.ID
	// PairID matches entries for a specific candidate pair.
	PairID string
	// FromSeq/ToSeq bound the sequence range (inclusive; 0 means unbounded).
	FromSeq uint64
	ToSeq   uint64
	// After/Before bound the timestamp range (zero means unbounded).
	After  time.Time
	Before time.Time
	// Actions restricts to the given actions (empty means all).
	Actions []Action
}

func (f Filter) matches(e Entry) bool {
	if f.EntityID != "" {
		found := f.EntityID == e.ClusterID
		for _, id := range e.AffectedIDs {
			if id == f.EntityID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PairID != "" && f.PairID != e.PairID {
		return false
	}
	if f.FromSeq > 0 && e.Seq < f.FromSeq {
		return false
	}
	if f.ToSeq > 0 && e.Seq > f.ToSeq {
		return false
	}
	if !f.After.IsZero() && !e.Time().After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.Time().Before(f.Before) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Ledger is the append-only audit log with an in-memory chain and an optional
// file-backed segment log for durability.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	closed  bool

	log   *segmentLog
	clock func() time.Time
}

// New creates a Ledger. With a Path option the on-disk segment is replayed
// and verified before the ledger accepts new appends.
func New(optFns ...func(o *Options)) (*Ledger, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	l := &Ledger{
		head:  genesisHash,
		clock: opts.Clock,
	}
	if l.clock == nil {
		l.clock = time.Now
	}

	if opts.Path != "" {
		log, replayed, err := openSegmentLog(opts)
		if err != nil {
			return nil, err
		}
		l.log = log

		for _, e := range replayed {
			if err := l.admit(e); err != nil {
				_ = log.Close()
				return nil, err
			}
		}
	}

	return l, nil
}

// admit validates a replayed entry against the chain tail and accepts it.
func (l *Ledger) admit(e Entry) error {
	wantSeq := uint64(len(l.entries)) + 1
	if e.Seq != wantSeq {
		return &TamperError{Seq: e.Seq, Detail: fmt.Sprintf("expected seq %d", wantSeq)}
	}
	if e.PrevHash != l.head {
		return &TamperError{Seq: e.Seq, Detail: "prev_hash does not match chain head"}
	}
	hash, err := e.computeHash()
	if err != nil {
		return err
	}
	if hash != e.EntryHash {
		return &TamperError{Seq: e.Seq, Detail: "entry_hash mismatch"}
	}
	l.entries = append(l.entries, e)
	l.head = e.EntryHash
	return nil
}

// Append commits a record to the ledger and returns the sealed entry.
// Appends are serialized; the committed entry is durable per the configured
// durability mode before Append returns.
func (l *Ledger) Append(ctx context.Context, rec Record) (Entry, error) {
	if !rec.Action.valid() {
		return Entry{}, fmt.Errorf("unknown ledger action %q", rec.Action)
	}
	if rec.Actor == "" {
		return Entry{}, errors.New("ledger record requires an actor")
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}

	e := Entry{
		Seq:         uint64(len(l.entries)) + 1,
		TS:          l.clock().UnixNano(),
		Action:      rec.Action,
		Actor:       rec.Actor,
		Reason:      rec.Reason,
		AffectedIDs: append([]entity.ID(nil), rec.AffectedIDs...),
		ClusterID:   rec.ClusterID,
		PairID:      rec.PairID,
		PrevHash:    l.head,
	}

	hash, err := e.computeHash()
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = hash

	if l.log != nil {
		if err := l.log.append(e); err != nil {
			return Entry{}, fmt.Errorf("failed to persist ledger entry: %w", err)
		}
	}

	l.entries = append(l.entries, e)
	l.head = e.EntryHash

	return e, nil
}

// Query returns all entries matching the filter, in sequence order.
func (l *Ledger) Query(_ context.Context, f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a snapshot of the full chain.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the latest sequence number and chain head hash.
func (l *Ledger) Head() (uint64, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return uint64(len(l.entries)), l.head
}

// Len returns the number of committed entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

// Verify recomputes the full hash chain and reports the first violation.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return verifyChain(l.entries, genesisHash)
}

// verifyChain checks seq continuity and hash linkage starting from prev.
func verifyChain(entries []Entry, prev string) error {
	var lastSeq uint64
	for i, e := range entries {
		if i == 0 {
			lastSeq = e.Seq - 1
		}
		if e.Seq != lastSeq+1 {
			return &TamperError{Seq: e.Seq, Detail: fmt.Sprintf("sequence gap after %d", lastSeq)}
		}
		if e.PrevHash != prev {
			return &TamperError{Seq: e.Seq, Detail: "prev_hash broken"}
		}
		hash, err := e.computeHash()
		if err != nil {
			return err
		}
		if hash != e.EntryHash {
			return &TamperError{Seq: e.Seq, Detail: "entry_hash mismatch"}
		}
		prev = e.EntryHash
		lastSeq = e.Seq
	}
	return nil
}

// Close flushes and closes the backing segment log.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.log != nil {
		return l.log.Close()
	}
	return nil
}
