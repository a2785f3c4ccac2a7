// Package cluster implements the reversible identity-assignment store.
//
// Every entity starts as a singleton cluster of itself. Merge unites two
// clusters under a deterministic root (the earliest-observed member), and
// each merge is recorded as an undo-able MergeOp so that Split can restore
// the exact pre-merge assignment, not merely detach a singleton.
//
// Cluster ids are entity ids: the root's id names the cluster, so lookups
// need no separate id space.
package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/resolvgo/entity"
)

var (
	// ErrNotMerged is returned by Split when the member was never merged
	// into the cluster (or the op that introduced it was already undone).
	ErrNotMerged = errors.New("not_merged")

	// ErrUnknownCluster is returned by Split for an id that is not a
	// current cluster root.
	ErrUnknownCluster = errors.New("unknown cluster")
)

// InvariantError reports a broken cluster consistency invariant. The
// affected cluster is poisoned: further mutation on it fails until an
// operator repairs it. Other clusters keep operating.
type InvariantError struct {
	Root   entity.ID
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("cluster %s: invariant violated: %s", e.Root, e.Detail)
}

// MergeOp records one merge for later exact reversal.
type MergeOp struct {
	Seq             uint64      `json:"seq"`
	AbsorbedRoot    entity.ID   `json:"absorbed_root"`
	NewRoot         entity.ID   `json:"new_root"`
	AbsorbedMembers []entity.ID `json:"absorbed_members"`
	Reason          string      `json:"reason"`
	Actor           string      `json:"actor"`
}

// Record is a snapshot of one cluster: its root, current members and the
// ordered merge log.
type Record struct {
	ClusterID entity.ID   `json:"cluster_id"`
	Members   []entity.ID `json:"members"`
	MergeLog  []MergeOp   `json:"merge_log"`
}

// Store is the in-memory cluster-assignment store.
//
// Concurrency: the maps are guarded by a single short-held RWMutex; logical
// mutations additionally take a per-root mutex so at most one Merge/Split is
// in flight per cluster while disjoint clusters proceed independently.
type Store struct {
	mu         sync.RWMutex
	assignment map[entity.ID]entity.ID // member -> root; absent means singleton self
	records    map[entity.ID]*record   // root (current or superseded) -> record
	seq        map[entity.ID]uint64    // observation order, roots elected by lowest
	nextSeq    uint64
	nextOpSeq  uint64
	poisoned   map[entity.ID]*InvariantError

	lockMu    sync.Mutex
	rootLocks map[entity.ID]*sync.Mutex
}

type record struct {
	members  map[entity.ID]struct{}
	mergeLog []MergeOp
}

// NewStore creates an empty cluster store.
func NewStore() *Store {
	return &Store{
		assignment: make(map[entity.ID]entity.ID),
		records:    make(map[entity.ID]*record),
		seq:        make(map[entity.ID]uint64),
		poisoned:   make(map[entity.ID]*InvariantError),
		rootLocks:  make(map[entity.ID]*sync.Mutex),
	}
}

// Observe registers an entity's creation order. First observation wins;
// repeats are no-ops. Entities merged without prior observation are observed
// implicitly at merge time.
func (s *Store) Observe(id entity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(id)
}

func (s *Store) observeLocked(id entity.ID) uint64 {
	if n, ok := s.seq[id]; ok {
		return n
	}
	s.nextSeq++
	s.seq[id] = s.nextSeq
	return s.nextSeq
}

// Find returns the cluster id for an entity. Unseen entities resolve to
// themselves: every entity is born a singleton.
func (s *Store) Find(id entity.ID) entity.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if root, ok := s.assignment[id]; ok {
		return root
	}
	return id
}

// Merge unites the clusters of a and b. It returns the resulting cluster id
// and whether anything changed: merging an already-merged pair is a no-op
// with changed=false, so callers can suppress duplicate audit entries.
func (s *Store) Merge(a, b entity.ID, reason, actor string) (entity.ID, bool, error) {
	for {
		ra, rb := s.Find(a), s.Find(b)
		if ra == rb {
			return ra, false, nil
		}

		unlock := s.lockRoots(ra, rb)

		s.mu.Lock()
		// Roots may have moved while we waited for the locks.
		if s.rootOf(a) != ra || s.rootOf(b) != rb {
			s.mu.Unlock()
			unlock()
			continue
		}

		if err := s.poisonCheckLocked(ra, rb); err != nil {
			s.mu.Unlock()
			unlock()
			return "", false, err
		}
		if err := s.verifyLocked(ra); err != nil {
			s.mu.Unlock()
			unlock()
			return "", false, err
		}
		if err := s.verifyLocked(rb); err != nil {
			s.mu.Unlock()
			unlock()
			return "", false, err
		}

		root, err := s.mergeLocked(ra, rb, reason, actor)
		s.mu.Unlock()
		unlock()
		return root, err == nil, err
	}
}

func (s *Store) rootOf(id entity.ID) entity.ID {
	if root, ok := s.assignment[id]; ok {
		return root
	}
	return id
}

func (s *Store) mergeLocked(ra, rb entity.ID, reason, actor string) (entity.ID, error) {
	seqA := s.observeLocked(ra)
	seqB := s.observeLocked(rb)

	// Earliest-observed root wins, matching the "earliest-created member"
	// cluster-id convention.
	newRoot, absorbed := ra, rb
	if seqB < seqA {
		newRoot, absorbed = rb, ra
	}

	absorbedRec := s.recordLocked(absorbed)
	newRec := s.recordLocked(newRoot)

	absorbedMembers := make([]entity.ID, 0, len(absorbedRec.members))
	for m := range absorbedRec.members {
		absorbedMembers = append(absorbedMembers, m)
	}
	sort.Slice(absorbedMembers, func(i, j int) bool { return absorbedMembers[i] < absorbedMembers[j] })

	s.nextOpSeq++
	newRec.mergeLog = append(newRec.mergeLog, MergeOp{
		Seq:             s.nextOpSeq,
		AbsorbedRoot:    absorbed,
		NewRoot:         newRoot,
		AbsorbedMembers: absorbedMembers,
		Reason:          reason,
		Actor:           actor,
	})

	for _, m := range absorbedMembers {
		s.assignment[m] = newRoot
		newRec.members[m] = struct{}{}
	}

	// The absorbed record stays behind, frozen, so a later Split can
	// resurrect the exact pre-merge cluster.
	return newRoot, nil
}

// Split undoes the most recent merge that introduced memberID into the
// cluster, restoring the absorbed sub-cluster to its pre-merge root.
// Splitting a member that was never merged in fails with ErrNotMerged.
func (s *Store) Split(clusterID, memberID entity.ID, reason, actor string) (entity.ID, error) {
	unlock := s.lockRoots(clusterID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.poisonCheckLocked(clusterID); err != nil {
		return "", err
	}

	rec, ok := s.records[clusterID]
	if !ok || s.rootOf(clusterID) != clusterID {
		return "", fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}
	if err := s.verifyLocked(clusterID); err != nil {
		return "", err
	}

	// Most recent op that brought memberID in, directly or transitively.
	opIdx := -1
	for i := len(rec.mergeLog) - 1; i >= 0; i-- {
		op := rec.mergeLog[i]
		for _, m := range op.AbsorbedMembers {
			if m == memberID {
				opIdx = i
				break
			}
		}
		if opIdx >= 0 {
			break
		}
	}
	if opIdx < 0 {
		return "", fmt.Errorf("%w: %s not merged into %s", ErrNotMerged, memberID, clusterID)
	}

	op := rec.mergeLog[opIdx]
	for _, m := range op.AbsorbedMembers {
		if op.AbsorbedRoot == m {
			delete(s.assignment, m)
		} else {
			s.assignment[m] = op.AbsorbedRoot
		}
		delete(rec.members, m)
	}

	rec.mergeLog = append(rec.mergeLog[:opIdx], rec.mergeLog[opIdx+1:]...)
	return op.AbsorbedRoot, nil
}

// Record returns a snapshot of the cluster rooted at id, or ok=false when no
// record exists (singletons that never merged have none).
func (s *Store) Record(id entity.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}

	members := make([]entity.ID, 0, len(rec.members))
	for m := range rec.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	log := make([]MergeOp, len(rec.mergeLog))
	copy(log, rec.mergeLog)

	return Record{ClusterID: id, Members: members, MergeLog: log}, true
}

// Members returns the sorted current membership of the cluster containing id.
func (s *Store) Members(id entity.ID) []entity.ID {
	root := s.Find(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[root]
	if !ok {
		return []entity.ID{root}
	}
	members := make([]entity.ID, 0, len(rec.members))
	for m := range rec.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// Poisoned reports whether mutations on the cluster are refused, and why.
func (s *Store) Poisoned(root entity.ID) (*InvariantError, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err, ok := s.poisoned[root]
	return err, ok
}

// recordLocked returns the live record for a root, creating the singleton
// record on first use.
func (s *Store) recordLocked(root entity.ID) *record {
	rec, ok := s.records[root]
	if !ok {
		rec = &record{members: map[entity.ID]struct{}{root: {}}}
		s.records[root] = rec
	}
	return rec
}

func (s *Store) poisonCheckLocked(roots ...entity.ID) error {
	for _, r := range roots {
		if err, ok := s.poisoned[r]; ok {
			return err
		}
	}
	return nil
}

// verifyLocked checks transitive consistency for a root and poisons the
// cluster on violation. The engine refuses to guess: a poisoned cluster is
// surfaced for manual repair.
func (s *Store) verifyLocked(root entity.ID) error {
	rec, ok := s.records[root]
	if !ok {
		return nil
	}
	for m := range rec.members {
		got := s.rootOf(m)
		if got != root {
			ie := &InvariantError{
				Root:   root,
				Detail: fmt.Sprintf("member %s resolves to %s", m, got),
			}
			s.poisoned[root] = ie
			return ie
		}
	}
	return nil
}

// lockRoots acquires the per-root mutexes in sorted order (deadlock-free)
// and returns the matching unlock.
func (s *Store) lockRoots(roots ...entity.ID) func() {
	sorted := make([]entity.ID, len(roots))
	copy(sorted, roots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var locks []*sync.Mutex
	var prev entity.ID
	for i, r := range sorted {
		if i > 0 && r == prev {
			continue
		}
		prev = r
		locks = append(locks, s.rootLock(r))
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (s *Store) rootLock(root entity.ID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.rootLocks[root]
	if !ok {
		l = &sync.Mutex{}
		s.rootLocks[root] = l
	}
	return l
}
