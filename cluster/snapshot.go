package cluster

import (
	"sort"

	"github.com/hupe1980/resolvgo/entity"
)

// State is the full serializable state of a Store, used for snapshots.
// Records carries every merge log ever written, superseded roots included,
// so imported stores can still reverse chained merges.
type State struct {
	Assignment map[entity.ID]entity.ID `json:"assignment"`
	Records    map[entity.ID]Record    `json:"records"`
	Seq        map[entity.ID]uint64    `json:"seq"`
	NextSeq    uint64                  `json:"next_seq"`
	NextOpSeq  uint64                  `json:"next_op_seq"`
	Poisoned   map[entity.ID]string    `json:"poisoned,omitempty"`
}

// Export captures the store state under a read lock.
func (s *Store) Export() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		Assignment: make(map[entity.ID]entity.ID, len(s.assignment)),
		Records:    make(map[entity.ID]Record, len(s.records)),
		Seq:        make(map[entity.ID]uint64, len(s.seq)),
		NextSeq:    s.nextSeq,
		NextOpSeq:  s.nextOpSeq,
	}

	for member, root := range s.assignment {
		st.Assignment[member] = root
	}
	for root, rec := range s.records {
		members := make([]entity.ID, 0, len(rec.members))
		for m := range rec.members {
			members = append(members, m)
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		st.Records[root] = Record{
			ClusterID: root,
			Members:   members,
			MergeLog:  append([]MergeOp(nil), rec.mergeLog...),
		}
	}
	for id, n := range s.seq {
		st.Seq[id] = n
	}
	if len(s.poisoned) > 0 {
		st.Poisoned = make(map[entity.ID]string, len(s.poisoned))
		for root, ie := range s.poisoned {
			st.Poisoned[root] = ie.Detail
		}
	}
	return st
}

// Import replaces the store contents with an exported state.
func (s *Store) Import(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignment = make(map[entity.ID]entity.ID, len(st.Assignment))
	for member, root := range st.Assignment {
		s.assignment[member] = root
	}

	s.records = make(map[entity.ID]*record, len(st.Records))
	for root, rec := range st.Records {
		members := make(map[entity.ID]struct{}, len(rec.Members))
		for _, m := range rec.Members {
			members[m] = struct{}{}
		}
		s.records[root] = &record{
			members:  members,
			mergeLog: append([]MergeOp(nil), rec.MergeLog...),
		}
	}

	s.seq = make(map[entity.ID]uint64, len(st.Seq))
	for id, n := range st.Seq {
		s.seq[id] = n
	}
	s.nextSeq = st.NextSeq
	s.nextOpSeq = st.NextOpSeq

	s.poisoned = make(map[entity.ID]*InvariantError, len(st.Poisoned))
	for root, detail := range st.Poisoned {
		s.poisoned[root] = &InvariantError{Root: root, Detail: detail}
	}
}
