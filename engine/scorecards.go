package engine

import (
	"sync"

	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/scoring"
)

// ScorecardStore keeps every scorecard ever computed, versioned per pair.
// Re-scoring appends a new version; history is never silently dropped, so
// an audit decision can always be traced to the exact scorecard it saw.
type ScorecardStore struct {
	mu      sync.RWMutex
	cards   map[entity.PairID][]*scoring.Scorecard
	nextSeq uint64
}

// NewScorecardStore creates an empty ScorecardStore.
func NewScorecardStore() *ScorecardStore {
	return &ScorecardStore{
		cards: make(map[entity.PairID][]*scoring.Scorecard),
	}
}

// Put persists a scorecard for a pair, assigning it the next version
// sequence. The stored copy is returned; the caller's card is not retained.
func (s *ScorecardStore) Put(pairID entity.PairID, card *scoring.Scorecard) *scoring.Scorecard {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++

	stored := &scoring.Scorecard{
		PairID:   pairID,
		Seq:      s.nextSeq,
		Total:    card.Total,
		Features: append([]scoring.FeatureResult(nil), card.Features...),
	}
	s.cards[pairID] = append(s.cards[pairID], stored)
	return stored
}

// Latest returns the most recent scorecard for a pair.
func (s *ScorecardStore) Latest(pairID entity.PairID) (*scoring.Scorecard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.cards[pairID]
	if len(versions) == 0 {
		return nil, false
	}
	return versions[len(versions)-1], true
}

// Versions returns all scorecard versions for a pair, oldest first.
func (s *ScorecardStore) Versions(pairID entity.PairID) []*scoring.Scorecard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*scoring.Scorecard, len(s.cards[pairID]))
	copy(out, s.cards[pairID])
	return out
}

// Export returns a deep copy of every scorecard version, keyed by pair.
func (s *ScorecardStore) Export() map[entity.PairID][]*scoring.Scorecard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[entity.PairID][]*scoring.Scorecard, len(s.cards))
	for pairID, versions := range s.cards {
		copies := make([]*scoring.Scorecard, len(versions))
		for i, card := range versions {
			c := *card
			c.Features = append([]scoring.FeatureResult(nil), card.Features...)
			copies[i] = &c
		}
		out[pairID] = copies
	}
	return out
}

// Import replaces the store contents with exported scorecards, e.g. when
// restoring a snapshot. Version sequences continue above the imported maximum.
func (s *ScorecardStore) Import(cards map[entity.PairID][]*scoring.Scorecard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cards = make(map[entity.PairID][]*scoring.Scorecard, len(cards))
	s.nextSeq = 0
	for pairID, versions := range cards {
		copies := make([]*scoring.Scorecard, len(versions))
		for i, card := range versions {
			c := *card
			c.Features = append([]scoring.FeatureResult(nil), card.Features...)
			copies[i] = &c
			if c.Seq > s.nextSeq {
				s.nextSeq = c.Seq
			}
		}
		s.cards[pairID] = copies
	}
}

// Pairs returns the number of pairs with at least one scorecard.
func (s *ScorecardStore) Pairs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cards)
}
