// Package scoring computes deterministic, explainable pairwise similarity
// scores.
//
// A Scorer is a pure function over two attribute bags: no I/O, no randomness,
// no clock. Given identical inputs it returns bit-identical Scorecards, which
// is what makes audit-ledger replay reproducible.
package scoring

import (
	"fmt"
	"sort"

	"github.com/hupe1980/resolvgo/entity"
)

// FeatureFunc computes a raw similarity score in [0,1] for one feature.
// applicable=false means a required attribute was missing on either side;
// that is recorded distinctly from "applicable and scored zero".
type FeatureFunc func(a, b entity.Attributes) (raw float64, applicable bool)

// FeatureResult is one feature's contribution to a Scorecard.
type FeatureResult struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	RawScore   float64 `json:"raw_score"`
	Applicable bool    `json:"applicable"`
}

// Scorecard is the persisted, explainable record of one pairwise comparison.
// Features are ordered by feature name.
type Scorecard struct {
	PairID   entity.PairID   `json:"pair_id"`
	Seq      uint64          `json:"seq"`
	Total    float64         `json:"total_score"`
	Features []FeatureResult `json:"features"`
}

// Comparable reports whether at least one feature was applicable.
// A non-comparable pair carries no signal either way.
func (s *Scorecard) Comparable() bool {
	for _, f := range s.Features {
		if f.Applicable {
			return true
		}
	}
	return false
}

type registered struct {
	weight float64
	fn     FeatureFunc
}

// Scorer holds the feature registry. The zero value is unusable; construct
// with New or NewWithDefaults.
type Scorer struct {
	features map[string]registered
	names    []string // sorted, rebuilt on Register
}

// New creates an empty Scorer. Features must be registered before Compute.
func New() *Scorer {
	return &Scorer{features: make(map[string]registered)}
}

// NewWithDefaults creates a Scorer with the built-in feature set
// (identifier exact-match, name similarity, phonetic bonus, numeric
// closeness).
func NewWithDefaults() *Scorer {
	s := New()
	for name, f := range builtins() {
		// Built-in weights are validated; Register cannot fail here.
		_ = s.Register(name, f.weight, f.fn)
	}
	return s
}

// Register adds a feature function under a unique name with a positive
// weight. Registration is not safe for concurrent use with Compute; build
// the registry up front.
func (s *Scorer) Register(name string, weight float64, fn FeatureFunc) error {
	if name == "" {
		return fmt.Errorf("scoring: feature name is empty")
	}
	if weight <= 0 {
		return fmt.Errorf("scoring: feature %q has non-positive weight %v", name, weight)
	}
	if fn == nil {
		return fmt.Errorf("scoring: feature %q has nil func", name)
	}
	if _, ok := s.features[name]; ok {
		return fmt.Errorf("scoring: feature %q already registered", name)
	}

	s.features[name] = registered{weight: weight, fn: fn}
	s.names = append(s.names, name)
	sort.Strings(s.names)
	return nil
}

// Names returns the registered feature names in evaluation order.
func (s *Scorer) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Compute scores one unordered pair. PairID and Seq are left for the caller
// to fill. The total is the weight-normalized sum over applicable features;
// raw scores are clamped into [0,1].
func (s *Scorer) Compute(a, b *entity.Entity) *Scorecard {
	card := &Scorecard{Features: make([]FeatureResult, 0, len(s.names))}

	var weighted, weightSum float64
	for _, name := range s.names {
		f := s.features[name]
		raw, applicable := f.fn(a.Attributes, b.Attributes)
		if raw < 0 {
			raw = 0
		} else if raw > 1 {
			raw = 1
		}
		if !applicable {
			raw = 0
		}

		card.Features = append(card.Features, FeatureResult{
			Name:       name,
			Weight:     f.weight,
			RawScore:   raw,
			Applicable: applicable,
		})

		if applicable {
			weighted += f.weight * raw
			weightSum += f.weight
		}
	}

	if weightSum > 0 {
		card.Total = weighted / weightSum
	}
	return card
}
