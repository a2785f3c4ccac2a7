package engine

import (
	"fmt"

	"github.com/hupe1980/resolvgo/scoring"
)

// MatcherOptions contains the decision thresholds.
type MatcherOptions struct {
	// AutoThreshold is the score at or above which a pair merges
	// automatically.
	AutoThreshold float64

	// RejectThreshold is the score below which a pair is rejected outright.
	// Scores in [RejectThreshold, AutoThreshold) go to adjudication.
	RejectThreshold float64
}

// DefaultMatcherOptions returns the default decision thresholds.
var DefaultMatcherOptions = MatcherOptions{
	AutoThreshold:   0.9,
	RejectThreshold: 0.6,
}

// Matcher is the threshold state machine that turns a scorecard into a
// decision. It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	auto   float64
	reject float64
}

// NewMatcher validates the thresholds and builds a Matcher. Inverted or
// out-of-range thresholds fail fast with a PolicyError; a Matcher can never
// produce a policy failure at decision time.
func NewMatcher(optFns ...func(o *MatcherOptions)) (*Matcher, error) {
	opts := DefaultMatcherOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RejectThreshold >= opts.AutoThreshold {
		return nil, &PolicyError{Detail: fmt.Sprintf("reject threshold %v must be below auto threshold %v", opts.RejectThreshold, opts.AutoThreshold)}
	}
	if opts.RejectThreshold < 0 || opts.AutoThreshold > 1 {
		return nil, &PolicyError{Detail: fmt.Sprintf("thresholds [%v, %v] must lie within [0, 1]", opts.RejectThreshold, opts.AutoThreshold)}
	}

	return &Matcher{auto: opts.AutoThreshold, reject: opts.RejectThreshold}, nil
}

// Thresholds returns the configured (reject, auto) thresholds.
func (m *Matcher) Thresholds() (float64, float64) {
	return m.reject, m.auto
}

// Decide maps a scorecard to its outcome. A pair with no comparable
// attributes is rejected as insufficient data rather than silently dropped.
func (m *Matcher) Decide(sc *scoring.Scorecard) Decision {
	if !sc.Comparable() {
		return Decision{Outcome: OutcomeRejected, Score: sc.Total, Reason: ReasonInsufficientData}
	}

	switch {
	case sc.Total >= m.auto:
		return Decision{Outcome: OutcomeAutoMerged, Score: sc.Total, Reason: ReasonAutoThreshold}
	case sc.Total >= m.reject:
		return Decision{Outcome: OutcomeQueued, Score: sc.Total, Reason: ReasonQueuedForReview}
	default:
		return Decision{Outcome: OutcomeRejected, Score: sc.Total, Reason: ReasonBelowThreshold}
	}
}
