// Package engine wires the resolution pipeline: blocking, scoring,
// decisioning, cluster mutation, adjudication, and audit.
package engine

import (
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/scoring"
)

// Outcome is the terminal state of one pair decision.
type Outcome string

const (
	// OutcomeAutoMerged means the score cleared the auto threshold and the
	// clusters were united.
	OutcomeAutoMerged Outcome = "auto_merged"
	// OutcomeQueued means the score landed in the review band and the pair
	// was handed to adjudication.
	OutcomeQueued Outcome = "queued"
	// OutcomeRejected means the pair was dismissed, with the reason on the
	// decision.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRefused means the score cleared the auto threshold but the
	// cluster store refused the mutation, e.g. a poisoned cluster. No merge
	// happened and no audit entry was written.
	OutcomeRefused Outcome = "refused"
)

// Decision reasons recorded in the audit trail.
const (
	ReasonAutoThreshold    = "auto_threshold"
	ReasonQueuedForReview  = "queued_for_review"
	ReasonBelowThreshold   = "below_threshold"
	ReasonInsufficientData = "insufficient_data"
	ReasonClusterRefused   = "cluster_refused"
)

// Decision is the outcome of deciding one candidate pair.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// Candidate describes one scored candidate pair produced during ingestion.
type Candidate struct {
	Pair      entity.Pair        `json:"pair"`
	Scorecard *scoring.Scorecard `json:"scorecard"`
	Decision  Decision           `json:"decision"`
	// ClusterID is set when the decision merged the pair.
	ClusterID entity.ID `json:"cluster_id,omitempty"`
}
