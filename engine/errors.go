package engine

import (
	"fmt"

	"github.com/hupe1980/resolvgo/entity"
)

// ValidationError indicates a malformed entity: missing id or unsupported
// attribute values. Recoverable, caller-visible, writes no audit entry.
type ValidationError struct {
	Detail string
	cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// NotFoundError indicates an unknown entity, pair, or cluster.
type NotFoundError struct {
	Kind  string // "entity", "pair", "cluster", "scorecard"
	ID    string
	cause error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.cause }

// ConflictError indicates a request that contradicts current state, such as
// splitting a pair that was never merged or losing a concurrent mutation
// race.
type ConflictError struct {
	Detail string
	cause  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Detail)
}

func (e *ConflictError) Unwrap() error { return e.cause }

// PolicyError indicates misconfiguration, such as inverted thresholds. It is
// raised at construction time, never mid-operation.
type PolicyError struct {
	Detail string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy violation: %s", e.Detail)
}

// InvariantViolation indicates broken cluster consistency. Fatal for the
// affected cluster only: the engine refuses further mutation on it and
// surfaces the condition for manual repair.
type InvariantViolation struct {
	ClusterID entity.ID
	Detail    string
	cause     error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated on cluster %s: %s", e.ClusterID, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return e.cause }
