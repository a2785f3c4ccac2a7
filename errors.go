package resolvgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/resolvgo/engine"
)

// ErrNotFound is returned when a requested entity, pair, cluster, or
// scorecard does not exist. Check with errors.Is; the wrapped
// *NotFoundError carries the kind and id.
var ErrNotFound = errors.New("not found")

// ValidationError indicates a malformed entity.
type ValidationError = engine.ValidationError

// NotFoundError indicates an unknown entity, pair, cluster, or scorecard.
type NotFoundError = engine.NotFoundError

// ConflictError indicates a request that contradicts current state.
type ConflictError = engine.ConflictError

// PolicyError indicates engine misconfiguration, raised at construction time.
type PolicyError = engine.PolicyError

// InvariantViolation indicates broken cluster consistency.
type InvariantViolation = engine.InvariantViolation

// translateError unifies lookup failures under the ErrNotFound sentinel so
// callers can use errors.Is without knowing which layer produced the error.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var nfe *engine.NotFoundError
	if errors.As(err, &nfe) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
