// Package index defines the blocking-index contract used for candidate
// generation.
//
// A blocking index trades recall for bounded work: Query returns an
// approximate candidate set and may miss true matches, but it must never be
// the component that causes an incorrect merge. Downstream scoring filters
// its false positives.
package index

import (
	"errors"

	"github.com/hupe1980/resolvgo/entity"
)

// ErrUnavailable is returned by an index whose backend cannot serve the
// request. Callers degrade to a bounded fallback scan instead of failing the
// pipeline.
var ErrUnavailable = errors.New("blocking index unavailable")

// BlockingIndex generates candidate entity ids for pairwise comparison.
type BlockingIndex interface {
	// Insert adds an entity's blocking signature to the index.
	Insert(e *entity.Entity) error

	// Query returns candidate ids for the given entity, excluding the
	// entity itself, capped at the index's configured maximum. Truncation
	// is deterministic (ascending entity id).
	Query(e *entity.Entity) ([]entity.ID, error)

	// Delete tombstones an entity. Signatures are retained so queries in
	// flight keep stable bucket contents; the id simply stops appearing
	// in results.
	Delete(id entity.ID) error
}

// Stats describes the current shape of an index.
type Stats struct {
	Entities   int // live (non-tombstoned) entities
	Tombstones int
	Buckets    int
}
