// Package lsh implements the MinHash/LSH blocking index.
//
// Each entity's searchable string attributes are tokenized and hashed into a
// MinHash signature of NumPerm values. The signature is partitioned into
// Bands bands of Rows rows each (NumPerm = Bands*Rows); the entity id is
// inserted into one bucket per band, keyed by the band's row hash. Entities
// sharing at least one bucket become candidates.
//
// The index is probabilistic: false negatives are possible and accepted
// (tunable via the band/row split), false positives are expected and filtered
// by scoring.
package lsh

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/index"
)

// Compile-time check that LSH satisfies the blocking contract.
var _ index.BlockingIndex = (*LSH)(nil)

// mersennePrime is the classic 2^61-1 modulus for MinHash permutations.
const mersennePrime = uint64(1<<61 - 1)

// Options contains configuration for the LSH index.
type Options struct {
	// NumPerm is the MinHash signature length. Must equal Bands*Rows.
	NumPerm int

	// Bands is the number of LSH bands.
	Bands int

	// Rows is the number of signature rows per band.
	Rows int

	// MaxCandidates caps the Query result. Truncation keeps the
	// lexicographically smallest entity ids for reproducibility.
	MaxCandidates int

	// Fields restricts tokenization to these string attributes.
	// Empty means every string attribute participates.
	Fields []string

	// Seed drives the permutation coefficients. Two indexes built with the
	// same seed and NumPerm produce identical signatures.
	Seed int64
}

// DefaultOptions contains the default configuration for the LSH index.
var DefaultOptions = Options{
	NumPerm:       128,
	Bands:         32,
	Rows:          4,
	MaxCandidates: 64,
	Seed:          1,
}

// band holds one LSH band: a bucket map guarded by its own lock so inserts
// into one band never block reads of another.
type band struct {
	mu      sync.RWMutex
	buckets map[uint64]*roaring.Bitmap
}

// LSH is an in-memory MinHash/LSH blocking index.
type LSH struct {
	opts Options

	// permutation coefficients, fixed at construction
	permA []uint64
	permB []uint64

	// id mapping: dense local ids for roaring membership
	idMu       sync.RWMutex
	locals     map[entity.ID]uint32
	ids        []entity.ID
	tombstones *roaring.Bitmap

	bands []*band
}

// New creates a new LSH index.
func New(optFns ...func(o *Options)) (*LSH, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NumPerm <= 0 || opts.Bands <= 0 || opts.Rows <= 0 {
		return nil, fmt.Errorf("lsh: NumPerm, Bands and Rows must be positive")
	}
	if opts.NumPerm != opts.Bands*opts.Rows {
		return nil, fmt.Errorf("lsh: NumPerm (%d) must equal Bands*Rows (%d*%d)", opts.NumPerm, opts.Bands, opts.Rows)
	}
	if opts.MaxCandidates <= 0 {
		return nil, fmt.Errorf("lsh: MaxCandidates must be positive")
	}

	// Deterministic permutation coefficients from the seed.
	rng := rand.New(rand.NewSource(opts.Seed))
	permA := make([]uint64, opts.NumPerm)
	permB := make([]uint64, opts.NumPerm)
	for i := range permA {
		permA[i] = uint64(rng.Int63n(int64(mersennePrime-1))) + 1
		permB[i] = uint64(rng.Int63n(int64(mersennePrime)))
	}

	bands := make([]*band, opts.Bands)
	for i := range bands {
		bands[i] = &band{buckets: make(map[uint64]*roaring.Bitmap)}
	}

	return &LSH{
		opts:       opts,
		permA:      permA,
		permB:      permB,
		locals:     make(map[entity.ID]uint32),
		tombstones: roaring.New(),
		bands:      bands,
	}, nil
}

// Signature computes the MinHash signature for an entity.
// Entities without any tokens get a nil signature and are not indexable.
func (l *LSH) Signature(e *entity.Entity) []uint64 {
	tokens := e.Tokens(l.opts.Fields...)
	if len(tokens) == 0 {
		return nil
	}

	sig := make([]uint64, l.opts.NumPerm)
	for i := range sig {
		sig[i] = mersennePrime
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		tv := h.Sum64() % mersennePrime
		for i := range sig {
			hv := (l.permA[i]*tv + l.permB[i]) % mersennePrime
			if hv < sig[i] {
				sig[i] = hv
			}
		}
	}
	return sig
}

// bandKey hashes one band slice of the signature into a bucket key.
func bandKey(bandIdx int, rows []uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(bandIdx))
	_, _ = h.Write(buf[:])
	for _, v := range rows {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Insert adds the entity to one bucket per band.
// Re-inserting an id un-tombstones it and refreshes its buckets.
func (l *LSH) Insert(e *entity.Entity) error {
	sig := l.Signature(e)
	if sig == nil {
		// Nothing to block on; the entity can still be merged explicitly.
		return nil
	}

	local := l.localID(e.ID)

	for i, b := range l.bands {
		key := bandKey(i, sig[i*l.opts.Rows:(i+1)*l.opts.Rows])
		b.mu.Lock()
		bm, ok := b.buckets[key]
		if !ok {
			bm = roaring.New()
			b.buckets[key] = bm
		}
		bm.Add(local)
		b.mu.Unlock()
	}

	l.idMu.Lock()
	l.tombstones.Remove(local)
	l.idMu.Unlock()

	return nil
}

// Query unions bucket contents across all bands for the entity's signature,
// excludes the entity itself and tombstoned ids, and truncates to
// MaxCandidates by ascending entity id.
func (l *LSH) Query(e *entity.Entity) ([]entity.ID, error) {
	sig := l.Signature(e)
	if sig == nil {
		return nil, nil
	}

	union := roaring.New()
	for i, b := range l.bands {
		key := bandKey(i, sig[i*l.opts.Rows:(i+1)*l.opts.Rows])
		b.mu.RLock()
		if bm, ok := b.buckets[key]; ok {
			union.Or(bm)
		}
		b.mu.RUnlock()
	}

	l.idMu.RLock()
	defer l.idMu.RUnlock()

	union.AndNot(l.tombstones)

	out := make([]entity.ID, 0, union.GetCardinality())
	it := union.Iterator()
	for it.HasNext() {
		local := it.Next()
		id := l.ids[local]
		if id == e.ID {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > l.opts.MaxCandidates {
		out = out[:l.opts.MaxCandidates]
	}
	return out, nil
}

// Delete tombstones the entity. Bucket contents stay untouched so concurrent
// queries keep stable signatures; the id is filtered at read time.
func (l *LSH) Delete(id entity.ID) error {
	l.idMu.Lock()
	defer l.idMu.Unlock()

	local, ok := l.locals[id]
	if !ok {
		return fmt.Errorf("lsh: unknown entity %s", id)
	}
	l.tombstones.Add(local)
	return nil
}

// Stats returns counters describing the index.
func (l *LSH) Stats() index.Stats {
	l.idMu.RLock()
	live := len(l.ids) - int(l.tombstones.GetCardinality())
	tombs := int(l.tombstones.GetCardinality())
	l.idMu.RUnlock()

	buckets := 0
	for _, b := range l.bands {
		b.mu.RLock()
		buckets += len(b.buckets)
		b.mu.RUnlock()
	}
	return index.Stats{Entities: live, Tombstones: tombs, Buckets: buckets}
}

// localID returns the dense local id for an entity id, allocating on first use.
func (l *LSH) localID(id entity.ID) uint32 {
	l.idMu.Lock()
	defer l.idMu.Unlock()

	if local, ok := l.locals[id]; ok {
		return local
	}
	local := uint32(len(l.ids))
	l.locals[id] = local
	l.ids = append(l.ids, id)
	return local
}
