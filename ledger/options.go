package ledger

import (
	"time"

	"github.com/hupe1980/resolvgo/codec"
)

// DurabilityMode defines the fsync behavior for ledger writes.
type DurabilityMode int

const (
	// DurabilityAsync performs no fsync. Fastest writes but entries may be
	// lost on crash.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit batches fsync at regular intervals, amortizing
	// its cost across appends. Recommended for most workloads.
	DurabilityGroupCommit

	// DurabilitySync fsyncs after every append. Slowest but strongest
	// guarantee; use when audit entries must survive any crash.
	DurabilitySync
)

// Options contains configuration for the Ledger.
type Options struct {
	// Path is the directory where the segment file is stored.
	// Empty keeps the ledger in memory only.
	Path string

	// Codec encodes entries on disk. The segment header records the codec
	// name so the file is self-describing.
	Codec codec.Codec

	// Compress enables zstd compression of the segment file.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22).
	CompressionLevel int

	// DurabilityMode controls fsync behavior (Async, GroupCommit, Sync).
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time to wait before fsync in
	// GroupCommit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps is the maximum appends to batch before fsync in
	// GroupCommit mode.
	GroupCommitMaxOps int

	// Clock supplies entry timestamps. Tests inject a fixed clock here.
	Clock func() time.Time
}

// DefaultOptions returns default Ledger options.
var DefaultOptions = Options{
	Path:                "",
	Codec:               codec.Default,
	Compress:            false,
	CompressionLevel:    3,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
	Clock:               nil,
}
