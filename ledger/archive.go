package ledger

import (
	"context"
	"fmt"

	"github.com/hupe1980/resolvgo/blobstore"
	"github.com/hupe1980/resolvgo/codec"
	"github.com/klauspost/compress/zstd"
)

// ArchiverOptions contains configuration for the Archiver.
type ArchiverOptions struct {
	// Prefix namespaces archived segments in the blob store.
	Prefix string

	// Codec encodes sealed segments.
	Codec codec.Codec

	// CompressionLevel sets the zstd level for sealed segments.
	CompressionLevel int
}

// DefaultArchiverOptions returns default Archiver options.
var DefaultArchiverOptions = ArchiverOptions{
	Prefix:           "audit/",
	Codec:            codec.Default,
	CompressionLevel: 3,
}

// Archiver exports sealed ranges of the audit chain to a blob store for
// long-term retention. Sealed segments are immutable and carry enough
// context (bounding hashes) to be verified standalone.
type Archiver struct {
	store blobstore.BlobStore
	opts  ArchiverOptions
}

// NewArchiver creates an Archiver backed by the given blob store.
func NewArchiver(store blobstore.BlobStore, optFns ...func(o *ArchiverOptions)) *Archiver {
	opts := DefaultArchiverOptions

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Archiver{store: store, opts: opts}
}

// sealedSegment is the archived representation of a chain range.
type sealedSegment struct {
	FromSeq  uint64  `json:"from_seq"`
	ToSeq    uint64  `json:"to_seq"`
	PrevHash string  `json:"prev_hash"`
	HeadHash string  `json:"head_hash"`
	Entries  []Entry `json:"entries"`
}

// Archive seals entries [fromSeq, toSeq] and uploads them. It returns the
// blob name. The ledger itself is untouched; archival is an export.
func (a *Archiver) Archive(ctx context.Context, l *Ledger, fromSeq, toSeq uint64) (string, error) {
	if fromSeq == 0 || toSeq < fromSeq {
		return "", fmt.Errorf("invalid archive range [%d, %d]", fromSeq, toSeq)
	}

	entries := l.Query(ctx, Filter{FromSeq: fromSeq, ToSeq: toSeq})
	if uint64(len(entries)) != toSeq-fromSeq+1 {
		return "", fmt.Errorf("archive range [%d, %d] not fully committed", fromSeq, toSeq)
	}

	seg := sealedSegment{
		FromSeq:  fromSeq,
		ToSeq:    toSeq,
		PrevHash: entries[0].PrevHash,
		HeadHash: entries[len(entries)-1].EntryHash,
		Entries:  entries,
	}

	data, err := a.opts.Codec.Marshal(seg)
	if err != nil {
		return "", fmt.Errorf("failed to encode sealed segment: %w", err)
	}

	level := zstd.EncoderLevelFromZstd(a.opts.CompressionLevel)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	compressed := enc.EncodeAll(data, nil)
	_ = enc.Close()

	name := a.segmentName(fromSeq, toSeq)
	if err := a.store.Put(ctx, name, compressed); err != nil {
		return "", fmt.Errorf("failed to upload sealed segment: %w", err)
	}
	return name, nil
}

// Load fetches a sealed segment, verifies its chain, and returns its entries.
func (a *Archiver) Load(ctx context.Context, name string) ([]Entry, error) {
	compressed, err := blobstore.ReadAll(ctx, a.store, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sealed segment: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress sealed segment: %w", err)
	}

	var seg sealedSegment
	if err := a.opts.Codec.Unmarshal(data, &seg); err != nil {
		return nil, fmt.Errorf("failed to decode sealed segment: %w", err)
	}

	if len(seg.Entries) == 0 {
		return nil, fmt.Errorf("sealed segment %s is empty", name)
	}
	if err := verifyChain(seg.Entries, seg.PrevHash); err != nil {
		return nil, err
	}
	if head := seg.Entries[len(seg.Entries)-1].EntryHash; head != seg.HeadHash {
		return nil, &TamperError{Seq: seg.ToSeq, Detail: "segment head hash mismatch"}
	}

	return seg.Entries, nil
}

// List returns the names of all archived segments.
func (a *Archiver) List(ctx context.Context) ([]string, error) {
	return a.store.List(ctx, a.opts.Prefix)
}

func (a *Archiver) segmentName(fromSeq, toSeq uint64) string {
	return fmt.Sprintf("%s%016d-%016d.seg.zst", a.opts.Prefix, fromSeq, toSeq)
}
