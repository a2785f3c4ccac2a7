package ledger

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/resolvgo/codec"
	"github.com/klauspost/compress/zstd"
)

const (
	segmentFileName = "audit.seg"

	segmentMagic   = "RGAL"
	segmentVersion = uint8(1)

	flagCompressed = uint8(1 << 0)

	// maxEntrySize bounds a single length-prefixed record so a corrupt
	// length cannot trigger a huge allocation during replay.
	maxEntrySize = 16 << 20
)

// segmentLog is the file-backed append log for ledger entries.
//
// On-disk format: a self-describing header (magic, version, flags,
// compression level, codec name) followed by length-prefixed codec-encoded
// entries, optionally wrapped in a zstd stream.
type segmentLog struct {
	mu           sync.Mutex
	file         *os.File
	bufWriter    *bufio.Writer
	compressor   *zstd.Encoder
	codec        codec.Codec
	compressed   bool
	appendedSeq  uint64

	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int
	groupCommitWg       sync.WaitGroup

	syncCond     *sync.Cond
	persistedSeq uint64
}

// openSegmentLog opens (or creates) the segment file and replays its entries.
func openSegmentLog(opts Options) (*segmentLog, []Entry, error) {
	if err := os.MkdirAll(opts.Path, 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	path := filepath.Join(opts.Path, segmentFileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) //nolint:gosec // G304: Path is configurable
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger segment: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to stat ledger segment: %w", err)
	}

	s := &segmentLog{
		file:                file,
		codec:               opts.Codec,
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	if s.codec == nil {
		s.codec = codec.Default
	}
	s.syncCond = sync.NewCond(&s.mu)

	var replayed []Entry
	if st.Size() == 0 {
		if err := s.writeHeader(opts.Compress, opts.CompressionLevel); err != nil {
			_ = file.Close()
			return nil, nil, err
		}
		s.compressed = opts.Compress
	} else {
		replayed, err = s.replay()
		if err != nil {
			_ = file.Close()
			return nil, nil, err
		}
	}
	if len(replayed) > 0 {
		s.appendedSeq = replayed[len(replayed)-1].Seq
		s.persistedSeq = s.appendedSeq
	}

	// Position at the end for appending.
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to seek ledger segment: %w", err)
	}

	if s.compressed {
		level := zstd.EncoderLevelFromZstd(opts.CompressionLevel)
		compressor, err := zstd.NewWriter(s.file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("failed to create compressor: %w", err)
		}
		s.compressor = compressor
		s.bufWriter = bufio.NewWriter(compressor)
	} else {
		s.bufWriter = bufio.NewWriter(s.file)
	}

	if s.durabilityMode == DurabilityGroupCommit {
		if s.groupCommitInterval <= 0 {
			// Group commit needs the ticking worker to wake waiting
			// appenders. Without an interval there is no waker, so degrade
			// to per-append sync instead of stalling.
			s.durabilityMode = DurabilitySync
		} else {
			s.groupCommitStopCh = make(chan struct{})
			s.groupCommitTicker = time.NewTicker(s.groupCommitInterval)
			s.groupCommitWg.Add(1)
			go s.groupCommitWorker()
		}
	}

	return s, replayed, nil
}

func (s *segmentLog) writeHeader(compressed bool, level int) error {
	name := s.codec.Name()
	hdr := make([]byte, 0, len(segmentMagic)+4+len(name))
	hdr = append(hdr, segmentMagic...)
	hdr = append(hdr, segmentVersion)
	var flags uint8
	if compressed {
		flags |= flagCompressed
	}
	hdr = append(hdr, flags, uint8(level), uint8(len(name))) //nolint:gosec
	hdr = append(hdr, name...)

	if _, err := s.file.Write(hdr); err != nil {
		return fmt.Errorf("failed to write segment header: %w", err)
	}
	return nil
}

// readHeader parses the header and leaves the file positioned at the start
// of the entry stream.
func (s *segmentLog) readHeader() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	fixed := make([]byte, len(segmentMagic)+4)
	if _, err := io.ReadFull(s.file, fixed); err != nil {
		return fmt.Errorf("failed to read segment header: %w", err)
	}
	if string(fixed[:len(segmentMagic)]) != segmentMagic {
		return errors.New("invalid ledger segment header")
	}
	if fixed[len(segmentMagic)] != segmentVersion {
		return fmt.Errorf("unsupported ledger segment version %d", fixed[len(segmentMagic)])
	}
	s.compressed = fixed[len(segmentMagic)+1]&flagCompressed != 0

	nameLen := int(fixed[len(segmentMagic)+3])
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(s.file, name); err != nil {
		return fmt.Errorf("failed to read segment codec name: %w", err)
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return fmt.Errorf("unknown segment codec %q", name)
	}
	s.codec = c
	return nil
}

// replay decodes every entry in the segment. A corrupt tail (torn write on
// crash) ends the replay at the last good entry.
func (s *segmentLog) replay() ([]Entry, error) {
	if err := s.readHeader(); err != nil {
		return nil, err
	}

	var reader io.Reader = s.file
	if s.compressed {
		dec, err := zstd.NewReader(s.file)
		if err != nil {
			return nil, fmt.Errorf("failed to create decompressor: %w", err)
		}
		defer dec.Close()
		reader = dec
	}
	br := bufio.NewReader(reader)

	var entries []Entry
	for {
		e, err := decodeEntry(br, s.codec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Corrupt tail: keep what decoded cleanly.
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(r io.Reader, c codec.Codec) (Entry, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return Entry{}, err
	}
	if n == 0 || n > maxEntrySize {
		return Entry{}, fmt.Errorf("invalid entry length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := c.Unmarshal(buf, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// append encodes and persists one entry per the configured durability mode.
func (s *segmentLog) append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := binary.Write(s.bufWriter, binary.LittleEndian, uint32(len(data))); err != nil { //nolint:gosec
		return err
	}
	if _, err := s.bufWriter.Write(data); err != nil {
		return err
	}
	s.appendedSeq = e.Seq

	if err := s.flushLocked(); err != nil {
		return err
	}
	return s.syncIfNeeded()
}

func (s *segmentLog) flushLocked() error {
	if err := s.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if s.compressed {
		if err := s.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}

// syncIfNeeded performs fsync based on the configured durability mode.
// Caller must hold s.mu.
func (s *segmentLog) syncIfNeeded() error {
	switch s.durabilityMode {
	case DurabilityAsync:
		return nil

	case DurabilitySync:
		return s.file.Sync()

	case DurabilityGroupCommit:
		s.groupCommitPending++
		targetSeq := s.appendedSeq

		if s.groupCommitPending >= s.groupCommitMaxOps {
			return s.doGroupCommit()
		}
		// Wait for the background sync. Wait releases s.mu so the worker
		// (or another appender) can perform it.
		for s.persistedSeq < targetSeq {
			s.syncCond.Wait()
		}
		return nil

	default:
		return nil
	}
}

// doGroupCommit performs the fsync and wakes waiting appenders.
// Caller must hold s.mu.
func (s *segmentLog) doGroupCommit() error {
	if s.groupCommitPending == 0 {
		return nil
	}

	if err := s.file.Sync(); err != nil {
		return err
	}

	s.groupCommitPending = 0
	s.persistedSeq = s.appendedSeq
	s.syncCond.Broadcast()
	return nil
}

func (s *segmentLog) groupCommitWorker() {
	defer s.groupCommitWg.Done()

	for {
		select {
		case <-s.groupCommitStopCh:
			s.mu.Lock()
			_ = s.doGroupCommit()
			s.mu.Unlock()
			return

		case <-s.groupCommitTicker.C:
			s.mu.Lock()
			_ = s.doGroupCommit()
			s.mu.Unlock()
		}
	}
}

// Close flushes pending entries and closes the file. Idempotent.
func (s *segmentLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	if s.groupCommitTicker != nil {
		close(s.groupCommitStopCh)
		s.mu.Unlock()
		s.groupCommitWg.Wait()
		s.mu.Lock()
		s.groupCommitTicker.Stop()
		s.groupCommitTicker = nil
	}

	if err := s.flushLocked(); err != nil {
		return err
	}
	if s.compressed && s.compressor != nil {
		if err := s.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}
	if err := s.file.Sync(); err != nil {
		return err
	}

	err := s.file.Close()
	s.file = nil
	return err
}
