package resolvgo

import (
	"context"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/resolvgo/codec"
	"github.com/hupe1980/resolvgo/engine"
)

// Snapshot file layout:
//
//	[4]byte  magic "RGSN"
//	byte     format version
//	byte     codec name length
//	[]byte   codec name
//	[]byte   lz4 frame of the codec-marshaled state
const (
	snapshotMagic   = "RGSN"
	snapshotVersion = byte(1)
)

// SaveSnapshot writes a snapshot of the resolution state to w. The snapshot
// captures entities, cluster assignments with their merge history, scorecard
// versions, and the adjudication queue. Index tombstones set by Remove are
// not captured; removed entities reappear as candidates after a restore.
func (e *Engine) SaveSnapshot(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := e.coordinator.Snapshot()

	data, err := e.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := e.codec.Name()
	if len(name) > 255 {
		return fmt.Errorf("codec name %q too long for snapshot header", name)
	}

	header := make([]byte, 0, len(snapshotMagic)+2+len(name))
	header = append(header, snapshotMagic...)
	header = append(header, snapshotVersion, byte(len(name)))
	header = append(header, name...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	zw := lz4.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot stream: %w", err)
	}

	return nil
}

// LoadSnapshot builds an Engine from a snapshot stream. The options configure
// the new Engine the same way New does; the codec is taken from the snapshot
// header, not from WithCodec.
func LoadSnapshot(ctx context.Context, r io.Reader, optFns ...Option) (*Engine, error) {
	header := make([]byte, len(snapshotMagic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	if string(header[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("not a snapshot file: bad magic %q", header[:len(snapshotMagic)])
	}

	if v := header[len(snapshotMagic)]; v != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}

	nameLen := int(header[len(snapshotMagic)+1])
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil, fmt.Errorf("failed to read snapshot codec name: %w", err)
	}

	c, ok := codec.ByName(string(nameBuf))
	if !ok {
		return nil, fmt.Errorf("unknown snapshot codec %q", nameBuf)
	}

	data, err := io.ReadAll(lz4.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	var snap engine.Snapshot
	if err := c.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	eng, err := New(append(optFns, WithCodec(c))...)
	if err != nil {
		return nil, err
	}

	if err := eng.coordinator.Restore(ctx, &snap); err != nil {
		_ = eng.Close()
		return nil, translateError(err)
	}

	return eng, nil
}
