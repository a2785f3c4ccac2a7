package scan

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/resolvgo/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntity(id, name string) *entity.Entity {
	return &entity.Entity{ID: entity.ID(id), Attributes: entity.Attributes{"name": name}}
}

func TestScan(t *testing.T) {
	ctx := context.Background()

	t.Run("FindsOverlappingEntities", func(t *testing.T) {
		w := New(func(o *Options) { o.RateLimit = 0 })
		w.Observe(newEntity("a", "Jane Doe"))
		w.Observe(newEntity("b", "John Smith"))

		got, err := w.Scan(ctx, newEntity("q", "Jane Doe"), 10)
		require.NoError(t, err)
		assert.Equal(t, []entity.ID{"a"}, got)
	})

	t.Run("ExcludesSelf", func(t *testing.T) {
		w := New(func(o *Options) { o.RateLimit = 0 })
		w.Observe(newEntity("a", "Jane Doe"))

		got, err := w.Scan(ctx, newEntity("a", "Jane Doe"), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("CapsResults", func(t *testing.T) {
		w := New(func(o *Options) { o.RateLimit = 0 })
		for i := 0; i < 5; i++ {
			w.Observe(newEntity(fmt.Sprintf("id-%d", i), "Jane Doe"))
		}

		got, err := w.Scan(ctx, newEntity("q", "Jane Doe"), 2)
		require.NoError(t, err)
		assert.Equal(t, []entity.ID{"id-0", "id-1"}, got)
	})

	t.Run("WindowEvictsOldest", func(t *testing.T) {
		w := New(func(o *Options) {
			o.RateLimit = 0
			o.WindowSize = 2
		})
		w.Observe(newEntity("a", "Jane Doe"))
		w.Observe(newEntity("b", "Jane Doe"))
		w.Observe(newEntity("c", "Jane Doe"))
		require.Equal(t, 2, w.Len())

		got, err := w.Scan(ctx, newEntity("q", "Jane Doe"), 10)
		require.NoError(t, err)
		assert.NotContains(t, got, entity.ID("a"))
		assert.Contains(t, got, entity.ID("b"))
		assert.Contains(t, got, entity.ID("c"))
	})

	t.Run("CancelledContextAbortsRateWait", func(t *testing.T) {
		w := New(func(o *Options) { o.RateLimit = 0.001 })
		w.Observe(newEntity("a", "Jane Doe"))

		cctx, cancel := context.WithCancel(ctx)
		// First scan consumes the initial token.
		_, err := w.Scan(cctx, newEntity("q", "Jane Doe"), 1)
		require.NoError(t, err)

		cancel()
		_, err = w.Scan(cctx, newEntity("q", "Jane Doe"), 1)
		require.Error(t, err)
	})
}
