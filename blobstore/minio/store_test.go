package minio

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStoreIntegration requires a running MinIO instance and is skipped when
// none is reachable.
func TestStoreIntegration(t *testing.T) {
	endpoint := "localhost:9000"
	bucket := "test-resolvgo"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "audit/")

	data := []byte("sealed segment payload")
	require.NoError(t, store.Put(ctx, "seg-0001", data))

	blob, err := store.Open(ctx, "seg-0001")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, len(data))
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)
	require.NoError(t, blob.Close())

	blob2, err := store.Open(ctx, "seg-0001")
	require.NoError(t, err)
	rc, err := blob2.ReadRange(ctx, 7, 7)
	require.NoError(t, err)
	part := make([]byte, 7)
	_, err = rc.Read(part)
	require.NoError(t, err)
	assert.Equal(t, "segment", string(part))
	require.NoError(t, rc.Close())
	require.NoError(t, blob2.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "seg-0001")

	wb, err := store.Create(ctx, "seg-0002")
	require.NoError(t, err)
	_, err = wb.Write([]byte("streamed segment"))
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	blob3, err := store.Open(ctx, "seg-0002")
	require.NoError(t, err)
	assert.Equal(t, int64(16), blob3.Size())
	require.NoError(t, blob3.Close())

	require.NoError(t, store.Delete(ctx, "seg-0001"))
	require.NoError(t, store.Delete(ctx, "seg-0002"))
	require.NoError(t, store.Delete(ctx, "seg-0002"))

	_, err = store.Open(ctx, "seg-0001")
	require.Error(t, err)
}
