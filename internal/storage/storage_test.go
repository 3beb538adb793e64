package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotArchiverRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage("")
	archiver := NewSnapshotArchiver(mem, "/snapshots/")

	type snapshot struct {
		StoreID  string         `json:"store_id"`
		Counts   map[string]int `json:"counts"`
		Platform string         `json:"platform"`
	}
	in := snapshot{StoreID: "s1", Counts: map[string]int{"products": 3}, Platform: "shopify"}

	key, err := archiver.Archive(ctx, "s1", "j1", in)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/s1/j1.json", key)
	assert.Equal(t, []string{key}, mem.Keys())
	assert.Equal(t, "memory://snapshots/snapshots/s1/j1.json", mem.GetURL(key))

	var out snapshot
	require.NoError(t, archiver.Load(ctx, key, &out))
	assert.Equal(t, in, out)

	require.NoError(t, archiver.Remove(ctx, key))
	exists, err := mem.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	err = archiver.Load(ctx, key, &out)
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestSnapshotArchiverPurgesOneStore(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStorage("")
	archiver := NewSnapshotArchiver(mem, "snapshots")

	for _, id := range []struct{ store, job string }{
		{"s1", "j1"}, {"s1", "j2"}, {"s10", "j3"}, {"s2", "j4"},
	} {
		_, err := archiver.Archive(ctx, id.store, id.job, map[string]string{"job": id.job})
		require.NoError(t, err)
	}

	keys, err := archiver.Snapshots(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/s1/j1.json", "snapshots/s1/j2.json"}, keys)

	n, err := archiver.Purge(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"snapshots/s10/j3.json", "snapshots/s2/j4.json"}, mem.Keys())

	n, err = archiver.Purge(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-east-1.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectStorageType(tt.endpoint), tt.endpoint)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/bucket/path"))
	assert.Equal(t, "s3.amazonaws.com", normalizeEndpoint("https://s3.amazonaws.com"))
}

func TestNewStorageMemory(t *testing.T) {
	s, err := NewStorage(&S3Config{Type: StorageTypeMemory})
	require.NoError(t, err)
	_, ok := s.(*MemoryStorage)
	assert.True(t, ok)
}
