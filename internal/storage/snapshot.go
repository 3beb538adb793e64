package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// SnapshotArchiver writes one JSON document per completed extraction job
// under {prefix}/{store_id}/{job_id}.json.
type SnapshotArchiver struct {
	store  ObjectStorage
	prefix string
}

// NewSnapshotArchiver creates an archiver writing into store under prefix.
func NewSnapshotArchiver(store ObjectStorage, prefix string) *SnapshotArchiver {
	return &SnapshotArchiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a job snapshot.
func (a *SnapshotArchiver) Key(storeID, jobID string) string {
	return path.Join(a.prefix, storeID, jobID+".json")
}

// Archive marshals snapshot and uploads it, returning the object key.
func (a *SnapshotArchiver) Archive(ctx context.Context, storeID, jobID string, snapshot interface{}) (string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	key := a.Key(storeID, jobID)
	if err := a.store.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Load downloads the snapshot stored under key into out.
func (a *SnapshotArchiver) Load(ctx context.Context, key string, out interface{}) error {
	rc, err := a.store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return nil
}

// Snapshots lists the snapshot keys of one store.
func (a *SnapshotArchiver) Snapshots(ctx context.Context, storeID string) ([]string, error) {
	return a.store.List(ctx, path.Join(a.prefix, storeID)+"/")
}

// Purge deletes every snapshot of a store and reports how many there were.
func (a *SnapshotArchiver) Purge(ctx context.Context, storeID string) (int, error) {
	keys, err := a.Snapshots(ctx, storeID)
	if err != nil {
		return 0, err
	}
	if bd, ok := a.store.(BatchDeleter); ok {
		if err := bd.DeleteKeys(ctx, keys); err != nil {
			return 0, err
		}
		return len(keys), nil
	}
	for i, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// Remove deletes the snapshot stored under key.
func (a *SnapshotArchiver) Remove(ctx context.Context, key string) error {
	return a.store.Delete(ctx, key)
}
