package labconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/platform/blobstore"
)

// Snapshots is the durable second tier. Read reports a miss as (nil, nil).
type Snapshots interface {
	Read(ctx context.Context, canonicalKey string) (*lab.Record, error)
	Write(ctx context.Context, canonicalKey string, rec *lab.Record) error
}

// SnapshotKey is the blob key holding one lab's snapshot.
func SnapshotKey(canonicalKey string) string {
	return "labs/" + canonicalKey + ".json"
}

// BlobSnapshots stores one JSON document per lab in a blobstore.Store.
type BlobSnapshots struct {
	store blobstore.Store
}

func NewBlobSnapshots(store blobstore.Store) *BlobSnapshots {
	return &BlobSnapshots{store: store}
}

func (s *BlobSnapshots) Read(ctx context.Context, canonicalKey string) (*lab.Record, error) {
	if canonicalKey == "" {
		return nil, nil
	}
	data, err := s.store.Get(ctx, SnapshotKey(canonicalKey))
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec *lab.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", canonicalKey, err)
	}
	return rec, nil
}

func (s *BlobSnapshots) Write(ctx context.Context, canonicalKey string, rec *lab.Record) error {
	if canonicalKey == "" {
		return lab.ErrMissingLab
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", canonicalKey, err)
	}
	return s.store.Put(ctx, SnapshotKey(canonicalKey), data)
}
