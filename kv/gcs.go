package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore is a Store backed by one object per actor in a GCS bucket.
// The object's generation number doubles as the sequence number; writes
// use GCS's generation preconditions (§6) for optimistic concurrency
// instead of a separate version field.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore wraps an already-configured storage.Client.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}
}

func (g *GCSStore) object(actorID string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + actorID)
}

func (g *GCSStore) Load(ctx context.Context, actorID string) (Record, error) {
	obj := g.object(actorID)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("kv: gcs: attrs %q: %w", actorID, err)
	}

	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("kv: gcs: read %q: %w", actorID, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return Record{}, fmt.Errorf("kv: gcs: read %q: %w", actorID, err)
	}
	return Record{Data: data, Seq: uint64(attrs.Generation), UpdatedAt: attrs.Updated}, nil
}

func (g *GCSStore) Save(ctx context.Context, actorID string, data []byte) (uint64, error) {
	return g.write(ctx, actorID, data, -1, false)
}

func (g *GCSStore) SaveIfVersion(ctx context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	return g.write(ctx, actorID, data, int64(expected), true)
}

func (g *GCSStore) write(ctx context.Context, actorID string, data []byte, expected int64, conditional bool) (uint64, error) {
	obj := g.object(actorID)
	if conditional {
		obj = obj.If(storage.Conditions{GenerationMatch: expected})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("kv: gcs: write %q: %w", actorID, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			actual, serr := g.SequenceNumber(ctx, actorID)
			if serr != nil && !errors.Is(serr, ErrNotFound) {
				return 0, fmt.Errorf("kv: gcs: read-after-conflict %q: %w", actorID, serr)
			}
			return 0, &VersionConflictError{ActorID: actorID, Expected: uint64(expected), Actual: actual}
		}
		return 0, fmt.Errorf("kv: gcs: close %q: %w", actorID, err)
	}
	return uint64(w.Attrs().Generation), nil
}

func (g *GCSStore) Delete(ctx context.Context, actorID string) error {
	if err := g.object(actorID).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("kv: gcs: delete %q: %w", actorID, err)
	}
	return nil
}

func (g *GCSStore) SequenceNumber(ctx context.Context, actorID string) (uint64, error) {
	attrs, err := g.object(actorID).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("kv: gcs: attrs %q: %w", actorID, err)
	}
	return uint64(attrs.Generation), nil
}

func (g *GCSStore) Update(ctx context.Context, actorID string, fn Transform) (uint64, error) {
	return RetrySaveIfVersion(ctx, g, actorID, DefaultRetryPolicy(), fn)
}
