package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobStore is a Store backed by one block blob per actor. Writes
// use the SDK's conditional-access headers against the blob's real
// ETag for optimistic concurrency (§6); the sequence number is carried
// alongside as blob metadata so callers see a plain uint64 version
// instead of an opaque ETag.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureBlobStore wraps an already-configured azblob.Client.
func NewAzureBlobStore(client *azblob.Client, containerName, prefix string) *AzureBlobStore {
	return &AzureBlobStore{client: client, container: containerName, prefix: prefix}
}

func (a *AzureBlobStore) blobName(actorID string) string { return a.prefix + actorID }

func (a *AzureBlobStore) Load(ctx context.Context, actorID string) (Record, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, a.blobName(actorID), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("kv: azblob: download %q: %w", actorID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Record{}, fmt.Errorf("kv: azblob: read %q: %w", actorID, err)
	}

	seq, _ := strconv.ParseUint(stringFromMetadata(resp.Metadata, "seq"), 10, 64)
	updatedAt := time.Now()
	if resp.LastModified != nil {
		updatedAt = *resp.LastModified
	}
	return Record{Data: data, Seq: seq, UpdatedAt: updatedAt}, nil
}

// eTag returns the blob's current ETag, or nil if the blob does not
// exist yet.
func (a *AzureBlobStore) eTag(ctx context.Context, actorID string) (*string, error) {
	props, err := a.client.ServiceClient().NewContainerClient(a.container).
		NewBlobClient(a.blobName(actorID)).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv: azblob: properties %q: %w", actorID, err)
	}
	if props.ETag == nil {
		return nil, nil
	}
	tag := string(*props.ETag)
	return &tag, nil
}

func (a *AzureBlobStore) Save(ctx context.Context, actorID string, data []byte) (uint64, error) {
	current, err := a.SequenceNumber(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		current = 0
	} else if err != nil {
		return 0, err
	}
	return a.write(ctx, actorID, data, current)
}

func (a *AzureBlobStore) SaveIfVersion(ctx context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	return a.write(ctx, actorID, data, expected)
}

func (a *AzureBlobStore) write(ctx context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	currentTag, err := a.eTag(ctx, actorID)
	if err != nil {
		return 0, err
	}
	if expected != 0 {
		actual, serr := a.SequenceNumber(ctx, actorID)
		if serr != nil && !errors.Is(serr, ErrNotFound) {
			return 0, fmt.Errorf("kv: azblob: read seq %q: %w", actorID, serr)
		}
		if actual != expected {
			return 0, &VersionConflictError{ActorID: actorID, Expected: expected, Actual: actual}
		}
	}

	next := expected + 1
	opts := &azblob.UploadBufferOptions{
		Metadata: map[string]*string{"seq": to.Ptr(strconv.FormatUint(next, 10))},
	}
	if expected == 0 {
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		}
	} else if currentTag != nil {
		tag := azcore.ETag(*currentTag)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &tag},
		}
	}

	_, err = a.client.UploadBuffer(ctx, a.container, a.blobName(actorID), data, opts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet) || bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			actual, serr := a.SequenceNumber(ctx, actorID)
			if serr != nil && !errors.Is(serr, ErrNotFound) {
				return 0, fmt.Errorf("kv: azblob: read-after-conflict %q: %w", actorID, serr)
			}
			return 0, &VersionConflictError{ActorID: actorID, Expected: expected, Actual: actual}
		}
		return 0, fmt.Errorf("kv: azblob: upload %q: %w", actorID, err)
	}
	return next, nil
}

func (a *AzureBlobStore) Delete(ctx context.Context, actorID string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, a.blobName(actorID), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("kv: azblob: delete %q: %w", actorID, err)
	}
	return nil
}

func (a *AzureBlobStore) SequenceNumber(ctx context.Context, actorID string) (uint64, error) {
	rec, err := a.Load(ctx, actorID)
	if err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

func (a *AzureBlobStore) Update(ctx context.Context, actorID string, fn Transform) (uint64, error) {
	return RetrySaveIfVersion(ctx, a, actorID, DefaultRetryPolicy(), fn)
}

func stringFromMetadata(md map[string]*string, key string) string {
	if v, ok := md[key]; ok && v != nil {
		return *v
	}
	return ""
}
