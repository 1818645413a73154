package kv

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// SingleflightStore wraps a Store so that concurrent Load calls for the
// same actorID collapse into a single backing request, the way a single
// oauthCacheEntry collapses concurrent token fetches for one credential
// set. Useful in front of DynamoDB/GCS/Azure/Postgres-backed stores when
// many actor invocations for the same actorID land in the same process
// at once (e.g. a burst of RPCs right after a cold start).
type SingleflightStore struct {
	Store
	group singleflight.Group
}

// NewSingleflightStore wraps store with Load deduplication.
func NewSingleflightStore(store Store) *SingleflightStore {
	return &SingleflightStore{Store: store}
}

// Load dedupes concurrent calls for the same actorID against the
// embedded Store, returning the same Record (or error) to every caller
// that arrived while a fetch was already in flight.
func (s *SingleflightStore) Load(ctx context.Context, actorID string) (Record, error) {
	v, err, _ := s.group.Do(actorID, func() (interface{}, error) {
		return s.Store.Load(ctx, actorID)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}
