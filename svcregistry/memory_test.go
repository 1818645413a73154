package svcregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_RegisterResolveDeregister(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "todo-list-1", Address: "10.0.0.1:9000"}))

	ep, err := r.Resolve(ctx, "todo-list-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", ep.Address)

	require.NoError(t, r.Deregister(ctx, "todo-list-1", "10.0.0.1:9000"))

	_, err = r.Resolve(ctx, "todo-list-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistry_ExpiresOnTTL(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "a", Address: "x:1", TTL: 10 * time.Millisecond}))
	time.Sleep(30 * time.Millisecond)

	_, err := r.Resolve(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRegistry_HeartbeatExtendsTTL(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "a", Address: "x:1", TTL: 40 * time.Millisecond}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Heartbeat(ctx, "a", "x:1"))
	time.Sleep(20 * time.Millisecond)

	_, err := r.Resolve(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryRegistry_WatchReceivesSnapshotThenUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r := NewMemoryRegistry()

	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "a", Address: "x:1"}))

	ch, err := r.Watch(ctx, "a")
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, EventEndpoints, first.Kind)
	assert.Len(t, first.Endpoints, 1)

	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "a", Address: "x:2"}))

	second := <-ch
	require.Equal(t, EventEndpoints, second.Kind)
	assert.Len(t, second.Endpoints, 2)
}

func TestMemoryRegistry_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()
	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "todo-1", Address: "x:1"}))
	require.NoError(t, r.Register(ctx, Endpoint{ActorID: "chat-1", Address: "x:2"}))

	names, err := r.List(ctx, "todo")
	require.NoError(t, err)
	assert.Equal(t, []string{"todo-1"}, names)
}
