package main

import (
	"context"
	"testing"
	"time"

	"github.com/GoCodeAlone/actormesh/actorid"
	"github.com/GoCodeAlone/actormesh/broker"
	"github.com/GoCodeAlone/actormesh/dispatch"
	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/GoCodeAlone/actormesh/internal/demoactor"
	"github.com/GoCodeAlone/actormesh/kv"
	"github.com/GoCodeAlone/actormesh/lifecycle"
	"github.com/GoCodeAlone/actormesh/middleware"
	"github.com/GoCodeAlone/actormesh/stream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*Gateway, *broker.MemorySender, *broker.MemoryStorage) {
	t.Helper()

	registry := actorid.New()
	store := kv.NewMemoryStore()
	counter := demoactor.NewCounterActor("counter-1", store)
	require.NoError(t, registry.Expose(counter, "counter"))

	kernel := dispatch.New(registry, middleware.NewChain(), lifecycle.NewTracker())
	streams := stream.NewServerRegistry(stream.NewBuffer(10, time.Minute))

	storage := broker.NewMemoryStorage(time.Hour)
	sender := broker.NewMemorySender()
	br := broker.New(storage, sender, nil)

	gw := NewGateway(nil, registry, kernel, streams, br)
	return gw, sender, storage
}

func TestGateway_RPCRoutesThroughBroker(t *testing.T) {
	gw, sender, storage := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, storage.Register(ctx, "conn-1", nil))

	var delivered []byte
	sender.Bind("conn-1", func(payload []byte) error {
		delivered = payload
		return nil
	})

	req := &envelope.Envelope{
		Type:             envelope.TypeInvocation,
		CallID:           uuid.New(),
		ActorID:          envelope.ActorID{ID: "counter"},
		TargetIdentifier: "increment",
		Arguments:        [][]byte{[]byte("5")},
	}
	encoded, err := envelope.Encode(req)
	require.NoError(t, err)

	require.NoError(t, gw.Dispatch(ctx, "conn-1", encoded))
	require.NotNil(t, delivered)

	resp, err := envelope.Decode(delivered)
	require.NoError(t, err)
	require.Equal(t, req.CallID, resp.CallID)
	require.Nil(t, resp.ErrorMessage)
}

func TestGateway_ActorNotFound(t *testing.T) {
	gw, sender, storage := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, storage.Register(ctx, "conn-1", nil))

	var delivered []byte
	sender.Bind("conn-1", func(payload []byte) error {
		delivered = payload
		return nil
	})

	req := &envelope.Envelope{
		Type:             envelope.TypeInvocation,
		CallID:           uuid.New(),
		ActorID:          envelope.ActorID{ID: "missing"},
		TargetIdentifier: "anything",
	}
	encoded, err := envelope.Encode(req)
	require.NoError(t, err)

	require.NoError(t, gw.Dispatch(ctx, "conn-1", encoded))

	resp, err := envelope.Decode(delivered)
	require.NoError(t, err)
	require.NotNil(t, resp.ErrorMessage)
	require.Equal(t, "Actor 'missing' not found", *resp.ErrorMessage)
}

func TestGateway_StreamStartSubscribesConnection(t *testing.T) {
	gw, sender, storage := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, storage.Register(ctx, "conn-1", nil))

	frames := make(chan []byte, 8)
	sender.Bind("conn-1", func(payload []byte) error {
		frames <- payload
		return nil
	})

	req := &envelope.Envelope{
		Type:             envelope.TypeInvocation,
		CallID:           uuid.New(),
		ActorID:          envelope.ActorID{ID: "counter"},
		TargetIdentifier: "observeValue",
	}
	encoded, err := envelope.Encode(req)
	require.NoError(t, err)
	require.NoError(t, gw.Dispatch(ctx, "conn-1", encoded))

	conns, err := storage.GetConnections(ctx, "counter")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, "conn-1", conns[0].ConnectionID)
}
