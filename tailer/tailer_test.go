package tailer

import (
	"context"
	"testing"
	"time"

	"github.com/GoCodeAlone/actormesh/broker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailer_BroadcastsUpsertAndIgnoresRemove(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	storage := broker.NewMemoryStorage(time.Hour)
	sender := broker.NewMemorySender()
	b := broker.New(storage, sender, nil)

	streamID := uuid.New().String()
	require.NoError(t, storage.Subscribe(ctx, "c1", streamID, "todo"))

	delivered := make(chan []byte, 1)
	sender.Bind("c1", func(payload []byte) error {
		delivered <- payload
		return nil
	})

	source := NewMemorySource(4)
	source.Push(ChangeEvent{ActorID: "todo", State: []byte("new-state"), SourceSeq: 10, Op: OpUpsert})
	source.Push(ChangeEvent{ActorID: "todo", State: []byte("deleted"), SourceSeq: 11, Op: OpRemove})
	source.Close()

	tl := New(source, b, nil)
	err := tl.Run(ctx)
	require.NoError(t, err)

	select {
	case payload := <-delivered:
		assert.Contains(t, string(payload), streamID)
	default:
		t.Fatal("expected one delivered frame for the upsert event")
	}

	// The remove event must never have produced a second delivery.
	select {
	case <-delivered:
		t.Fatal("remove event must not be broadcast")
	default:
	}
}
