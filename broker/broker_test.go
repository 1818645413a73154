package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_BroadcastExcludesGoneConnection(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(time.Hour)
	sender := NewMemorySender()
	b := New(storage, sender, nil)

	require.NoError(t, storage.Subscribe(ctx, "c1", "s1", "todo"))
	require.NoError(t, storage.Subscribe(ctx, "c2", "s2", "todo"))

	var delivered []string
	sender.Bind("c1", func(payload []byte) error {
		delivered = append(delivered, "c1:"+string(payload))
		return nil
	})
	sender.MarkGone("c2")

	results, err := b.Broadcast(ctx, "todo", []byte("state-b"), "")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	assert.Equal(t, []string{"c1:state-b"}, delivered)

	conns, err := storage.GetConnections(ctx, "todo")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "c1", conns[0].ConnectionID)
}

func TestBroker_BroadcastExcludesSelf(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(time.Hour)
	sender := NewMemorySender()
	b := New(storage, sender, nil)

	require.NoError(t, storage.Subscribe(ctx, "c1", "s1", "todo"))
	require.NoError(t, storage.Subscribe(ctx, "c2", "s2", "todo"))

	called := map[string]bool{}
	sender.Bind("c1", func([]byte) error { called["c1"] = true; return nil })
	sender.Bind("c2", func([]byte) error { called["c2"] = true; return nil })

	_, err := b.Broadcast(ctx, "todo", []byte("x"), "c2")
	require.NoError(t, err)
	assert.True(t, called["c1"])
	assert.False(t, called["c2"])
}

func TestBroker_SendUnregistersGoneConnectionWithoutError(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(time.Hour)
	sender := NewMemorySender()
	b := New(storage, sender, nil)

	require.NoError(t, storage.Subscribe(ctx, "c1", "s1", "todo"))
	sender.MarkGone("c1")

	err := b.Send(ctx, "c1", []byte("frame"))
	require.NoError(t, err)

	conns, err := storage.GetConnections(ctx, "todo")
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestBroker_BroadcastStreamDataPerSubscriberStreamID(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(time.Hour)
	sender := NewMemorySender()
	b := New(storage, sender, nil)

	require.NoError(t, storage.Subscribe(ctx, "c1", "stream-for-c1", "todo"))
	require.NoError(t, storage.Subscribe(ctx, "c2", "stream-for-c2", "todo"))

	seen := map[string]string{}
	sender.Bind("c1", func(p []byte) error { seen["c1"] = string(p); return nil })
	sender.Bind("c2", func(p []byte) error { seen["c2"] = string(p); return nil })

	encode := func(streamID string, seq uint64, data []byte, ts time.Time) ([]byte, error) {
		return []byte(streamID), nil
	}
	_, err := b.BroadcastStreamData(ctx, "todo", 10, []byte("state"), time.Now(), encode)
	require.NoError(t, err)

	assert.Equal(t, "stream-for-c1", seen["c1"])
	assert.Equal(t, "stream-for-c2", seen["c2"])
}

func TestMemoryStorage_ReapExpired(t *testing.T) {
	storage := NewMemoryStorage(time.Millisecond)
	ctx := context.Background()
	require.NoError(t, storage.Subscribe(ctx, "c1", "s1", "todo"))

	time.Sleep(5 * time.Millisecond)
	reaped := storage.ReapExpired(time.Now())
	assert.Equal(t, 1, reaped)

	conns, err := storage.GetConnections(ctx, "todo")
	require.NoError(t, err)
	assert.Empty(t, conns)
}
