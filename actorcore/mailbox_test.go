package actorcore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_SerializesConcurrentSubmits(t *testing.T) {
	m := NewMailbox(4)
	defer m.Close()

	var active int32
	var maxActive int32

	run := func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil, nil
	}

	done := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, _ = m.Submit(context.Background(), run)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	require.EqualValues(t, 1, maxActive, "mailbox must never run two jobs concurrently")
}

func TestMailbox_ReturnsValueAndError(t *testing.T) {
	m := NewMailbox(1)
	defer m.Close()

	val, err := m.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestMailbox_ContextCancelDuringWait(t *testing.T) {
	m := NewMailbox(1)
	defer m.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = m.Submit(context.Background(), func(ctx context.Context) (any, error) {
			close(started)
			<-block
			return nil, nil
		})
	}()
	<-started // worker goroutine is now busy and the inbox (capacity 1) is free but unserved

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.Error(t, err)

	close(block)
}
