package stream

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendAndLookup(t *testing.T) {
	b := NewBuffer(10, time.Minute)
	defer b.Close()

	id := uuid.New()
	b.Append(id, 1, []byte("a"))
	b.Append(id, 2, []byte("b"))
	b.Append(id, 3, []byte("c"))

	got := b.Lookup(id, 1)
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].Sequence)
	require.Equal(t, uint64(3), got[1].Sequence)
}

func TestBuffer_EvictsOldestBeyondCapacity(t *testing.T) {
	b := NewBuffer(2, time.Minute)
	defer b.Close()

	id := uuid.New()
	b.Append(id, 1, []byte("a"))
	b.Append(id, 2, []byte("b"))
	b.Append(id, 3, []byte("c"))

	got := b.Lookup(id, 0)
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].Sequence)
	require.Equal(t, uint64(3), got[1].Sequence)
}

func TestBuffer_Lookup_UnknownStreamReturnsNil(t *testing.T) {
	b := NewBuffer(10, time.Minute)
	defer b.Close()
	require.Nil(t, b.Lookup(uuid.New(), 0))
}

func TestBuffer_Lookup_ExpiredBufferReturnsNilAndRemoves(t *testing.T) {
	b := NewBuffer(10, 10*time.Millisecond)
	defer b.Close()

	id := uuid.New()
	b.Append(id, 1, []byte("a"))
	time.Sleep(30 * time.Millisecond)

	require.Nil(t, b.Lookup(id, 0))
	// Now fully removed: a subsequent append should start a fresh ring.
	b.Append(id, 1, []byte("fresh"))
	got := b.Lookup(id, 0)
	require.Len(t, got, 1)
}

func TestBuffer_Remove(t *testing.T) {
	b := NewBuffer(10, time.Minute)
	defer b.Close()

	id := uuid.New()
	b.Append(id, 1, []byte("a"))
	b.Remove(id)
	require.Nil(t, b.Lookup(id, 0))
}
