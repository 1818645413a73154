package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity and DefaultTTL are the §4.E defaults: a 100-entry
// window per stream, evicted after 300s of idleness.
const (
	DefaultCapacity = 100
	DefaultTTL      = 300 * time.Second
	sweepInterval   = 60 * time.Second
)

// frame is one buffered (seq, payload) pair.
type frame struct {
	seq     uint64
	payload []byte
}

// ring is the bounded sliding window for a single streamID.
type ring struct {
	frames       []frame
	capacity     int
	lastActivity time.Time
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity, lastActivity: time.Now()}
}

func (r *ring) append(seq uint64, payload []byte) {
	r.frames = append(r.frames, frame{seq: seq, payload: payload})
	if len(r.frames) > r.capacity {
		r.frames = r.frames[len(r.frames)-r.capacity:]
	}
	r.lastActivity = time.Now()
}

func (r *ring) after(seq uint64) []frame {
	out := make([]frame, 0, len(r.frames))
	for _, f := range r.frames {
		if f.seq > seq {
			out = append(out, f)
		}
	}
	return out
}

// Buffer is the server-side per-streamID ring buffer registry of §4.E.
// A background sweep evicts buffers idle longer than TTL every 60s.
type Buffer struct {
	mu       sync.Mutex
	rings    map[uuid.UUID]*ring
	capacity int
	ttl      time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewBuffer builds a Buffer with the given capacity/TTL (pass 0 for
// either to take the §4.E defaults) and starts its background sweep.
func NewBuffer(capacity int, ttl time.Duration) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := &Buffer{
		rings:     make(map[uuid.UUID]*ring),
		capacity:  capacity,
		ttl:       ttl,
		stopSweep: make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Append adds (seq, payload) to streamID's ring, evicting the oldest
// entry beyond capacity.
func (b *Buffer) Append(streamID uuid.UUID, seq uint64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[streamID]
	if !ok {
		r = newRing(b.capacity)
		b.rings[streamID] = r
	}
	r.append(seq, payload)
}

// Lookup returns the ordered frames with seq > afterSeq, or nil if the
// stream is unknown or its buffer has aged past TTL (in which case the
// buffer is also removed, per §4.E).
func (b *Buffer) Lookup(streamID uuid.UUID, afterSeq uint64) []BufferedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[streamID]
	if !ok {
		return nil
	}
	if time.Since(r.lastActivity) > b.ttl {
		delete(b.rings, streamID)
		return nil
	}

	frames := r.after(afterSeq)
	out := make([]BufferedFrame, len(frames))
	for i, f := range frames {
		out[i] = BufferedFrame{Sequence: f.seq, Payload: f.payload}
	}
	return out
}

// BufferedFrame is one replayable (sequence, payload) pair returned by
// Lookup.
type BufferedFrame struct {
	Sequence uint64
	Payload  []byte
}

// Remove drops streamID's buffer, e.g. on stream completion.
func (b *Buffer) Remove(streamID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rings, streamID)
}

// Close stops the background sweep. Safe to call multiple times.
func (b *Buffer) Close() {
	b.sweepOnce.Do(func() { close(b.stopSweep) })
}

func (b *Buffer) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.sweep()
		case <-b.stopSweep:
			return
		}
	}
}

func (b *Buffer) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for id, r := range b.rings {
		if now.Sub(r.lastActivity) > b.ttl {
			delete(b.rings, id)
		}
	}
}
