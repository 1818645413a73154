package stream

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/google/uuid"
)

// Sequence is a lazily-produced element from an observeX method: the
// generated actor target yields these one at a time until it closes
// Items or reports Err.
type Sequence struct {
	Items chan []byte
	Err   chan error
}

// NewSequence builds an empty Sequence with the given item buffer size.
func NewSequence(buffer int) *Sequence {
	return &Sequence{Items: make(chan []byte, buffer), Err: make(chan error, 1)}
}

// Sender is how the server stream registry hands envelopes to whatever
// owns the live connection (a transport adapter directly, or the
// connection broker for serverless fan-out).
type Sender interface {
	Send(env *envelope.Envelope) error
}

// liveStream is the server registry's bookkeeping for one open stream.
type liveStream struct {
	streamID  uuid.UUID
	actorID   string
	nextSeq   uint64
	evaluator *Evaluator
	sender    Sender
	cancel    context.CancelFunc
}

// ServerRegistry is the server-side half of §4.D: it owns streamID
// allocation, sequence numbering, buffering, filtering, and the
// StreamStart/StreamData/StreamEnd/StreamError emission for every live
// observeX call.
type ServerRegistry struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*liveStream
	buffer  *Buffer
}

// NewServerRegistry builds a ServerRegistry backed by buffer for
// resumption support.
func NewServerRegistry(buffer *Buffer) *ServerRegistry {
	return &ServerRegistry{streams: make(map[uuid.UUID]*liveStream), buffer: buffer}
}

// ActiveStreamCount implements lifecycle.ActiveStreamCounter.
func (r *ServerRegistry) ActiveStreamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Start begins draining seq for a new observeX call, allocating a fresh
// streamID, sending StreamStart, then draining items through evaluator
// into StreamData frames until seq closes or errors. Start runs the
// drain loop on its own goroutine and returns immediately with the
// allocated streamID; ctx cancellation (e.g. from a lifecycle drain)
// ends the stream with reason=cancelled.
func (r *ServerRegistry) Start(ctx context.Context, actorID string, filter envelope.Filter, hook CustomHook, seq *Sequence, sender Sender) (uuid.UUID, error) {
	streamID := uuid.New()
	evaluator, err := NewEvaluator(filter, hook)
	if err != nil {
		return uuid.Nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	ls := &liveStream{streamID: streamID, actorID: actorID, nextSeq: 1, evaluator: evaluator, sender: sender, cancel: cancel}

	r.mu.Lock()
	r.streams[streamID] = ls
	r.mu.Unlock()

	if err := sender.Send(&envelope.Envelope{Type: envelope.TypeStreamStart, StreamID: streamID}); err != nil {
		r.cleanup(streamID)
		return uuid.Nil, err
	}

	go r.drain(streamCtx, ls, seq)
	return streamID, nil
}

func (r *ServerRegistry) drain(ctx context.Context, ls *liveStream, seq *Sequence) {
	for {
		select {
		case <-ctx.Done():
			r.end(ls, envelope.EndReasonCancelled)
			return
		case payload, ok := <-seq.Items:
			if !ok {
				r.end(ls, envelope.EndReasonCompleted)
				return
			}
			r.emit(ls, payload)
		case err := <-seq.Err:
			if err != nil {
				r.fail(ls, err)
				return
			}
			r.end(ls, envelope.EndReasonCompleted)
			return
		}
	}
}

func (r *ServerRegistry) emit(ls *liveStream, payload []byte) {
	if !ls.evaluator.Pass(payload) {
		return
	}

	r.mu.Lock()
	seq := ls.nextSeq
	ls.nextSeq++
	r.mu.Unlock()

	r.buffer.Append(ls.streamID, seq, payload)
	_ = ls.sender.Send(&envelope.Envelope{
		Type: envelope.TypeStreamData, StreamID: ls.streamID,
		SequenceNumber: seq, Data: payload, Timestamp: time.Now(),
	})
}

func (r *ServerRegistry) end(ls *liveStream, reason envelope.EndReason) {
	_ = ls.sender.Send(&envelope.Envelope{Type: envelope.TypeStreamEnd, StreamID: ls.streamID, Reason: reason})
	r.cleanup(ls.streamID)
}

func (r *ServerRegistry) fail(ls *liveStream, err error) {
	msg := err.Error()
	_ = ls.sender.Send(&envelope.Envelope{Type: envelope.TypeStreamError, StreamID: ls.streamID, ErrorMessage: &msg})
	r.cleanup(ls.streamID)
}

func (r *ServerRegistry) cleanup(streamID uuid.UUID) {
	r.mu.Lock()
	ls, ok := r.streams[streamID]
	delete(r.streams, streamID)
	r.mu.Unlock()
	if ok {
		ls.evaluator.Reset()
	}
	r.buffer.Remove(streamID)
}

// Resume handles an incoming StreamResume: if streamID is still live and
// has a buffer that has not expired, it replays the buffered entries
// after lastSequence (possibly none) via sender and leaves the stream
// registered for continued live emission under
// the same streamID, returning true. Otherwise the caller must start a
// fresh observeX invocation (fresh streamID) — Resume returns false and
// does nothing (§4.D).
func (r *ServerRegistry) Resume(streamID uuid.UUID, lastSequence uint64, sender Sender) (bool, error) {
	r.mu.Lock()
	ls, ok := r.streams[streamID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	buffered := r.buffer.Lookup(streamID, lastSequence)
	if buffered == nil {
		return false, nil
	}

	for _, f := range buffered {
		if err := sender.Send(&envelope.Envelope{
			Type: envelope.TypeStreamData, StreamID: streamID,
			SequenceNumber: f.Sequence, Data: f.Payload, Timestamp: time.Now(),
		}); err != nil {
			return true, err
		}
	}

	r.mu.Lock()
	ls.sender = sender
	r.mu.Unlock()
	return true, nil
}

// Shutdown ends every live stream with reason=cancelled, for server
// shutdown (§4.D, §4.J).
func (r *ServerRegistry) Shutdown() {
	r.mu.Lock()
	streams := make([]*liveStream, 0, len(r.streams))
	for _, ls := range r.streams {
		streams = append(streams, ls)
	}
	r.mu.Unlock()

	for _, ls := range streams {
		ls.cancel()
	}
}
