// Package tailer implements the state-change tailer of §4.L: it reads
// ordered change events from an external source and, for each one,
// asks the connection broker to fan a StreamDataEnvelope out to every
// subscriber of the changed actor. REMOVE-like events are ignored —
// deletions surface through actor-specific methods, never through a
// silent stream write (§4.L).
package tailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/actormesh/broker"
	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/google/uuid"
)

// Op tags whether a ChangeEvent is a state upsert or a removal.
type Op string

const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
)

// ChangeEvent is one ordered state-change record read from the source
// (§4.L): the actor whose state changed, its new bytes, and the
// source's own sequence number (carried through to the subscriber's
// StreamData.sequenceNumber, per the seed scenario in §8).
type ChangeEvent struct {
	ActorID   string
	State     []byte
	SourceSeq uint64
	Op        Op
}

// Source is the pluggable external change-event feed. Implementations:
// SQS (sqs.go), NATS JetStream (nats.go), Kafka/sarama (kafka.go), and
// an in-memory one for tests (memory.go). Events must arrive in the
// order the source emits them; the tailer does not reorder.
type Source interface {
	// Run streams change events into the given channel until ctx is
	// cancelled or an unrecoverable source error occurs, which it
	// returns. Run owns the channel's lifetime and closes it on return.
	Run(ctx context.Context, out chan<- ChangeEvent) error
}

// Broadcaster is the narrow slice of *broker.Broker the tailer depends
// on, declared here so tests can substitute a fake.
type Broadcaster interface {
	BroadcastStreamData(ctx context.Context, actorID string, seq uint64, data []byte, ts time.Time,
		encode func(streamID string, seq uint64, data []byte, ts time.Time) ([]byte, error)) ([]broker.SendResult, error)
}

// Tailer drains a Source and fans each upsert out through a Broadcaster
// (§4.L steps 1-3).
type Tailer struct {
	source  Source
	bcast   Broadcaster
	logger  *slog.Logger
}

// New builds a Tailer. A nil logger falls back to slog.Default().
func New(source Source, bcast Broadcaster, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{source: source, bcast: bcast, logger: logger}
}

// Run drains the source until ctx is cancelled, broadcasting every
// upsert event and returning the source's terminal error (if any) once
// it stops.
func (t *Tailer) Run(ctx context.Context) error {
	events := make(chan ChangeEvent, 64)

	sourceErr := make(chan error, 1)
	go func() { sourceErr <- t.source.Run(ctx, events) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return <-sourceErr
			}
			t.handle(ctx, ev)
		}
	}
}

func (t *Tailer) handle(ctx context.Context, ev ChangeEvent) {
	if ev.Op == OpRemove {
		return
	}

	results, err := t.bcast.BroadcastStreamData(ctx, ev.ActorID, ev.SourceSeq, ev.State, time.Now(), encodeStreamData)
	if err != nil {
		t.logger.Error("tailer: broadcast failed", "actor", ev.ActorID, "seq", ev.SourceSeq, "error", err)
		return
	}
	for _, r := range results {
		if r.Err != nil {
			t.logger.Warn("tailer: delivery failed", "connection", r.ConnectionID, "error", r.Err)
		}
	}
}

func encodeStreamData(streamID string, seq uint64, data []byte, ts time.Time) ([]byte, error) {
	sid, err := uuid.Parse(streamID)
	if err != nil {
		return nil, fmt.Errorf("tailer: invalid subscriber streamID %q: %w", streamID, err)
	}
	return envelope.Encode(&envelope.Envelope{
		Type: envelope.TypeStreamData, StreamID: sid, SequenceNumber: seq, Data: data, Timestamp: ts,
	})
}
