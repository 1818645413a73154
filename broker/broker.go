// Package broker implements the connection fan-out broker of §4.K: a
// durable (connectionID -> actorID subscription) index plus
// broadcast/send operations used by the serverless deployment to push
// state-change frames to every connection subscribed to an actor.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Subscription is one connection's registration against an actor
// stream, per §3's Subscription entity.
type Subscription struct {
	ConnectionID string
	ActorID      string
	StreamID     string
	LastSequence uint64
	ConnectedAt  time.Time
	TTL          time.Duration
}

// ErrGone is returned by ConnectionSender.Send when the target
// connection no longer exists (the API Gateway management API's
// 410-equivalent response per §4.K); the broker reacts by unregistering
// the connection and never propagating the error further.
var ErrGone = errors.New("broker: connection is gone")

// Storage is the durable (connectionID -> subscription) index consumed
// by the broker, with a secondary actorID -> set<connectionID> index
// (§3, §4.K, §6 "Connection KV / sender").
type Storage interface {
	Register(ctx context.Context, connectionID string, actorID *string) error
	Subscribe(ctx context.Context, connectionID, streamID, actorID string) error
	Unregister(ctx context.Context, connectionID string) error
	UpdateSequence(ctx context.Context, connectionID string, lastSeq uint64) error
	GetConnections(ctx context.Context, actorID string) ([]Subscription, error)
}

// Sender delivers bytes to a specific connection. Production is backed
// by the API Gateway Management API; ErrGone signals the client has
// vanished (§4.K).
type Sender interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
	IsAlive(ctx context.Context, connectionID string) (bool, error)
	Disconnect(ctx context.Context, connectionID string) error
}

// SendResult is one connection's outcome from a Broadcast fan-out.
type SendResult struct {
	ConnectionID string
	Err          error
}

// Broker combines Storage and Sender into the broadcast/send operations
// of §4.K. It owns no additional state of its own: both interfaces'
// backing stores are the only shared resource across processes (§5).
type Broker struct {
	storage Storage
	sender  Sender
	logger  *slog.Logger
}

// New builds a Broker. A nil logger falls back to slog.Default().
func New(storage Storage, sender Sender, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{storage: storage, sender: sender, logger: logger}
}

// Register implements transport.ConnectionRegistrar for the $connect
// route: it creates the connection's storage entry with no actor
// subscription yet (one is added later via Subscribe, once the client's
// observeX invocation resolves a streamID).
func (b *Broker) Register(ctx context.Context, connectionID string) error {
	if err := b.storage.Register(ctx, connectionID, nil); err != nil {
		return fmt.Errorf("broker: register %q: %w", connectionID, err)
	}
	return nil
}

// Unregister implements transport.ConnectionRegistrar for the
// $disconnect route: it removes the connection's subscription index
// entry entirely.
func (b *Broker) Unregister(ctx context.Context, connectionID string) error {
	if err := b.storage.Unregister(ctx, connectionID); err != nil {
		return fmt.Errorf("broker: unregister %q: %w", connectionID, err)
	}
	return nil
}

// Subscribe registers connectionID's interest in actorID under
// streamID, the per-subscriber streamID the tailer later addresses
// frames to.
func (b *Broker) Subscribe(ctx context.Context, connectionID, streamID, actorID string) error {
	if err := b.storage.Subscribe(ctx, connectionID, streamID, actorID); err != nil {
		return fmt.Errorf("broker: subscribe %q to %q: %w", connectionID, actorID, err)
	}
	return nil
}

// Send delivers payload to exactly one connection. A gone connection is
// unregistered and the error is swallowed, matching the "gone
// connection never propagates upward" rule of §7; any other send error
// is returned for the caller to log.
func (b *Broker) Send(ctx context.Context, connectionID string, payload []byte) error {
	err := b.sender.Send(ctx, connectionID, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGone) {
		b.logger.Info("broker: connection gone, unregistering", "connection", connectionID)
		if uerr := b.storage.Unregister(ctx, connectionID); uerr != nil {
			return fmt.Errorf("broker: unregister gone connection %q: %w", connectionID, uerr)
		}
		return nil
	}
	return fmt.Errorf("broker: send to %q: %w", connectionID, err)
}

// Broadcast delivers payload to every connection subscribed to actorID,
// excluding excludeConnID if non-empty. Sends run concurrently; a
// failure on one connection never aborts the others (§4.K). Gone
// connections are unregistered as part of each per-connection Send and
// do not appear as errors in the returned results.
func (b *Broker) Broadcast(ctx context.Context, actorID string, payload []byte, excludeConnID string) ([]SendResult, error) {
	subs, err := b.storage.GetConnections(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("broker: broadcast: list subscribers of %q: %w", actorID, err)
	}

	results := make(chan SendResult, len(subs))
	sent := 0
	for _, sub := range subs {
		if sub.ConnectionID == excludeConnID {
			continue
		}
		sent++
		go func(connID string) {
			results <- SendResult{ConnectionID: connID, Err: b.Send(ctx, connID, payload)}
		}(sub.ConnectionID)
	}

	out := make([]SendResult, 0, sent)
	for i := 0; i < sent; i++ {
		out = append(out, <-results)
	}
	return out, nil
}

// BroadcastStreamData builds one StreamDataEnvelope per subscriber
// (each addressed to that subscriber's own streamID, §4.K "each
// subscriber sees a private sequence of frames though they share source
// state") and fans it out via Broadcast. encode is injected so broker
// has no compile-time dependency on the envelope package's wire format.
func (b *Broker) BroadcastStreamData(ctx context.Context, actorID string, seq uint64, data []byte, ts time.Time, encode func(streamID string, seq uint64, data []byte, ts time.Time) ([]byte, error)) ([]SendResult, error) {
	subs, err := b.storage.GetConnections(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("broker: broadcastStreamData: list subscribers of %q: %w", actorID, err)
	}

	results := make(chan SendResult, len(subs))
	for _, sub := range subs {
		go func(s Subscription) {
			frame, err := encode(s.StreamID, seq, data, ts)
			if err != nil {
				results <- SendResult{ConnectionID: s.ConnectionID, Err: err}
				return
			}
			results <- SendResult{ConnectionID: s.ConnectionID, Err: b.Send(ctx, s.ConnectionID, frame)}
		}(sub)
	}

	out := make([]SendResult, 0, len(subs))
	for range subs {
		out = append(out, <-results)
	}
	return out, nil
}
