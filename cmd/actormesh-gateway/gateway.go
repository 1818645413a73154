// Command actormesh-gateway hosts the serverless deployment of §4.I's
// API-gateway websocket adapter: one Lambda invocation per
// $connect/$disconnect/$default event, fan-out of stream data carried
// entirely through the connection broker (§4.K) rather than a held
// socket. It shares the actor registry, dispatch kernel and stream
// registry packages with cmd/actormeshd; only the transport and the
// outbound delivery path differ.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/actormesh/actorid"
	"github.com/GoCodeAlone/actormesh/broker"
	"github.com/GoCodeAlone/actormesh/dispatch"
	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/GoCodeAlone/actormesh/invocation"
	"github.com/GoCodeAlone/actormesh/stream"
)

// StreamInvoker is the narrow shape the dispatch loop consults for
// "observe"-prefixed targets, mirroring dispatch.Invoker's RPC shape but
// yielding a lazily-produced stream.Sequence instead of a single result
// (§4.D, §4.H step 2). Declared locally rather than shared with
// cmd/actormeshd because main packages cannot be imported.
type StreamInvoker interface {
	InvokeStream(ctx context.Context, method string, dec invocation.Decoder) (*stream.Sequence, stream.CustomHook, error)
}

// Gateway implements transport.Dispatcher for the $default route: RPC
// targets go through the ordinary dispatch kernel, observeX targets
// start or resume a stream whose frames are delivered through the
// broker instead of a held connection (§4.K "each subscriber sees a
// private sequence of frames though they share source state").
type Gateway struct {
	logger   *slog.Logger
	registry *actorid.Registry
	kernel   *dispatch.Kernel
	streams  *stream.ServerRegistry
	broker   *broker.Broker
}

// NewGateway builds a Gateway over an already-wired registry, kernel,
// stream registry and broker.
func NewGateway(logger *slog.Logger, registry *actorid.Registry, kernel *dispatch.Kernel, streams *stream.ServerRegistry, br *broker.Broker) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{logger: logger, registry: registry, kernel: kernel, streams: streams, broker: br}
}

// Dispatch implements transport.Dispatcher: it decodes one envelope
// arriving on connectionID and routes it to the RPC kernel, a fresh
// stream start, or a resume, sending every reply back out through the
// broker rather than returning it (§4.I "outbound traffic is not
// through a socket but through the connection broker's sender").
func (g *Gateway) Dispatch(ctx context.Context, connectionID string, envelopeBytes []byte) error {
	env, err := envelope.Decode(envelopeBytes)
	if err != nil {
		return fmt.Errorf("gateway: decode envelope: %w", err)
	}

	switch {
	case env.Type == envelope.TypeStreamResume:
		return g.handleResume(ctx, connectionID, env)
	case envelope.IsStreamTarget(env.TargetIdentifier):
		return g.startStream(ctx, connectionID, env)
	default:
		resp, err := g.kernel.Handle(ctx, env)
		if err != nil {
			return fmt.Errorf("gateway: dispatch %q: %w", env.TargetIdentifier, err)
		}
		return g.send(ctx, connectionID, resp)
	}
}

func (g *Gateway) startStream(ctx context.Context, connectionID string, env *envelope.Envelope) error {
	actor, ok := g.registry.Resolve(env.ActorID.ID)
	if !ok {
		return g.send(ctx, connectionID, envelope.Failure(env.CallID, fmt.Sprintf("Actor '%s' not found", env.ActorID.ID)))
	}
	invoker, ok := actor.(StreamInvoker)
	if !ok {
		return g.send(ctx, connectionID, envelope.Failure(env.CallID, fmt.Sprintf("Actor '%s' does not support streaming", env.ActorID.ID)))
	}

	dec := invocation.NewJSONDecoder(env.Arguments)
	seq, hook, err := invoker.InvokeStream(ctx, env.TargetIdentifier, dec)
	if err != nil {
		return g.send(ctx, connectionID, envelope.Failure(env.CallID, err.Error()))
	}

	filter := envelope.Filter{Kind: envelope.FilterAll}
	if env.StreamFilter != nil {
		filter = *env.StreamFilter
	}

	sender := &connSender{ctx: ctx, connectionID: connectionID, broker: g.broker}
	streamID, err := g.streams.Start(ctx, env.ActorID.ID, filter, hook, seq, sender)
	if err != nil {
		return g.send(ctx, connectionID, envelope.Failure(env.CallID, err.Error()))
	}
	if err := g.broker.Subscribe(ctx, connectionID, streamID.String(), env.ActorID.ID); err != nil {
		return fmt.Errorf("gateway: subscribe %q to actor %q: %w", connectionID, env.ActorID.ID, err)
	}
	return nil
}

func (g *Gateway) handleResume(ctx context.Context, connectionID string, env *envelope.Envelope) error {
	sender := &connSender{ctx: ctx, connectionID: connectionID, broker: g.broker}
	resumed, err := g.streams.Resume(env.StreamID, env.LastSequence, sender)
	if err != nil {
		g.logger.Warn("gateway: stream resume failed", "stream_id", env.StreamID, "error", err)
		return nil
	}
	if resumed {
		if err := g.broker.Subscribe(ctx, connectionID, env.StreamID.String(), env.ActorID.ID); err != nil {
			return fmt.Errorf("gateway: resubscribe %q: %w", connectionID, err)
		}
		return nil
	}
	// Buffer expired or stream unknown: start a fresh observeX invocation
	// with a new streamID, per §4.D resumption semantics.
	fresh := *env
	fresh.Type = envelope.TypeInvocation
	return g.startStream(ctx, connectionID, &fresh)
}

func (g *Gateway) send(ctx context.Context, connectionID string, resp *envelope.Envelope) error {
	encoded, err := envelope.Encode(resp)
	if err != nil {
		return fmt.Errorf("gateway: encode response: %w", err)
	}
	return g.broker.Send(ctx, connectionID, encoded)
}

// connSender adapts the broker's per-connection Send to the
// stream.Sender interface the server stream registry emits frames
// through.
type connSender struct {
	ctx          context.Context
	connectionID string
	broker       *broker.Broker
}

func (c *connSender) Send(env *envelope.Envelope) error {
	encoded, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("gateway: encode stream frame: %w", err)
	}
	return c.broker.Send(c.ctx, c.connectionID, encoded)
}
