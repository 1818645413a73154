// Package dispatch implements the dispatch kernel of §4.H: the single
// entry point that takes a decoded InvocationEnvelope and a terminal
// actor invocation, drives it through the middleware chain, and returns
// the ResponseEnvelope to send back. It holds no transport knowledge; a
// transport adapter decodes bytes into an envelope, calls Kernel.Handle,
// and encodes the result back onto the wire.
package dispatch

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/actormesh/actorid"
	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/GoCodeAlone/actormesh/invocation"
	"github.com/GoCodeAlone/actormesh/lifecycle"
	"github.com/GoCodeAlone/actormesh/middleware"
)

// Invoker is the generated-code shape the kernel calls into for a
// resolved actor: given the method name, a Decoder over the wire
// arguments, and the generic substitutions the caller supplied, it runs
// the target and reports success or failure through rh.
type Invoker interface {
	Invoke(ctx context.Context, method string, substitutions []string, dec invocation.Decoder, rh invocation.ResultHandler) ([]byte, error)
}

// ActorEntry pairs a registry-resolved actor with the Invoker that can
// run its methods. Generated actor types implement both actorid.Actor
// and Invoker on the same value, but the kernel only depends on the
// narrow interfaces it needs.
type ActorEntry interface {
	actorid.Actor
	Invoker
}

// Kernel wires together the name registry, the middleware chain, and
// the in-flight tracker to realize the six-step algorithm of §4.H.
type Kernel struct {
	registry *actorid.Registry
	chain    *middleware.Chain
	tracker  *lifecycle.Tracker
}

// New builds a Kernel. chain may be middleware.NewChain() (no
// middlewares) to get straight passthrough to the terminal handler.
func New(registry *actorid.Registry, chain *middleware.Chain, tracker *lifecycle.Tracker) *Kernel {
	return &Kernel{registry: registry, chain: chain, tracker: tracker}
}

// Handle runs one InvocationEnvelope through the dispatch algorithm and
// returns the ResponseEnvelope to send back. It never returns a non-nil
// error for a request-level failure (actor-not-found, decode error,
// method error all become a failure envelope); a non-nil error here
// means the envelope itself was not a well-formed invocation, which
// callers treat as a protocol error at the transport layer.
func (k *Kernel) Handle(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if env.Type != envelope.TypeInvocation {
		return nil, fmt.Errorf("dispatch: Handle requires an invocation envelope, got %q", env.Type)
	}

	// Step 1: resolve the exposed name.
	entry, ok := k.resolve(env.ActorID.ID)
	if !ok {
		return envelope.Failure(env.CallID, fmt.Sprintf("Actor '%s' not found", env.ActorID.ID)), nil
	}

	// Step 2: streaming targets branch to the server-side stream registry
	// rather than the RPC path; the kernel only drives RPC dispatch here.
	if envelope.IsStreamTarget(env.TargetIdentifier) {
		return nil, fmt.Errorf("dispatch: %q is a stream target, route to the stream registry instead", env.TargetIdentifier)
	}

	// Step 3: begin in-flight tracking.
	handle := k.tracker.Begin(env.CallID, env.ActorID.ID, env.TargetIdentifier)
	defer k.tracker.End(handle)

	// Step 4: run the middleware chain around the terminal handler.
	mctx := middleware.NewContext(ctx, env)
	resp := k.chain.Run(mctx, terminalHandler(entry))

	return resp, nil
}

// resolve looks up the exposed name and asserts it implements Invoker.
// A registered actor that does not implement Invoker is a wiring bug in
// the hosting process, not a request-level condition, so it is treated
// the same as actor-not-found rather than panicking mid-dispatch.
func (k *Kernel) resolve(name string) (ActorEntry, bool) {
	actor, ok := k.registry.Resolve(name)
	if !ok {
		return nil, false
	}
	entry, ok := actor.(ActorEntry)
	return entry, ok
}

// terminalHandler adapts a resolved ActorEntry into the middleware
// chain's terminal func(Context) *Envelope: it builds the JSON decoder
// over arguments, invokes the actor, and shapes the outcome into a
// ResponseEnvelope (§4.H step 4 a-d).
func terminalHandler(entry ActorEntry) middleware.Handler {
	return func(mctx *middleware.Context) *envelope.Envelope {
		env := mctx.Envelope
		dec := invocation.NewJSONDecoder(env.Arguments)
		rh := invocation.JSONResultHandler{}

		result, err := entry.Invoke(mctx.Context, env.TargetIdentifier, env.GenericSubstitutions, dec, rh)
		if err != nil {
			return envelope.Failure(env.CallID, rh.Failure(err))
		}
		return envelope.Success(env.CallID, result)
	}
}
