// Package middleware implements the invocation middleware pipeline of
// §4.M/§4.N: a chain of nested handlers, each free to inspect or
// rewrite the envelope, short-circuit with a failure response, or
// delegate to the next link. Security and observability concerns are
// each a standalone middleware composed into one chain by the hosting
// process, in the recommended order validation -> rate-limit ->
// authentication -> authorization -> tracing -> handler.
package middleware

import (
	"context"

	"github.com/GoCodeAlone/actormesh/envelope"
)

// Principal identifies the caller an Authentication middleware resolved
// credentials to.
type Principal struct {
	ID    string
	Type  string
	Roles []string
}

type principalContextKey struct{}

// PrincipalContextKey is the context key an Authentication middleware
// stores the resolved Principal under.
var PrincipalContextKey = principalContextKey{}

// PrincipalFromContext extracts the Principal an upstream Authentication
// middleware attached to the context, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(Principal)
	return p, ok
}

// Context carries one invocation through the middleware chain. Context
// embeds context.Context so middlewares can both read/write the
// envelope and thread cancellation/deadlines through to the terminal
// handler.
type Context struct {
	context.Context
	Envelope *envelope.Envelope

	// Metadata carries ambient key/value pairs (client address, raw
	// headers) middlewares attach for downstream consumption, notably
	// the logging middleware's redaction pass.
	Metadata map[string]string
}

// NewContext builds a middleware Context for one invocation envelope.
func NewContext(ctx context.Context, env *envelope.Envelope) *Context {
	return &Context{Context: ctx, Envelope: env, Metadata: make(map[string]string)}
}

// WithContext returns a shallow copy of mctx with its context.Context
// replaced, used by middlewares that derive a child context (e.g. to
// attach a Principal or a tracing span).
func (mctx *Context) WithContext(ctx context.Context) *Context {
	cp := *mctx
	cp.Context = ctx
	return &cp
}

// Handler is the shape of both the terminal dispatch handler and every
// middleware-wrapped handler in the chain.
type Handler func(mctx *Context) *envelope.Envelope

// Middleware wraps a Handler to produce another Handler, observing or
// rewriting the envelope, the context, or the eventual response.
type Middleware func(next Handler) Handler
