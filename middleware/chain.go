package middleware

import "github.com/GoCodeAlone/actormesh/envelope"

// Chain composes a fixed ordered list of Middleware around a terminal
// Handler. Composition is nested: the first middleware added is the
// outermost (runs first on the way in, last on the way out). An empty
// chain invokes the terminal handler directly and returns its response
// unchanged (§8 boundary behavior).
type Chain struct {
	mws []Middleware
}

// NewChain builds a Chain from middlewares listed outermost-first, e.g.
// NewChain(validation, rateLimit, authn, authz, tracing) matches the
// recommended ordering of §4.N.
func NewChain(mws ...Middleware) *Chain {
	return &Chain{mws: mws}
}

// Run executes the chain around terminal for one invocation.
func (c *Chain) Run(mctx *Context, terminal Handler) *envelope.Envelope {
	h := terminal
	for i := len(c.mws) - 1; i >= 0; i-- {
		h = c.mws[i](h)
	}
	return h(mctx)
}
