package middleware

import (
	"context"
	"testing"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/stretchr/testify/require"
)

func TestChain_Empty_InvokesTerminalUnchanged(t *testing.T) {
	c := NewChain()
	callID := envelope.NewCallID()
	want := envelope.Success(callID, []byte(`5`))
	calls := 0

	terminal := func(mctx *Context) *envelope.Envelope {
		calls++
		return want
	}

	mctx := NewContext(context.Background(), &envelope.Envelope{Type: envelope.TypeInvocation, CallID: callID})
	got := c.Run(mctx, terminal)

	require.Equal(t, 1, calls)
	require.Same(t, want, got)
}

func TestChain_OrdersOutermostFirst(t *testing.T) {
	var order []string

	record := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(mctx *Context) *envelope.Envelope {
				order = append(order, name+":in")
				resp := next(mctx)
				order = append(order, name+":out")
				return resp
			}
		}
	}

	c := NewChain(record("a"), record("b"))
	terminal := func(mctx *Context) *envelope.Envelope {
		order = append(order, "terminal")
		return envelope.Success(envelope.NewCallID(), nil)
	}

	mctx := NewContext(context.Background(), &envelope.Envelope{Type: envelope.TypeInvocation})
	c.Run(mctx, terminal)

	require.Equal(t, []string{"a:in", "b:in", "terminal", "b:out", "a:out"}, order)
}

func TestChain_ShortCircuit(t *testing.T) {
	denyEverything := func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			return envelope.Failure(mctx.Envelope.CallID, "denied")
		}
	}

	terminalCalled := false
	terminal := func(mctx *Context) *envelope.Envelope {
		terminalCalled = true
		return envelope.Success(mctx.Envelope.CallID, nil)
	}

	c := NewChain(denyEverything)
	callID := envelope.NewCallID()
	mctx := NewContext(context.Background(), &envelope.Envelope{Type: envelope.TypeInvocation, CallID: callID})
	got := c.Run(mctx, terminal)

	require.False(t, terminalCalled)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "denied", *got.ErrorMessage)
}
