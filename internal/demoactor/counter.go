// Package demoactor holds one hand-written actor, shared by both
// cmd/actormeshd and cmd/actormesh-gateway, so both binaries are
// runnable and observable end to end without duplicating the same
// scaffolding. Real deployments register their own generated actor
// types the same way these binaries register CounterActor.
package demoactor

import (
	"context"
	"strconv"
	"sync"

	"github.com/GoCodeAlone/actormesh/actorcore"
	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/GoCodeAlone/actormesh/invocation"
	"github.com/GoCodeAlone/actormesh/kv"
	"github.com/GoCodeAlone/actormesh/stream"
)

// methodFunc is the hand-written stand-in for what generated actor code
// would produce: one closure per exposed method, run with the
// invocation's context and wire decoder/result-handler.
type methodFunc func(ctx context.Context, dec invocation.Decoder, rh invocation.ResultHandler) ([]byte, error)

// CounterActor is a minimal persistent counter: increment/value/reset
// over a kv.Store record, plus an observeValue stream that emits the
// running total every time it changes. It exists to exercise the
// dispatch kernel, the persistent KV store, and the stream registry with
// a real, runnable actor rather than bare interface scaffolding.
type CounterActor struct {
	id      envelope.ActorID
	store   kv.Store
	mailbox *actorcore.Mailbox

	methods map[string]invocation.Method
	exec    map[string]methodFunc

	mu       sync.Mutex
	watchers []chan []byte
}

// NewCounterActor builds a CounterActor identified by actorID, persisting
// its value through store. actorID becomes both the registry's instance
// identity and the kv.Store key.
func NewCounterActor(actorID string, store kv.Store) *CounterActor {
	c := &CounterActor{
		id:      envelope.ActorID{ID: actorID},
		store:   store,
		mailbox: actorcore.NewMailbox(32),
	}

	c.methods = map[string]invocation.Method{
		"increment":    {Name: "increment", Arity: 1},
		"value":        {Name: "value", Arity: 0},
		"reset":        {Name: "reset", Arity: 0},
		"observeValue": {Name: "observeValue", Arity: 0, IsStream: true},
	}
	c.exec = map[string]methodFunc{
		"increment": c.invokeIncrement,
		"value":     c.invokeValue,
		"reset":     c.invokeReset,
	}
	return c
}

// ActorID implements actorid.Actor.
func (c *CounterActor) ActorID() envelope.ActorID { return c.id }

// Invoke implements dispatch.Invoker for the RPC methods (increment,
// value, reset). observeValue is a stream target and is never routed
// here; the dispatch loop resolves it through InvokeStream instead.
func (c *CounterActor) Invoke(ctx context.Context, method string, substitutions []string, dec invocation.Decoder, rh invocation.ResultHandler) ([]byte, error) {
	m, ok := c.methods[method]
	if !ok {
		return nil, &invocation.ErrMethodNotFound{TargetIdentifier: method}
	}
	if err := invocation.CheckGenericArity(m, substitutions); err != nil {
		return nil, err
	}
	fn, ok := c.exec[method]
	if !ok {
		return nil, &invocation.ErrMethodNotFound{TargetIdentifier: method}
	}
	return fn(ctx, dec, rh)
}

func (c *CounterActor) invokeIncrement(ctx context.Context, dec invocation.Decoder, rh invocation.ResultHandler) ([]byte, error) {
	var delta int64
	if err := dec.Decode("increment", &delta); err != nil {
		return nil, err
	}

	newValue, err := c.mailbox.Submit(ctx, func(ctx context.Context) (any, error) {
		seq, err := kv.RetrySaveIfVersion(ctx, c.store, c.id.ID, kv.DefaultRetryPolicy(), func(cur kv.Record, found bool) ([]byte, error) {
			v := int64(0)
			if found {
				v = decodeCounter(cur.Data)
			}
			v += delta
			return encodeCounter(v), nil
		})
		if err != nil {
			return nil, err
		}
		rec, err := c.store.Load(ctx, c.id.ID)
		if err != nil {
			return nil, err
		}
		_ = seq
		return decodeCounter(rec.Data), nil
	})
	if err != nil {
		return nil, err
	}

	v := newValue.(int64)
	c.notify(v)
	return rh.Success(v)
}

func (c *CounterActor) invokeValue(ctx context.Context, _ invocation.Decoder, rh invocation.ResultHandler) ([]byte, error) {
	rec, err := c.store.Load(ctx, c.id.ID)
	if err != nil {
		if err == kv.ErrNotFound {
			return rh.Success(int64(0))
		}
		return nil, err
	}
	return rh.Success(decodeCounter(rec.Data))
}

func (c *CounterActor) invokeReset(ctx context.Context, _ invocation.Decoder, rh invocation.ResultHandler) ([]byte, error) {
	_, err := c.mailbox.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, c.store.Delete(ctx, c.id.ID)
	})
	if err != nil {
		return nil, err
	}
	c.notify(0)
	return rh.Success(int64(0))
}

// InvokeStream implements the StreamInvoker shape both cmd binaries'
// dispatch loops consult for "observe"-prefixed targets: it hands back a
// *stream.Sequence fed from a fresh watcher channel, with no custom
// filter hook (the "changed"/"threshold" predefined filters already
// cover the interesting cases for a scalar counter).
func (c *CounterActor) InvokeStream(ctx context.Context, method string, _ invocation.Decoder) (*stream.Sequence, stream.CustomHook, error) {
	if method != "observeValue" {
		return nil, nil, &invocation.ErrMethodNotFound{TargetIdentifier: method}
	}

	ch := make(chan []byte, 16)
	c.mu.Lock()
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()

	seq := stream.NewSequence(16)
	go func() {
		defer close(seq.Items)
		defer c.removeWatcher(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				select {
				case seq.Items <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return seq, nil, nil
}

func (c *CounterActor) removeWatcher(ch chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.watchers {
		if w == ch {
			c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
			break
		}
	}
}

func (c *CounterActor) notify(v int64) {
	payload := encodeCounter(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- payload:
		default:
		}
	}
}

func encodeCounter(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func decodeCounter(data []byte) int64 {
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
