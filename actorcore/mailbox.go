// Package actorcore provides the single-writer execution primitive that
// generated actor code embeds to satisfy the "serialized single-actor
// execution" contract of spec §4.H/§9: each actor processes invocations
// one at a time, via a per-actor goroutine reading from an inbox
// channel. The dispatch kernel adds no further locking on top of this.
package actorcore

import (
	"context"
	"fmt"
)

// job is one unit of serialized work submitted to a Mailbox.
type job struct {
	fn   func(ctx context.Context) (any, error)
	done chan result
}

type result struct {
	val any
	err error
}

// Mailbox runs submitted functions one at a time, in submission order,
// on a single background goroutine. Embedding a Mailbox in a generated
// actor type gives that actor single-writer semantics without an
// explicit mutex, matching the "event loop with cooperative handlers"
// realization called out in the design notes.
type Mailbox struct {
	inbox  chan job
	closed chan struct{}
}

// NewMailbox starts the mailbox's background worker. capacity bounds how
// many pending invocations may queue before Submit blocks.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 32
	}
	m := &Mailbox{
		inbox:  make(chan job, capacity),
		closed: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	for j := range m.inbox {
		val, err := j.fn(context.Background())
		j.done <- result{val: val, err: err}
	}
	close(m.closed)
}

// Submit enqueues fn and blocks until it has run (to completion or until
// ctx is cancelled first, in which case the call is abandoned but fn
// will still eventually run — matching cooperative cancellation: the
// actor itself, not the mailbox, is the suspension point that observes
// ctx). Submit is safe for concurrent callers; fn bodies never overlap.
func (m *Mailbox) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan result, 1)}

	select {
	case m.inbox <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, fmt.Errorf("actorcore: mailbox closed")
	}

	select {
	case r := <-j.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new work. Jobs already enqueued still run to
// completion; Close does not wait for them (callers needing that should
// drain via Submit results first, e.g. from a lifecycle drain).
func (m *Mailbox) Close() {
	close(m.inbox)
}
