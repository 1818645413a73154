// Package svcregistry specifies the small service-registry surface the
// connection broker and dispatch kernel consume to resolve an actor's
// exposed name to a live endpoint in a multi-process deployment (§6
// "Service registry (consumed)"). It is deliberately out of the core's
// scope beyond this interface: production deployments are expected to
// plug in whatever registry their infrastructure already runs.
package svcregistry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Resolve when no endpoint is registered for
// an actorID.
var ErrNotFound = errors.New("svcregistry: actor not registered")

// Endpoint is one registered location for an actor, with free-form
// metadata the caller may use for routing decisions (region, version,
// weight, ...).
type Endpoint struct {
	ActorID  string
	Address  string
	Metadata map[string]string
	TTL      time.Duration
}

// EventKind discriminates the union Watch delivers.
type EventKind string

const (
	EventUpdated   EventKind = "updated"
	EventRemoved   EventKind = "removed"
	EventEndpoints EventKind = "endpoints"
	EventError     EventKind = "error"
)

// Event is one message on a Watch subscription (§6): an incremental
// update, a removal, a full endpoint-set snapshot, or an error.
type Event struct {
	Kind      EventKind
	Endpoint  Endpoint   // set for EventUpdated
	Endpoints []Endpoint // set for EventEndpoints
	Err       error      // set for EventError
}

// Registry is the interface the broker and kernel depend on (§6):
// register/deregister/heartbeat an endpoint, resolve one or all
// endpoints for an actor, watch an actor's endpoint set for changes,
// and list registered actor IDs by prefix.
type Registry interface {
	Register(ctx context.Context, ep Endpoint) error
	Deregister(ctx context.Context, actorID, address string) error
	Heartbeat(ctx context.Context, actorID, address string) error

	Resolve(ctx context.Context, actorID string) (Endpoint, error)
	ResolveAll(ctx context.Context, actorID string) ([]Endpoint, error)

	// Watch streams endpoint-set changes for actorID until ctx is
	// cancelled. Watch returns at once; the returned channel is closed
	// after ctx is cancelled. A failed lookup may be reported as an
	// EventError without ending the subscription.
	Watch(ctx context.Context, actorID string) (<-chan Event, error)

	List(ctx context.Context, prefix string) ([]string, error)
}
