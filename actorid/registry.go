// Package actorid implements the exposed-name registry of §4.B: a map
// from the name a caller addresses ("calc", "todo-42") to the ActorID
// the dispatch kernel resolves, plus the local ActorID -> actor object
// table the kernel invokes against.
package actorid

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/actormesh/envelope"
)

// Actor is the minimal shape the registry and dispatch kernel require of
// a hosted actor. Generated actor code implements a richer interface
// (method table, stream sources); the registry only needs enough to
// resolve a name to a stable identity and object.
type Actor interface {
	ActorID() envelope.ActorID
}

// Registry owns the exposed-name -> ActorID map and the ActorID -> Actor
// table. A registered actor is exclusively owned by the registry of its
// host process (§3 Ownership); the dispatch kernel never invokes a
// method on an unregistered actor.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]envelope.ActorID
	byActorID map[string]Actor // keyed by ActorID.Key()
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName:    make(map[string]envelope.ActorID),
		byActorID: make(map[string]Actor),
	}
}

// Expose registers actor under name, idempotent over (name, actor): a
// repeated call with the same actor under the same name is a no-op; a
// call naming a different actor atomically replaces the registration
// (§4.B). At most one registration exists per exposed name (§3).
func (r *Registry) Expose(actor Actor, name string) error {
	if name == "" {
		return fmt.Errorf("actorid: expose: name must not be empty")
	}
	id := actor.ActorID()
	if err := id.Validate(); err != nil {
		return fmt.Errorf("actorid: expose %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[name]; ok && prev.Key() != id.Key() {
		delete(r.byActorID, prev.Key())
	}
	r.byName[name] = id
	r.byActorID[id.Key()] = actor
	return nil
}

// Unexpose removes the registration for name, if any. In-flight calls
// already dispatched to the actor continue to completion (the registry
// only gates new lookups).
func (r *Registry) Unexpose(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	delete(r.byActorID, id.Key())
}

// Resolve translates an exposed name to its registered actor. The
// dispatch kernel calls this for every InvocationEnvelope (§4.H step 1).
func (r *Registry) Resolve(name string) (Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	actor, ok := r.byActorID[id.Key()]
	return actor, ok
}

// ActorIDFor returns the ActorID currently registered under name.
func (r *Registry) ActorIDFor(name string) (envelope.ActorID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Names returns every currently exposed name, for diagnostics and tests.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}
