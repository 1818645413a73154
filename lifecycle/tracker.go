// Package lifecycle implements the in-flight call tracker and server
// state machine of §4.J: every dispatched invocation is tracked from
// admission to completion, and the server's running/draining/stopped
// states gate new admissions and bound graceful shutdown.
package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// call is one in-flight invocation's bookkeeping record.
type call struct {
	callID    uuid.UUID
	actorID   string
	method    string
	startTime time.Time
}

// Handle identifies one Begin/End pair; callers must End exactly the
// Handle their Begin returned.
type Handle struct {
	callID uuid.UUID
}

// Stats summarizes tracker-wide invocation durations, sampled at the
// moment Stats is called (not an asynchronously maintained running
// average).
type Stats struct {
	Count          int
	MeanDuration   time.Duration
	MaxDuration    time.Duration
	PerActorCounts map[string]int
}

// Tracker records every in-flight invocation and exposes aggregate
// statistics and a snapshot of in-flight calls for health reporting.
// All access is through Tracker's own methods; no lock is shared with
// any other holder (§5 Shared-resource policy).
type Tracker struct {
	mu        sync.Mutex
	inFlight  map[uuid.UUID]*call
	completed []time.Duration // durations of calls completed so far, for Stats
	perActor  map[string]int  // completed-call counts per actor, lifetime
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		inFlight: make(map[uuid.UUID]*call),
		perActor: make(map[string]int),
	}
}

// Begin registers a new in-flight call and returns the Handle to End it
// with. The dispatch kernel calls this as step 3 of §4.H, immediately
// after actor resolution.
func (t *Tracker) Begin(callID uuid.UUID, actorID, method string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[callID] = &call{callID: callID, actorID: actorID, method: method, startTime: time.Now()}
	return Handle{callID: callID}
}

// End completes the call h identifies, folding its duration into the
// tracker's aggregate statistics.
func (t *Tracker) End(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.inFlight[h.callID]
	if !ok {
		return
	}
	delete(t.inFlight, h.callID)
	t.completed = append(t.completed, time.Since(c.startTime))
	t.perActor[c.actorID]++
}

// InFlightCount returns the number of calls currently tracked as
// in-flight.
func (t *Tracker) InFlightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}

// CancelAll forcibly clears every in-flight call, used by the lifecycle
// manager when a graceful shutdown deadline elapses (§4.J
// draining->stopped transition). Cancellation here is bookkeeping only:
// the caller is responsible for actually cancelling the underlying
// goroutines/contexts.
func (t *Tracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = make(map[uuid.UUID]*call)
}

// Stats computes count/mean/max duration and per-actor counts over
// every call completed so far.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{PerActorCounts: make(map[string]int, len(t.perActor))}
	for actor, n := range t.perActor {
		s.PerActorCounts[actor] = n
	}
	s.Count = len(t.completed)
	if s.Count == 0 {
		return s
	}

	var total time.Duration
	for _, d := range t.completed {
		total += d
		if d > s.MaxDuration {
			s.MaxDuration = d
		}
	}
	s.MeanDuration = total / time.Duration(s.Count)
	return s
}
