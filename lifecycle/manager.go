package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three monotone-forward server states of §4.J.
type State string

const (
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// HealthStatus is the shape of the server-side health endpoint of §6.
type HealthStatus struct {
	Status           string        `json:"status"` // healthy | draining | unhealthy
	Timestamp        time.Time     `json:"timestamp"`
	InflightRequests int           `json:"inflightRequests"`
	ActiveStreams    int           `json:"activeStreams"`
	Uptime           time.Duration `json:"uptime"`
}

// ActiveStreamCounter is consumed by Manager to report activeStreams in
// healthStatus() without lifecycle depending on the stream package
// directly.
type ActiveStreamCounter interface {
	ActiveStreamCount() int
}

// Manager drives the server-wide running -> draining -> stopped state
// machine. Transitions are monotone forward; there is no way back to a
// prior state (§4.J).
type Manager struct {
	mu        sync.Mutex
	state     State
	startedAt time.Time
	tracker   *Tracker
	streams   ActiveStreamCounter
}

// NewManager builds a Manager in the running state, wired to tracker
// for in-flight accounting and streams for the health endpoint's
// activeStreams count (pass nil if no stream registry is wired; it
// reports 0).
func NewManager(tracker *Tracker, streams ActiveStreamCounter) *Manager {
	return &Manager{
		state:     StateRunning,
		startedAt: time.Now(),
		tracker:   tracker,
		streams:   streams,
	}
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AdmitNew reports whether a newly arrived envelope may be dispatched.
// The admission point (a transport adapter, ahead of the dispatch
// kernel) calls this before invoking Kernel.Handle; a false result
// means the caller must respond with
// ResponseEnvelope.failure("Server is shutting down") instead (§4.J).
func (m *Manager) AdmitNew() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning
}

// GracefulShutdown transitions running -> draining immediately (new
// envelopes are rejected from this point on), then waits up to timeout
// for the in-flight set to drain, polling every 100ms. On timeout or
// drain it transitions draining -> stopped, cancelling any remaining
// in-flight calls and dropping all stream buffers and filter states via
// dropStreams. shutdown() is GracefulShutdown(0).
func (m *Manager) GracefulShutdown(timeout time.Duration, dropStreams func()) {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateDraining
	m.mu.Unlock()

	deadline := time.Now().Add(timeout)
	const pollInterval = 100 * time.Millisecond
	for {
		if m.tracker.InFlightCount() == 0 {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(pollInterval)
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	m.tracker.CancelAll()
	if dropStreams != nil {
		dropStreams()
	}
}

// Shutdown is the immediate form: equivalent to GracefulShutdown(0, drop).
func (m *Manager) Shutdown(dropStreams func()) {
	m.GracefulShutdown(0, dropStreams)
}

// HealthStatus reports the shape the health endpoint serves. A draining
// server with zero in-flight calls still reports "draining", not
// "healthy" — the state machine, not the queue depth, determines the
// reported status. "unhealthy" is reserved for a stopped server still
// being probed (e.g. during process teardown).
func (m *Manager) HealthStatus() HealthStatus {
	m.mu.Lock()
	state := m.state
	started := m.startedAt
	m.mu.Unlock()

	status := "healthy"
	switch state {
	case StateDraining:
		status = "draining"
	case StateStopped:
		status = "unhealthy"
	}

	activeStreams := 0
	if m.streams != nil {
		activeStreams = m.streams.ActiveStreamCount()
	}

	return HealthStatus{
		Status:           status,
		Timestamp:        time.Now(),
		InflightRequests: m.tracker.InFlightCount(),
		ActiveStreams:    activeStreams,
		Uptime:           time.Since(started),
	}
}

// String renders State for logging.
func (s State) String() string { return string(s) }

var _ fmt.Stringer = StateRunning
