package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage, used by tests and
// single-process deployments. It mirrors the production contract
// exactly: a connectionID -> Subscription map plus a secondary
// actorID -> set<connectionID> index kept consistent on every write
// (§3 Subscription invariants).
type MemoryStorage struct {
	mu         sync.Mutex
	byConn     map[string]*Subscription
	byActor    map[string]map[string]struct{} // actorID -> set<connectionID>
	defaultTTL time.Duration
}

// NewMemoryStorage builds an empty MemoryStorage. defaultTTL is applied
// to new registrations; zero means no expiry tracking (tests that don't
// exercise reaping can ignore it).
func NewMemoryStorage(defaultTTL time.Duration) *MemoryStorage {
	return &MemoryStorage{
		byConn:     make(map[string]*Subscription),
		byActor:    make(map[string]map[string]struct{}),
		defaultTTL: defaultTTL,
	}
}

func (s *MemoryStorage) Register(_ context.Context, connectionID string, actorID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{ConnectionID: connectionID, ConnectedAt: time.Now(), TTL: s.defaultTTL}
	if actorID != nil {
		sub.ActorID = *actorID
		s.indexLocked(connectionID, *actorID)
	}
	s.byConn[connectionID] = sub
	return nil
}

func (s *MemoryStorage) Subscribe(_ context.Context, connectionID, streamID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byConn[connectionID]
	if !ok {
		sub = &Subscription{ConnectionID: connectionID, ConnectedAt: time.Now(), TTL: s.defaultTTL}
		s.byConn[connectionID] = sub
	}
	if sub.ActorID != "" && sub.ActorID != actorID {
		s.deindexLocked(connectionID, sub.ActorID)
	}
	sub.ActorID = actorID
	sub.StreamID = streamID
	s.indexLocked(connectionID, actorID)
	return nil
}

func (s *MemoryStorage) Unregister(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byConn[connectionID]
	if !ok {
		return nil
	}
	if sub.ActorID != "" {
		s.deindexLocked(connectionID, sub.ActorID)
	}
	delete(s.byConn, connectionID)
	return nil
}

func (s *MemoryStorage) UpdateSequence(_ context.Context, connectionID string, lastSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byConn[connectionID]
	if !ok {
		return fmt.Errorf("broker: memory: unknown connection %q", connectionID)
	}
	sub.LastSequence = lastSeq
	return nil
}

func (s *MemoryStorage) GetConnections(_ context.Context, actorID string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byActor[actorID]
	out := make([]Subscription, 0, len(ids))
	for connID := range ids {
		if sub, ok := s.byConn[connID]; ok {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// ReapExpired removes every subscription whose TTL deadline (ConnectedAt
// + TTL) is in the past, matching §3's "TTL index reaps entries whose
// absolute deadline is in the past".
func (s *MemoryStorage) ReapExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for connID, sub := range s.byConn {
		if sub.TTL <= 0 {
			continue
		}
		if now.After(sub.ConnectedAt.Add(sub.TTL)) {
			if sub.ActorID != "" {
				s.deindexLocked(connID, sub.ActorID)
			}
			delete(s.byConn, connID)
			reaped++
		}
	}
	return reaped
}

func (s *MemoryStorage) indexLocked(connectionID, actorID string) {
	set, ok := s.byActor[actorID]
	if !ok {
		set = make(map[string]struct{})
		s.byActor[actorID] = set
	}
	set[connectionID] = struct{}{}
}

func (s *MemoryStorage) deindexLocked(connectionID, actorID string) {
	set, ok := s.byActor[actorID]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(s.byActor, actorID)
	}
}

// MemorySender is an in-process Sender that hands payloads to a
// per-connection callback, for tests that want to assert on delivered
// bytes without a real transport.
type MemorySender struct {
	mu       sync.Mutex
	handlers map[string]func([]byte) error
	gone     map[string]bool
}

// NewMemorySender builds an empty MemorySender.
func NewMemorySender() *MemorySender {
	return &MemorySender{handlers: make(map[string]func([]byte) error), gone: make(map[string]bool)}
}

// Bind registers the delivery callback for connectionID.
func (s *MemorySender) Bind(connectionID string, handler func([]byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[connectionID] = handler
}

// MarkGone causes subsequent Send calls to connectionID to return
// ErrGone, simulating a vanished client.
func (s *MemorySender) MarkGone(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone[connectionID] = true
}

func (s *MemorySender) Send(_ context.Context, connectionID string, payload []byte) error {
	s.mu.Lock()
	gone := s.gone[connectionID]
	handler := s.handlers[connectionID]
	s.mu.Unlock()

	if gone {
		return ErrGone
	}
	if handler == nil {
		return fmt.Errorf("broker: memory sender: no handler bound for %q", connectionID)
	}
	return handler(payload)
}

func (s *MemorySender) IsAlive(_ context.Context, connectionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gone[connectionID], nil
}

func (s *MemorySender) Disconnect(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone[connectionID] = true
	return nil
}
