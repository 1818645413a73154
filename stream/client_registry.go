package stream

import (
	"sync"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/google/uuid"
)

// Receiver is the typed local delivery queue a caller reads StreamData
// payloads from. When the stream ends or errors, exactly one value is
// sent on Ended or Err; no channel is closed.
type Receiver struct {
	Data  chan []byte
	Err   chan error
	Ended chan envelope.EndReason
}

func newReceiver(buffer int) *Receiver {
	return &Receiver{
		Data:  make(chan []byte, buffer),
		Err:   make(chan error, 1),
		Ended: make(chan envelope.EndReason, 1),
	}
}

// clientStream tracks one outbound observeX call's local state.
type clientStream struct {
	localID  uuid.UUID
	serverID uuid.UUID // remapped once StreamStart arrives; uuid.Nil until then
	lastSeen uint64
	receiver *Receiver
}

// ClientRegistry is the client-side half of §4.D: it pre-registers a
// local delivery queue before the invocation is even sent (so
// late-arriving data is never dropped on a race), remaps to the
// server's streamID on StreamStart, and enforces sequence-number
// dedupe/gap handling on StreamData.
type ClientRegistry struct {
	mu       sync.Mutex
	byLocal  map[uuid.UUID]*clientStream
	byServer map[uuid.UUID]*clientStream
}

// NewClientRegistry builds an empty ClientRegistry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		byLocal:  make(map[uuid.UUID]*clientStream),
		byServer: make(map[uuid.UUID]*clientStream),
	}
}

// PreRegister allocates a client-local streamID and its Receiver before
// the invocation is sent. Callers send the observeX InvocationEnvelope
// only after this returns, eliminating the race where a server response
// could otherwise arrive before anything is listening for it.
func (c *ClientRegistry) PreRegister(bufferSize int) (uuid.UUID, *Receiver) {
	localID := uuid.New()
	cs := &clientStream{localID: localID, receiver: newReceiver(bufferSize)}

	c.mu.Lock()
	c.byLocal[localID] = cs
	c.mu.Unlock()

	return localID, cs.receiver
}

// OnStreamStart remaps localID to the server-assigned streamID. Any
// StreamData/StreamEnd/StreamError referencing serverID subsequently
// routes to the same Receiver.
func (c *ClientRegistry) OnStreamStart(localID, serverID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.byLocal[localID]
	if !ok {
		return
	}
	cs.serverID = serverID
	c.byServer[serverID] = cs
}

// OnStreamData applies the gap/dedupe rule of §4.D: sequenceNumber <=
// lastSeen is silently discarded; otherwise it is delivered and lastSeen
// advances. Lookups are by server streamID, the identifier transport
// frames actually carry after remapping.
func (c *ClientRegistry) OnStreamData(serverID uuid.UUID, seq uint64, payload []byte) {
	c.mu.Lock()
	cs, ok := c.byServer[serverID]
	c.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	deliver := seq > cs.lastSeen
	if deliver {
		cs.lastSeen = seq
	}
	c.mu.Unlock()

	if deliver {
		cs.receiver.Data <- payload
	}
}

// OnStreamEnd sends reason on the Ended channel of serverID's stream
// and removes its registration.
func (c *ClientRegistry) OnStreamEnd(serverID uuid.UUID, reason envelope.EndReason) {
	c.mu.Lock()
	cs, ok := c.byServer[serverID]
	if ok {
		delete(c.byServer, serverID)
		delete(c.byLocal, cs.localID)
	}
	c.mu.Unlock()
	if ok {
		cs.receiver.Ended <- reason
	}
}

// OnStreamError closes serverID's stream with an error.
func (c *ClientRegistry) OnStreamError(serverID uuid.UUID, err error) {
	c.mu.Lock()
	cs, ok := c.byServer[serverID]
	if ok {
		delete(c.byServer, serverID)
		delete(c.byLocal, cs.localID)
	}
	c.mu.Unlock()
	if ok {
		cs.receiver.Err <- err
	}
}

// LastSeen reports the last sequence number delivered for serverID, for
// building a StreamResume request after a reconnect.
func (c *ClientRegistry) LastSeen(serverID uuid.UUID) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.byServer[serverID]
	if !ok {
		return 0, false
	}
	return cs.lastSeen, true
}

// DiscardAndRestart drops the tracked state for oldServerID (used when a
// resumption attempt instead produces a fresh StreamStart with a new
// streamID, per §4.D: the client discards its old lastSeen and takes
// the new streamID).
func (c *ClientRegistry) DiscardAndRestart(oldServerID, newServerID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.byServer[oldServerID]
	if !ok {
		return
	}
	delete(c.byServer, oldServerID)
	cs.serverID = newServerID
	cs.lastSeen = 0
	c.byServer[newServerID] = cs
}
