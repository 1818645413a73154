package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	tcpWriteDeadline = 30 * time.Second
	tcpIdleTimeout   = 300 * time.Second
	tcpMaxFrameSize  = 16 << 20 // guards against a corrupt length prefix exhausting memory
)

// TCPAdapter implements the framed-TCP transport of §4.I: 4-byte
// big-endian length prefix + payload, one envelope per frame, no TLS
// (terminate TLS in front, or use the websocket adapter instead).
// Each Dial opens a new connection; an existing connection to the same
// endpoint is not reused. A connection is closed after tcpIdleTimeout
// without an inbound frame, and each Respond write enforces
// tcpWriteDeadline.
type TCPAdapter struct {
	logger   *slog.Logger
	incoming chan Message

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewTCPAdapter builds a TCPAdapter. A nil logger falls back to
// slog.Default().
func NewTCPAdapter(logger *slog.Logger) *TCPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPAdapter{
		logger:   logger,
		incoming: make(chan Message, 64),
		conns:    make(map[net.Conn]struct{}),
	}
}

func (a *TCPAdapter) Incoming() <-chan Message { return a.incoming }

// Listen accepts connections on endpoint (host:port) until ctx is
// cancelled or Shutdown is called.
func (a *TCPAdapter) Listen(ctx context.Context, endpoint string) error {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("transport: tcp: listen %q: %w", endpoint, err)
	}

	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go a.acceptLoop(ln)
	return nil
}

func (a *TCPAdapter) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			a.logger.Info("transport: tcp: accept loop stopped", "error", err)
			return
		}
		a.trackConn(conn)
		go a.readLoop(conn)
	}
}

// Dial opens one outbound connection to endpoint, usable as a client
// transport; frames read from it surface through Incoming the same way
// server-accepted connections do.
func (a *TCPAdapter) Dial(ctx context.Context, endpoint string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return fmt.Errorf("transport: tcp: dial %q: %w", endpoint, err)
	}
	a.trackConn(conn)
	go a.readLoop(conn)
	return nil
}

func (a *TCPAdapter) trackConn(conn net.Conn) {
	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()
}

func (a *TCPAdapter) untrackConn(conn net.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
	_ = conn.Close()
}

func (a *TCPAdapter) readLoop(conn net.Conn) {
	defer a.untrackConn(conn)
	source := conn.RemoteAddr().String()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout))

		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			if err != io.EOF {
				a.logger.Info("transport: tcp: read loop closing", "source", source, "error", err)
			}
			return
		}
		frameLen := binary.BigEndian.Uint32(lenBuf[:])
		if frameLen > tcpMaxFrameSize {
			a.logger.Warn("transport: tcp: oversized frame, closing connection", "source", source, "length", frameLen)
			return
		}

		payload := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			a.logger.Info("transport: tcp: read loop closing mid-frame", "source", source, "error", err)
			return
		}

		a.incoming <- Message{
			Bytes:  payload,
			Source: source,
			Respond: func(_ context.Context, resp []byte) error {
				return writeFrame(conn, resp)
			},
		}
	}
}

func writeFrame(conn net.Conn, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(tcpWriteDeadline))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: tcp: write length prefix: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("transport: tcp: write payload: %w", err)
	}
	return nil
}

// Shutdown closes the listener (if any) and every tracked connection.
func (a *TCPAdapter) Shutdown(_ context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ln := a.listener
	conns := make([]net.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}
