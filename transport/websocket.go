package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebsocketAdapter implements the websocket transport of §4.I: one
// envelope per text/binary frame, TLS via the dialer/upgrader's own
// configuration, Respond writes back on the same socket.
type WebsocketAdapter struct {
	logger   *slog.Logger
	incoming chan Message
	upgrader websocket.Upgrader
	tlsCfg   *tls.Config

	mu      sync.Mutex
	server  *http.Server
	sockets map[*websocket.Conn]*sync.Mutex // per-socket write mutex; gorilla forbids concurrent writers
}

// NewWebsocketAdapter builds a WebsocketAdapter. tlsCfg is used for
// outbound Dial connections (wss://); the Listen side's TLS is
// configured on the *http.Server the caller wraps this adapter's
// handler in (see cmd/actormeshd).
func NewWebsocketAdapter(logger *slog.Logger, tlsCfg *tls.Config) *WebsocketAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketAdapter{
		logger:   logger,
		incoming: make(chan Message, 64),
		tlsCfg:   tlsCfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sockets:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (a *WebsocketAdapter) Incoming() <-chan Message { return a.incoming }

// Handler returns an http.HandlerFunc suitable for mounting at a
// websocket route (e.g. "/ws"); each accepted connection is upgraded
// and its frames are drained into Incoming.
func (a *WebsocketAdapter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("transport: websocket: upgrade failed", "error", err)
			return
		}
		a.serve(conn)
	}
}

// Listen starts a standalone HTTP server whose sole route upgrades to
// websocket, for deployments that do not otherwise run an HTTP adapter.
func (a *WebsocketAdapter) Listen(ctx context.Context, endpoint string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.Handler())
	srv := &http.Server{Addr: endpoint, Handler: mux, TLSConfig: a.tlsCfg}

	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		var err error
		if a.tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			a.logger.Error("transport: websocket: serve failed", "error", err)
		}
	}()
	return nil
}

// Dial opens an outbound websocket connection (ws:// or wss://) and
// drains its frames into Incoming, for client-role use.
func (a *WebsocketAdapter) Dial(ctx context.Context, endpoint string) error {
	dialer := websocket.Dialer{TLSClientConfig: a.tlsCfg}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("transport: websocket: dial %q: %w", endpoint, err)
	}
	a.serve(conn)
	return nil
}

func (a *WebsocketAdapter) serve(conn *websocket.Conn) {
	writeMu := &sync.Mutex{}
	a.mu.Lock()
	a.sockets[conn] = writeMu
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.sockets, conn)
		a.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		a.incoming <- Message{
			Bytes:  payload,
			Source: conn.RemoteAddr().String(),
			Respond: func(_ context.Context, resp []byte) error {
				writeMu.Lock()
				defer writeMu.Unlock()
				return conn.WriteMessage(websocket.TextMessage, resp)
			},
		}
	}
}

// Shutdown closes the listening server (if any) and every open socket.
func (a *WebsocketAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	sockets := make([]*websocket.Conn, 0, len(a.sockets))
	for c := range a.sockets {
		sockets = append(sockets, c)
	}
	a.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("transport: websocket: shutdown: %w", err)
		}
	}
	for _, c := range sockets {
		_ = c.Close()
	}
	return nil
}
