package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPAdapter implements the HTTP one-shot transport of §4.I/§6:
// POST /invoke with the envelope as body, response body is the
// ResponseEnvelope; GET /health returns 200 "OK", everything else 404.
// Respond is a one-shot write of the HTTP response; each inbound
// request yields exactly one Message.
type HTTPAdapter struct {
	logger   *slog.Logger
	incoming chan Message
	tlsCfg   *tls.Config

	mu     sync.Mutex
	server *http.Server

	// HealthHandler, if set, replaces the default 200 "OK" for GET
	// /health, so the caller can serve §6's richer JSON health body
	// without the adapter needing to know about lifecycle.Manager.
	HealthHandler http.HandlerFunc
}

// NewHTTPAdapter builds an HTTPAdapter. A nil logger falls back to
// slog.Default().
func NewHTTPAdapter(logger *slog.Logger, tlsCfg *tls.Config) *HTTPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAdapter{logger: logger, incoming: make(chan Message, 64), tlsCfg: tlsCfg}
}

func (a *HTTPAdapter) Incoming() <-chan Message { return a.incoming }

func (a *HTTPAdapter) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", a.handleInvoke)
	mux.HandleFunc("/health", a.handleHealth)
	return mux
}

func (a *HTTPAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.HealthHandler != nil {
		a.HealthHandler(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (a *HTTPAdapter) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	done := make(chan struct{})
	a.incoming <- Message{
		Bytes:  body,
		Source: r.RemoteAddr,
		Respond: func(_ context.Context, resp []byte) error {
			defer close(done)
			w.Header().Set("Content-Type", "application/json")
			_, err := w.Write(resp)
			return err
		},
	}
	<-done
}

// Listen starts serving /invoke and /health on endpoint until ctx is
// cancelled or Shutdown is called.
func (a *HTTPAdapter) Listen(ctx context.Context, endpoint string) error {
	srv := &http.Server{
		Addr:         endpoint,
		Handler:      a.mux(),
		TLSConfig:    a.tlsCfg,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

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
			a.logger.Error("transport: http: serve failed", "error", err)
		}
	}()
	return nil
}

// Dial is not meaningful for the HTTP one-shot adapter: callers POST to
// /invoke directly with an http.Client rather than holding a connection
// open, so there is nothing for Incoming to drain from a dial. It
// always returns an error.
func (a *HTTPAdapter) Dial(context.Context, string) error {
	return fmt.Errorf("transport: http: Dial is not supported, POST /invoke directly")
}

// Shutdown stops the HTTP server, if running.
func (a *HTTPAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("transport: http: shutdown: %w", err)
	}
	return nil
}
