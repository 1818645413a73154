package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoCodeAlone/actormesh/actorid"
	"github.com/GoCodeAlone/actormesh/dispatch"
	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/GoCodeAlone/actormesh/internal/demoactor"
	"github.com/GoCodeAlone/actormesh/invocation"
	"github.com/GoCodeAlone/actormesh/kv"
	"github.com/GoCodeAlone/actormesh/lifecycle"
	"github.com/GoCodeAlone/actormesh/middleware"
	obstracing "github.com/GoCodeAlone/actormesh/observability/tracing"
	"github.com/GoCodeAlone/actormesh/pkg/tlsutil"
	"github.com/GoCodeAlone/actormesh/stream"
	"github.com/GoCodeAlone/actormesh/svcregistry"
	"github.com/GoCodeAlone/actormesh/transport"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamInvoker is the local shape the dispatch loop consults for
// "observe"-prefixed targets, mirroring dispatch.Invoker's RPC shape but
// yielding a lazily-produced stream.Sequence instead of a single result
// (§4.D, §4.H step 2).
type StreamInvoker interface {
	InvokeStream(ctx context.Context, method string, dec invocation.Decoder) (*stream.Sequence, stream.CustomHook, error)
}

// Server wires the core actormesh packages into one running process:
// the actor registry, the dispatch kernel and its middleware chain, the
// stream registry, a persistent KV store, and the TCP/websocket/HTTP
// transport adapters. It is built exclusively through functional
// options, never a config file (the framework's CLI-flags/YAML-config
// non-goal applies to hosting processes too).
type Server struct {
	logger *slog.Logger

	registry *actorid.Registry
	tracker  *lifecycle.Tracker
	manager  *lifecycle.Manager
	kernel   *dispatch.Kernel
	chain    *middleware.Chain

	streamBuffer *stream.Buffer
	streams      *stream.ServerRegistry

	store kv.Store

	metricsReg *prometheus.Registry
	collector  *middleware.MetricsCollector
	tracer     *obstracing.Provider

	tcp  *transport.TCPAdapter
	ws   *transport.WebsocketAdapter
	http *transport.HTTPAdapter

	tcpAddr     string
	wsAddr      string
	httpAddr    string
	metricsAddr string

	jwtSecret   []byte
	authzPolicy middleware.Policy
	tlsCfg      *tls.Config

	svcRegistry  svcregistry.Registry
	advertiseTTL time.Duration

	counter *demoactor.CounterActor
}

// Option configures a Server under construction.
type Option func(*Server)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithKVStore overrides the default in-memory kv.Store, e.g. with a
// DynamoDB- or Postgres-backed one for a multi-process deployment.
func WithKVStore(store kv.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithAddresses sets the listen addresses for the three transport
// adapters and the Prometheus /metrics endpoint; an empty transport
// address leaves that adapter unstarted.
func WithAddresses(tcpAddr, wsAddr, httpAddr, metricsAddr string) Option {
	return func(s *Server) {
		s.tcpAddr = tcpAddr
		s.wsAddr = wsAddr
		s.httpAddr = httpAddr
		s.metricsAddr = metricsAddr
	}
}

// WithJWTAuth enables the Authentication and Authorization middlewares,
// verifying bearer tokens with secret (HS256) and authorizing each
// authenticated principal against policy (main.go passes
// middlewarePolicyForCounter).
func WithJWTAuth(secret []byte, policy middleware.Policy) Option {
	return func(s *Server) {
		s.jwtSecret = secret
		s.authzPolicy = policy
	}
}

// WithTracing bootstraps the global OpenTelemetry TracerProvider against
// an OTLP/HTTP collector at endpoint, so middleware.Tracing's spans are
// actually exported somewhere.
func WithTracing(ctx context.Context, endpoint string) (Option, error) {
	cfg := obstracing.DefaultConfig()
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	provider, err := obstracing.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("actormeshd: bootstrap tracing: %w", err)
	}
	return func(s *Server) { s.tracer = provider }, nil
}

// WithTLS fits a shared tls.Config onto the HTTP and websocket adapters
// (framed TCP has no TLS of its own; terminate TLS in front of it).
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsCfg = cfg }
}

// WithTLSFromFiles builds a tls.Config from cert/key/CA file paths and
// fits it the same way WithTLS does. cfg.Enabled == false yields a nil
// tls.Config (TLS left off), matching tlsutil's no-op convention.
func WithTLSFromFiles(cfg tlsutil.TLSConfig) (Option, error) {
	tlsCfg, err := tlsutil.LoadTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("actormeshd: build TLS config: %w", err)
	}
	return func(s *Server) { s.tlsCfg = tlsCfg }, nil
}

// WithServiceRegistry overrides the default in-memory svcregistry.Registry,
// e.g. with a DNS-SRV-backed one so peer processes can discover this
// server's exposed actors in a multi-process deployment. advertiseTTL
// bounds how long the registration is valid without a heartbeat.
func WithServiceRegistry(reg svcregistry.Registry, advertiseTTL time.Duration) Option {
	return func(s *Server) {
		s.svcRegistry = reg
		s.advertiseTTL = advertiseTTL
	}
}

const defaultActorType = "Counter"

// NewServer builds a fully-wired Server: registry, tracker, lifecycle
// manager, stream registry, an in-memory kv.Store unless overridden, the
// validation -> rate-limit -> [auth -> authz] -> metrics -> tracing ->
// logging middleware chain of §4.N, the dispatch kernel, and one demo
// CounterActor exposed as "counter".
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		logger:       slog.Default(),
		registry:     actorid.New(),
		tracker:      lifecycle.NewTracker(),
		store:        kv.NewMemoryStore(),
		tcpAddr:      "127.0.0.1:9000",
		wsAddr:       "127.0.0.1:9001",
		httpAddr:     "127.0.0.1:9002",
		metricsAddr:  "127.0.0.1:9003",
		svcRegistry:  svcregistry.NewMemoryRegistry(),
		advertiseTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.streamBuffer = stream.NewBuffer(0, 0)
	s.streams = stream.NewServerRegistry(s.streamBuffer)
	s.manager = lifecycle.NewManager(s.tracker, s.streams)

	s.tcp = transport.NewTCPAdapter(s.logger)
	s.ws = transport.NewWebsocketAdapter(s.logger, s.tlsCfg)
	s.http = transport.NewHTTPAdapter(s.logger, s.tlsCfg)
	s.http.HealthHandler = s.serveHealth

	s.metricsReg = prometheus.NewRegistry()
	s.collector = middleware.NewMetricsCollector(s.metricsReg)

	actorTypeOf := func(env *envelope.Envelope) string { return defaultActorType }

	mws := []middleware.Middleware{
		middleware.Validation(middleware.DefaultValidationConfig()),
		middleware.RateLimit(middleware.NewLocalLimiter(50, 100), middleware.PerPrincipalKey),
	}
	if s.jwtSecret != nil {
		keyFunc := func(*jwt.Token) (any, error) { return s.jwtSecret, nil }
		mws = append(mws,
			middleware.Authentication(middleware.BearerFromMetadata("authorization"), keyFunc, nil),
			middleware.Authorization(s.authzPolicy, actorTypeOf),
		)
	}
	mws = append(mws, middleware.Metrics(s.collector, actorTypeOf))
	if s.tracer != nil {
		mws = append(mws, middleware.Tracing("actormeshd"))
	}
	mws = append(mws, middleware.Logging(s.logger, nil))
	s.chain = middleware.NewChain(mws...)

	s.kernel = dispatch.New(s.registry, s.chain, s.tracker)

	s.counter = demoactor.NewCounterActor("counter-1", s.store)
	if err := s.registry.Expose(s.counter, "counter"); err != nil {
		return nil, fmt.Errorf("actormeshd: expose counter actor: %w", err)
	}

	return s, nil
}

// Run starts every configured transport adapter and drains invocations
// until ctx is cancelled, then performs a graceful shutdown bounded by
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if s.tcpAddr != "" {
		if err := s.tcp.Listen(ctx, s.tcpAddr); err != nil {
			return err
		}
		s.logger.Info("actormeshd: tcp listening", "addr", s.tcpAddr)
	}
	if s.wsAddr != "" {
		if err := s.ws.Listen(ctx, s.wsAddr); err != nil {
			return err
		}
		s.logger.Info("actormeshd: websocket listening", "addr", s.wsAddr)
	}
	if s.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: s.metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("actormeshd: metrics server failed", "error", err)
			}
		}()
		s.logger.Info("actormeshd: metrics listening", "addr", s.metricsAddr)
	}

	if s.httpAddr != "" {
		if err := s.http.Listen(ctx, s.httpAddr); err != nil {
			return err
		}
		s.logger.Info("actormeshd: http listening", "addr", s.httpAddr)
	}

	s.advertise(ctx)

	go s.drain(ctx, s.tcp.Incoming())
	go s.drain(ctx, s.ws.Incoming())
	go s.drain(ctx, s.http.Incoming())

	<-ctx.Done()
	s.logger.Info("actormeshd: shutting down")
	s.withdraw(context.Background())
	s.manager.GracefulShutdown(shutdownTimeout, s.streams.Shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.tcp.Shutdown(shutdownCtx)
	_ = s.ws.Shutdown(shutdownCtx)
	_ = s.http.Shutdown(shutdownCtx)
	s.streamBuffer.Close()
	if s.tracer != nil {
		_ = s.tracer.Shutdown(shutdownCtx)
	}
	return nil
}

// advertise registers every exposed actor's endpoint with the service
// registry so peer processes can resolve this server, and starts a
// heartbeat goroutine that keeps the registration alive until ctx is
// cancelled (§6 "Service registry (consumed)").
func (s *Server) advertise(ctx context.Context) {
	if s.svcRegistry == nil || s.tcpAddr == "" {
		return
	}
	for _, name := range s.registry.Names() {
		ep := svcregistry.Endpoint{ActorID: name, Address: s.tcpAddr, TTL: s.advertiseTTL}
		if err := s.svcRegistry.Register(ctx, ep); err != nil {
			s.logger.Error("actormeshd: register service endpoint", "actor", name, "error", err)
			continue
		}
		go s.heartbeat(ctx, name)
	}
}

func (s *Server) heartbeat(ctx context.Context, actorID string) {
	interval := s.advertiseTTL / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.svcRegistry.Heartbeat(ctx, actorID, s.tcpAddr); err != nil {
				s.logger.Warn("actormeshd: heartbeat service endpoint", "actor", actorID, "error", err)
			}
		}
	}
}

// withdraw deregisters every exposed actor's endpoint on shutdown.
func (s *Server) withdraw(ctx context.Context) {
	if s.svcRegistry == nil || s.tcpAddr == "" {
		return
	}
	for _, name := range s.registry.Names() {
		if err := s.svcRegistry.Deregister(ctx, name, s.tcpAddr); err != nil {
			s.logger.Warn("actormeshd: deregister service endpoint", "actor", name, "error", err)
		}
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	status := s.manager.HealthStatus()
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// drain reads decoded envelopes off one transport adapter's Incoming
// channel and dispatches each through handleEnvelope until ctx ends.
func (s *Server) drain(ctx context.Context, incoming <-chan transport.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			go s.handleEnvelope(ctx, msg)
		}
	}
}

// handleEnvelope decodes one transport.Message, admits it through the
// lifecycle manager, and routes it to either the RPC dispatch kernel or
// the stream registry depending on whether the target is an observeX
// method (§4.H step 2, §4.J).
func (s *Server) handleEnvelope(ctx context.Context, msg transport.Message) {
	env, err := envelope.Decode(msg.Bytes)
	if err != nil {
		s.respondProtocolError(ctx, msg, err)
		return
	}

	if env.Type == envelope.TypeStreamResume {
		s.handleResume(ctx, env, msg)
		return
	}

	if !s.manager.AdmitNew() {
		resp := envelope.Failure(env.CallID, "Server is shutting down")
		s.respond(ctx, msg, resp)
		return
	}

	if envelope.IsStreamTarget(env.TargetIdentifier) {
		s.handleStreamStart(ctx, env, msg)
		return
	}

	resp, err := s.kernel.Handle(ctx, env)
	if err != nil {
		s.respondProtocolError(ctx, msg, err)
		return
	}
	s.respond(ctx, msg, resp)
}

func (s *Server) handleStreamStart(ctx context.Context, env *envelope.Envelope, msg transport.Message) {
	actor, ok := s.registry.Resolve(env.ActorID.ID)
	if !ok {
		s.respond(ctx, msg, envelope.Failure(env.CallID, fmt.Sprintf("Actor '%s' not found", env.ActorID.ID)))
		return
	}
	invoker, ok := actor.(StreamInvoker)
	if !ok {
		s.respond(ctx, msg, envelope.Failure(env.CallID, fmt.Sprintf("Actor '%s' does not support streaming", env.ActorID.ID)))
		return
	}

	dec := invocation.NewJSONDecoder(env.Arguments)
	seq, hook, err := invoker.InvokeStream(ctx, env.TargetIdentifier, dec)
	if err != nil {
		s.respond(ctx, msg, envelope.Failure(env.CallID, err.Error()))
		return
	}

	filter := envelope.Filter{Kind: envelope.FilterAll}
	if env.StreamFilter != nil {
		filter = *env.StreamFilter
	}

	sender := &messageSender{ctx: ctx, respond: msg.Respond}
	if _, err := s.streams.Start(ctx, env.ActorID.ID, filter, hook, seq, sender); err != nil {
		s.respond(ctx, msg, envelope.Failure(env.CallID, err.Error()))
	}
}

func (s *Server) handleResume(ctx context.Context, env *envelope.Envelope, msg transport.Message) {
	sender := &messageSender{ctx: ctx, respond: msg.Respond}
	resumed, err := s.streams.Resume(env.StreamID, env.LastSequence, sender)
	if err != nil {
		s.logger.Warn("actormeshd: stream resume failed", "stream_id", env.StreamID, "error", err)
		return
	}
	if !resumed {
		errMsg := "stream not resumable, start a fresh observeX call"
		_ = sender.Send(&envelope.Envelope{Type: envelope.TypeStreamError, StreamID: env.StreamID, ErrorMessage: &errMsg})
	}
}

func (s *Server) respond(ctx context.Context, msg transport.Message, resp *envelope.Envelope) {
	encoded, err := envelope.Encode(resp)
	if err != nil {
		s.logger.Error("actormeshd: encode response", "error", err)
		return
	}
	if err := msg.Respond(ctx, encoded); err != nil {
		s.logger.Warn("actormeshd: respond failed", "source", msg.Source, "error", err)
	}
}

func (s *Server) respondProtocolError(ctx context.Context, msg transport.Message, err error) {
	resp := envelope.Failure(uuid.Nil, fmt.Sprintf("protocol error: %v", err))
	s.respond(ctx, msg, resp)
}

// messageSender adapts a transport.Message's Respond callback to the
// stream.Sender interface the server stream registry emits frames
// through.
type messageSender struct {
	ctx     context.Context
	respond func(ctx context.Context, bytes []byte) error
}

func (m *messageSender) Send(env *envelope.Envelope) error {
	encoded, err := envelope.Encode(env)
	if err != nil {
		return fmt.Errorf("actormeshd: encode stream frame: %w", err)
	}
	return m.respond(m.ctx, encoded)
}

// middlewarePolicyForCounter is the default authorization policy wired
// in when ACTORMESH_JWT_SECRET is set: any principal holding the
// "caller" role may invoke any Counter method.
func middlewarePolicyForCounter() middleware.Policy {
	return middleware.Policy{Rules: []middleware.Rule{
		{Role: "caller", ActorType: defaultActorType, Method: "*"},
	}}
}
