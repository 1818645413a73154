// Command actormeshd hosts the reference server binary: it wires the
// core packages together and exposes one hand-written demo actor so the
// binary is runnable and observable end to end. Real deployments
// register their own generated actor types the same way this package
// registers CounterActor.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/actormesh/pkg/tlsutil"
)

// env var names read for optional behavior; there is deliberately no
// flag/YAML config layer here, only Go constructors wired directly.
const (
	envJWTSecret   = "ACTORMESH_JWT_SECRET"
	envTracingOTLP = "ACTORMESH_OTLP_ENDPOINT"
	envTCPAddr     = "ACTORMESH_TCP_ADDR"
	envWSAddr      = "ACTORMESH_WS_ADDR"
	envHTTPAddr    = "ACTORMESH_HTTP_ADDR"
	envMetricsAddr = "ACTORMESH_METRICS_ADDR"
	envTLSCertFile = "ACTORMESH_TLS_CERT_FILE"
	envTLSKeyFile  = "ACTORMESH_TLS_KEY_FILE"
	envTLSCAFile   = "ACTORMESH_TLS_CA_FILE"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
	}))

	opts := []Option{
		WithLogger(logger),
		WithAddresses(
			envOr(envTCPAddr, "127.0.0.1:9000"),
			envOr(envWSAddr, "127.0.0.1:9001"),
			envOr(envHTTPAddr, "127.0.0.1:9002"),
			envOr(envMetricsAddr, "127.0.0.1:9003"),
		),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if secret := os.Getenv(envJWTSecret); secret != "" {
		policy := middlewarePolicyForCounter()
		opts = append(opts, WithJWTAuth([]byte(secret), policy))
	}
	if endpoint := os.Getenv(envTracingOTLP); endpoint != "" {
		tracingOpt, err := WithTracing(ctx, endpoint)
		if err != nil {
			log.Fatalf("actormeshd: tracing setup: %v", err)
		}
		opts = append(opts, tracingOpt)
	}
	if certFile := os.Getenv(envTLSCertFile); certFile != "" {
		tlsOpt, err := WithTLSFromFiles(tlsutil.TLSConfig{
			Enabled:  true,
			CertFile: certFile,
			KeyFile:  os.Getenv(envTLSKeyFile),
			CAFile:   os.Getenv(envTLSCAFile),
		})
		if err != nil {
			log.Fatalf("actormeshd: TLS setup: %v", err)
		}
		opts = append(opts, tlsOpt)
	}

	srv, err := NewServer(opts...)
	if err != nil {
		log.Fatalf("actormeshd: setup: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("actormeshd: shutdown signal received")
		cancel()
	}()

	if err := srv.Run(ctx, 30*time.Second); err != nil {
		log.Fatalf("actormeshd: %v", err)
	}
	logger.Info("actormeshd: shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
