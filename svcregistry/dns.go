package svcregistry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Resolver is the narrow slice of net.Resolver DNSRegistry depends on,
// declared here so tests can substitute a fake SRV answer without a
// real resolver.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
}

// DNSRegistry is a read-only, DNS-SRV-backed Registry (§6): actorIDs map
// to SRV record names (e.g. a headless Kubernetes service), and
// ResolveAll/Watch are served by periodically re-running the SRV query.
// Register and Deregister return an error and Heartbeat is a no-op —
// membership here is owned
// by whatever writes the DNS zone, not by this process.
type DNSRegistry struct {
	resolver  Resolver
	domainFor func(actorID string) string
	pollEvery time.Duration
	logger    *slog.Logger
}

// NewDNSRegistry builds a DNSRegistry. domainFor maps an actorID to the
// SRV query name to resolve (e.g. "_actormesh._tcp.<actorID>.svc.cluster.local").
// pollEvery governs how often Watch re-resolves; zero defaults to 15s.
// A nil resolver defaults to net.DefaultResolver; a nil logger falls
// back to slog.Default().
func NewDNSRegistry(resolver Resolver, domainFor func(actorID string) string, pollEvery time.Duration, logger *slog.Logger) *DNSRegistry {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if pollEvery <= 0 {
		pollEvery = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DNSRegistry{resolver: resolver, domainFor: domainFor, pollEvery: pollEvery, logger: logger}
}

// Register is unsupported: DNS membership is owned externally.
func (d *DNSRegistry) Register(context.Context, Endpoint) error {
	return fmt.Errorf("svcregistry: dns: register unsupported, DNS zone is externally managed")
}

// Deregister is unsupported: DNS membership is owned externally.
func (d *DNSRegistry) Deregister(context.Context, string, string) error {
	return fmt.Errorf("svcregistry: dns: deregister unsupported, DNS zone is externally managed")
}

// Heartbeat is a no-op: DNS TTLs, not heartbeats, govern freshness here.
func (d *DNSRegistry) Heartbeat(context.Context, string, string) error { return nil }

func (d *DNSRegistry) Resolve(ctx context.Context, actorID string) (Endpoint, error) {
	eps, err := d.ResolveAll(ctx, actorID)
	if err != nil {
		return Endpoint{}, err
	}
	if len(eps) == 0 {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrNotFound, actorID)
	}
	return eps[0], nil
}

func (d *DNSRegistry) ResolveAll(ctx context.Context, actorID string) ([]Endpoint, error) {
	name := d.domainFor(actorID)
	_, srvs, err := d.resolver.LookupSRV(ctx, "", "", name)
	if err != nil {
		return nil, fmt.Errorf("svcregistry: dns: lookup SRV %q: %w", name, err)
	}

	out := make([]Endpoint, 0, len(srvs))
	for _, srv := range srvs {
		addr := fmt.Sprintf("%s:%d", strings.TrimSuffix(srv.Target, "."), srv.Port)
		out = append(out, Endpoint{
			ActorID: actorID,
			Address: addr,
			Metadata: map[string]string{
				"priority": fmt.Sprintf("%d", srv.Priority),
				"weight":   fmt.Sprintf("%d", srv.Weight),
			},
		})
	}
	return out, nil
}

func (d *DNSRegistry) List(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("svcregistry: dns: list unsupported, DNS offers no enumeration of names")
}

// Watch polls ResolveAll every pollEvery and emits an EventEndpoints
// snapshot whenever the resolved address set changes, closing the
// channel when ctx is cancelled.
func (d *DNSRegistry) Watch(ctx context.Context, actorID string) (<-chan Event, error) {
	ch := make(chan Event, 4)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(d.pollEvery)
		defer ticker.Stop()

		var last string
		poll := func() {
			eps, err := d.ResolveAll(ctx, actorID)
			if err != nil {
				select {
				case ch <- Event{Kind: EventError, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			key := addressSetKey(eps)
			if key == last {
				return
			}
			last = key
			select {
			case ch <- Event{Kind: EventEndpoints, Endpoints: eps}:
			case <-ctx.Done():
			}
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return ch, nil
}

func addressSetKey(eps []Endpoint) string {
	addrs := make([]string, len(eps))
	for i, e := range eps {
		addrs[i] = e.Address
	}
	return strings.Join(addrs, ",")
}
