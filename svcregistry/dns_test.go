package svcregistry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	srvs []*net.SRV
	err  error
}

func (f *fakeResolver) LookupSRV(context.Context, string, string, string) (string, []*net.SRV, error) {
	return "", f.srvs, f.err
}

func TestDNSRegistry_ResolveAll(t *testing.T) {
	fr := &fakeResolver{srvs: []*net.SRV{
		{Target: "pod-1.todo.svc.cluster.local.", Port: 9000, Priority: 1, Weight: 1},
		{Target: "pod-2.todo.svc.cluster.local.", Port: 9000, Priority: 1, Weight: 1},
	}}
	reg := NewDNSRegistry(fr, func(actorID string) string { return "_actormesh._tcp." + actorID }, 0, nil)

	eps, err := reg.ResolveAll(context.Background(), "todo-list-1")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "pod-1.todo.svc.cluster.local:9000", eps[0].Address)
}

func TestDNSRegistry_ResolveReturnsFirst(t *testing.T) {
	fr := &fakeResolver{srvs: []*net.SRV{{Target: "pod-1.", Port: 9000}}}
	reg := NewDNSRegistry(fr, func(string) string { return "x" }, 0, nil)

	ep, err := reg.Resolve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "pod-1:9000", ep.Address)
}

func TestDNSRegistry_WatchEmitsOnChange(t *testing.T) {
	fr := &fakeResolver{srvs: []*net.SRV{{Target: "pod-1.", Port: 9000}}}
	reg := NewDNSRegistry(fr, func(string) string { return "x" }, 15*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ch, err := reg.Watch(ctx, "a")
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, EventEndpoints, first.Kind)
	assert.Len(t, first.Endpoints, 1)

	fr.srvs = append(fr.srvs, &net.SRV{Target: "pod-2.", Port: 9000})

	second := <-ch
	require.Equal(t, EventEndpoints, second.Kind)
	assert.Len(t, second.Endpoints, 2)
}

func TestDNSRegistry_RegisterUnsupported(t *testing.T) {
	reg := NewDNSRegistry(&fakeResolver{}, func(string) string { return "x" }, 0, nil)
	err := reg.Register(context.Background(), Endpoint{})
	assert.Error(t, err)
}
