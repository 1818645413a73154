package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	registered   map[string]bool
	unregistered map[string]bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: map[string]bool{}, unregistered: map[string]bool{}}
}

func (f *fakeRegistrar) Register(_ context.Context, connID string) error {
	f.registered[connID] = true
	return nil
}

func (f *fakeRegistrar) Unregister(_ context.Context, connID string) error {
	f.unregistered[connID] = true
	return nil
}

type fakeDispatcher struct {
	received []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, connID string, body []byte) error {
	f.received = append(f.received, connID+":"+string(body))
	return nil
}

func TestAPIGatewayAdapter_ConnectDisconnect(t *testing.T) {
	reg := newFakeRegistrar()
	a := NewAPIGatewayAdapter(nil, reg, &fakeDispatcher{})

	resp, err := a.HandleEvent(context.Background(), GatewayEvent{
		RequestContext: GatewayRequestContext{ConnectionID: "c1", RouteKey: "$connect"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, reg.registered["c1"])

	resp, err = a.HandleEvent(context.Background(), GatewayEvent{
		RequestContext: GatewayRequestContext{ConnectionID: "c1", RouteKey: "$disconnect"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, reg.unregistered["c1"])
}

func TestAPIGatewayAdapter_DefaultDispatches(t *testing.T) {
	disp := &fakeDispatcher{}
	a := NewAPIGatewayAdapter(nil, newFakeRegistrar(), disp)

	resp, err := a.HandleEvent(context.Background(), GatewayEvent{
		RequestContext: GatewayRequestContext{ConnectionID: "c2", RouteKey: "$default"},
		Body:           `{"type":"invocation"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, disp.received, 1)
	assert.Equal(t, `c2:{"type":"invocation"}`, disp.received[0])
}

func TestAPIGatewayAdapter_DefaultMalformedBody(t *testing.T) {
	a := NewAPIGatewayAdapter(nil, newFakeRegistrar(), &fakeDispatcher{})

	resp, err := a.HandleEvent(context.Background(), GatewayEvent{
		RequestContext: GatewayRequestContext{ConnectionID: "c3", RouteKey: "$default"},
		Body:           "not json",
	})
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestAPIGatewayAdapter_UnknownRoute(t *testing.T) {
	a := NewAPIGatewayAdapter(nil, newFakeRegistrar(), &fakeDispatcher{})
	resp, err := a.HandleEvent(context.Background(), GatewayEvent{
		RequestContext: GatewayRequestContext{ConnectionID: "c4", RouteKey: "$weird"},
	})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
