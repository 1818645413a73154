package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/GoCodeAlone/actormesh/pkg/tlsutil"
	"github.com/GoCodeAlone/actormesh/svcregistry"
	"github.com/GoCodeAlone/actormesh/transport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(WithAddresses("", "", "", ""))
	require.NoError(t, err)
	return srv
}

func invoke(t *testing.T, s *Server, target string, args ...[]byte) *envelope.Envelope {
	t.Helper()
	req := &envelope.Envelope{
		Type:             envelope.TypeInvocation,
		CallID:           uuid.New(),
		ActorID:          envelope.ActorID{ID: "counter"},
		TargetIdentifier: target,
		Arguments:        args,
	}
	encoded, err := envelope.Encode(req)
	require.NoError(t, err)

	respCh := make(chan []byte, 1)
	msg := transport.Message{
		Bytes: encoded,
		Respond: func(_ context.Context, bytes []byte) error {
			respCh <- bytes
			return nil
		},
	}

	s.handleEnvelope(context.Background(), msg)

	select {
	case raw := <-respCh:
		resp, err := envelope.Decode(raw)
		require.NoError(t, err)
		return resp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func TestServer_IncrementAndValue(t *testing.T) {
	s := newTestServer(t)

	resp := invoke(t, s, "increment", []byte("5"))
	require.Nil(t, resp.ErrorMessage)
	var v int64
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Equal(t, int64(5), v)

	resp = invoke(t, s, "increment", []byte("3"))
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Equal(t, int64(8), v)

	resp = invoke(t, s, "value")
	require.Nil(t, resp.ErrorMessage)
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Equal(t, int64(8), v)
}

func TestServer_ResetClearsValue(t *testing.T) {
	s := newTestServer(t)

	invoke(t, s, "increment", []byte("10"))
	resp := invoke(t, s, "reset")
	require.Nil(t, resp.ErrorMessage)

	resp = invoke(t, s, "value")
	var v int64
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	assert.Equal(t, int64(0), v)
}

func TestServer_UnknownActorFails(t *testing.T) {
	s := newTestServer(t)

	req := &envelope.Envelope{
		Type:             envelope.TypeInvocation,
		CallID:           uuid.New(),
		ActorID:          envelope.ActorID{ID: "does-not-exist"},
		TargetIdentifier: "value",
	}
	encoded, err := envelope.Encode(req)
	require.NoError(t, err)

	respCh := make(chan []byte, 1)
	s.handleEnvelope(context.Background(), transport.Message{
		Bytes: encoded,
		Respond: func(_ context.Context, bytes []byte) error {
			respCh <- bytes
			return nil
		},
	})

	raw := <-respCh
	resp, err := envelope.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, resp.ErrorMessage)
}

func TestServer_ObserveValueStreamsIncrements(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &envelope.Envelope{
		Type:             envelope.TypeInvocation,
		CallID:           uuid.New(),
		ActorID:          envelope.ActorID{ID: "counter"},
		TargetIdentifier: "observeValue",
	}
	encoded, err := envelope.Encode(req)
	require.NoError(t, err)

	frames := make(chan *envelope.Envelope, 8)
	s.handleEnvelope(ctx, transport.Message{
		Bytes: encoded,
		Respond: func(_ context.Context, bytes []byte) error {
			env, err := envelope.Decode(bytes)
			if err != nil {
				return err
			}
			frames <- env
			return nil
		},
	})

	start := <-frames
	assert.Equal(t, envelope.TypeStreamStart, start.Type)

	invoke(t, s, "increment", []byte("1"))

	data := <-frames
	assert.Equal(t, envelope.TypeStreamData, data.Type)
	var v int64
	require.NoError(t, json.Unmarshal(data.Data, &v))
	assert.Equal(t, int64(1), v)
}

func TestServer_AdvertiseAndWithdrawServiceEndpoints(t *testing.T) {
	reg := svcregistry.NewMemoryRegistry()
	s, err := NewServer(
		WithAddresses("127.0.0.1:0", "", "", ""),
		WithServiceRegistry(reg, time.Minute),
	)
	require.NoError(t, err)

	ctx := context.Background()
	s.advertise(ctx)

	eps, err := reg.ResolveAll(ctx, "counter")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, s.tcpAddr, eps[0].Address)

	s.withdraw(ctx)

	eps, err = reg.ResolveAll(ctx, "counter")
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestWithTLSFromFiles_DisabledLeavesConfigNil(t *testing.T) {
	opt, err := WithTLSFromFiles(tlsutil.TLSConfig{Enabled: false})
	require.NoError(t, err)

	s := &Server{}
	opt(s)
	assert.Nil(t, s.tlsCfg)
}
