package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdapter_InvokeRoundTrip(t *testing.T) {
	a := NewHTTPAdapter(nil, nil)
	srv := httptest.NewServer(a.mux())
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := <-a.Incoming()
		assert.Equal(t, []byte(`{"hello":"world"}`), msg.Bytes)
		require.NoError(t, msg.Respond(context.Background(), []byte(`{"ok":true}`)))
	}()

	resp, err := http.Post(srv.URL+"/invoke", "application/json", bytes.NewReader([]byte(`{"hello":"world"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	<-done
}

func TestHTTPAdapter_Health(t *testing.T) {
	a := NewHTTPAdapter(nil, nil)
	srv := httptest.NewServer(a.mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPAdapter_UnknownPath404(t *testing.T) {
	a := NewHTTPAdapter(nil, nil)
	srv := httptest.NewServer(a.mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPAdapter_DialUnsupported(t *testing.T) {
	a := NewHTTPAdapter(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, a.Dial(ctx, "http://example.com"))
}
