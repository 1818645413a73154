package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/stretchr/testify/require"
)

func TestLogging_RedactsSensitiveMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	callID := envelope.NewCallID()
	terminal := func(mctx *Context) *envelope.Envelope { return envelope.Success(callID, nil) }

	mw := Logging(logger, nil)
	mctx := NewContext(context.Background(), &envelope.Envelope{
		Type: envelope.TypeInvocation, CallID: callID, TargetIdentifier: "add",
	})
	mctx.Metadata["Authorization"] = "Bearer secret-token"
	mctx.Metadata["client_ip"] = "10.0.0.1"

	mw(terminal)(mctx)

	out := buf.String()
	require.NotContains(t, out, "secret-token")
	require.Contains(t, out, "[redacted]")
	require.Contains(t, out, "10.0.0.1")
}

func TestLogging_LogsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	callID := envelope.NewCallID()
	terminal := func(mctx *Context) *envelope.Envelope { return envelope.Failure(callID, "boom") }

	mw := Logging(logger, nil)
	mctx := NewContext(context.Background(), &envelope.Envelope{
		Type: envelope.TypeInvocation, CallID: callID, TargetIdentifier: "add",
	})
	mw(terminal)(mctx)

	out := buf.String()
	require.True(t, strings.Contains(out, "invocation failed"))
	require.True(t, strings.Contains(out, "boom"))
}
