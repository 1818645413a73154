package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/actormesh/envelope"
)

// defaultRedactedKeys, compared case-insensitively, are never logged verbatim;
// their value is replaced with "[redacted]" before emission.
var defaultRedactedKeys = []string{"authorization", "apikey", "api-key", "token", "password", "secret"}

// Logging returns a middleware that emits one structured log record per
// invocation via logger, redacting any Context.Metadata entry whose key
// matches (case-insensitively) an entry in redactedKeys. A nil
// redactedKeys slice falls back to the default sensitive-key set
// (§4.M).
func Logging(logger *slog.Logger, redactedKeys []string) Middleware {
	if redactedKeys == nil {
		redactedKeys = defaultRedactedKeys
	}
	redacted := make(map[string]struct{}, len(redactedKeys))
	for _, k := range redactedKeys {
		redacted[strings.ToLower(k)] = struct{}{}
	}

	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			env := mctx.Envelope
			start := time.Now()
			resp := next(mctx)
			dur := time.Since(start)

			attrs := []any{
				slog.String("actor_id", env.ActorID.ID),
				slog.String("target", env.TargetIdentifier),
				slog.String("call_id", env.CallID.String()),
				slog.Duration("duration", dur),
			}
			for k, v := range mctx.Metadata {
				if _, hidden := redacted[strings.ToLower(k)]; hidden {
					v = "[redacted]"
				}
				attrs = append(attrs, slog.String(k, v))
			}

			if resp.ErrorMessage != nil {
				logger.Error("invocation failed", append(attrs, slog.String("error", *resp.ErrorMessage))...)
			} else {
				logger.Info("invocation completed", attrs...)
			}

			return resp
		}
	}
}
