package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/golang-jwt/jwt/v5"
)

// AuthenticationError is the failure kind surfaced when credential
// extraction or verification fails (§4.N).
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// CredentialExtractor pulls a raw bearer token (or API key) out of an
// invocation envelope's metadata. Transports populate Context.Metadata
// from whatever carries credentials on the wire (an HTTP header, a
// websocket subprotocol, a framed-TCP preamble); the extractor is
// agnostic to which.
type CredentialExtractor func(mctx *Context) (string, error)

// BearerFromMetadata reads the token out of mctx.Metadata[key],
// trimming the standard "Bearer " prefix if present.
func BearerFromMetadata(key string) CredentialExtractor {
	return func(mctx *Context) (string, error) {
		raw, ok := mctx.Metadata[key]
		if !ok || raw == "" {
			return "", errors.New("no credential present")
		}
		const prefix = "Bearer "
		if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
			return raw[len(prefix):], nil
		}
		return raw, nil
	}
}

// TokenVerifier resolves a verified token's claims to a Principal.
type TokenVerifier func(claims jwt.MapClaims) (Principal, error)

// ClaimsPrincipal builds a Principal from the conventional "sub",
// "type", and "roles" claims, the shape actormeshd's own token issuer
// produces.
func ClaimsPrincipal(claims jwt.MapClaims) (Principal, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, errors.New("token missing sub claim")
	}
	typ, _ := claims["type"].(string)

	var roles []string
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	return Principal{ID: sub, Type: typ, Roles: roles}, nil
}

// Authentication returns a middleware that extracts and verifies a JWT
// bearer credential, storing the resolved Principal on the context for
// downstream middlewares (notably Authorization). A missing or invalid
// token short-circuits with a failure ResponseEnvelope; the chain never
// reaches the handler (§4.N, §7).
func Authentication(extract CredentialExtractor, keyFunc jwt.Keyfunc, toPrincipal TokenVerifier) Middleware {
	if toPrincipal == nil {
		toPrincipal = ClaimsPrincipal
	}
	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			raw, err := extract(mctx)
			if err != nil {
				return envelope.Failure(mctx.Envelope.CallID, (&AuthenticationError{Reason: err.Error()}).Error())
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid {
				reason := "invalid token"
				if err != nil {
					reason = err.Error()
				}
				return envelope.Failure(mctx.Envelope.CallID, (&AuthenticationError{Reason: reason}).Error())
			}

			principal, err := toPrincipal(claims)
			if err != nil {
				return envelope.Failure(mctx.Envelope.CallID, (&AuthenticationError{Reason: err.Error()}).Error())
			}

			ctx := mctx.WithContext(context.WithValue(mctx.Context, PrincipalContextKey, principal))
			return next(ctx)
		}
	}
}
