package middleware

import (
	"fmt"
	"regexp"

	"github.com/GoCodeAlone/actormesh/envelope"
)

// ValidationError is the failure kind surfaced when an invocation
// envelope violates the configured limits or identifier shape (§4.N).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// targetIdentifierPattern enforces the alphanumeric-plus-underscore
// shape §4.N requires of targetIdentifier.
var targetIdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidationConfig holds the limits the Validation middleware enforces.
type ValidationConfig struct {
	// MaxArgumentSize bounds each individual argument's encoded byte
	// length. Defaults to 1MB if zero.
	MaxArgumentSize int
	// MaxArguments bounds the total argument count. Defaults to 64 if
	// zero.
	MaxArguments int
}

// DefaultValidationConfig returns the recommended limits.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxArgumentSize: 1 << 20,
		MaxArguments:    64,
	}
}

// Validation returns a middleware enforcing cfg against every
// invocation envelope: max payload size per argument, max total
// arguments, and the targetIdentifier regex. This is the outermost
// middleware in the recommended ordering, so malformed requests never
// reach rate limiting or authentication (§4.N).
func Validation(cfg ValidationConfig) Middleware {
	if cfg.MaxArgumentSize <= 0 {
		cfg.MaxArgumentSize = 1 << 20
	}
	if cfg.MaxArguments <= 0 {
		cfg.MaxArguments = 64
	}

	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			env := mctx.Envelope

			if !targetIdentifierPattern.MatchString(env.TargetIdentifier) {
				return envelope.Failure(env.CallID, (&ValidationError{
					Reason: fmt.Sprintf("targetIdentifier %q contains disallowed characters", env.TargetIdentifier),
				}).Error())
			}

			if len(env.Arguments) > cfg.MaxArguments {
				return envelope.Failure(env.CallID, (&ValidationError{
					Reason: fmt.Sprintf("argument count %d exceeds maximum %d", len(env.Arguments), cfg.MaxArguments),
				}).Error())
			}

			for i, arg := range env.Arguments {
				if len(arg) > cfg.MaxArgumentSize {
					return envelope.Failure(env.CallID, (&ValidationError{
						Reason: fmt.Sprintf("argument %d size %d exceeds maximum %d", i, len(arg), cfg.MaxArgumentSize),
					}).Error())
				}
			}

			return next(mctx)
		}
	}
}
