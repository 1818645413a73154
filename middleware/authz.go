package middleware

import (
	"fmt"

	"github.com/GoCodeAlone/actormesh/envelope"
)

// AuthorizationError is the failure kind surfaced when a Principal is
// authenticated but not entitled to the requested (actorType, method)
// pair (§4.N).
type AuthorizationError struct {
	ActorType string
	Method    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("principal is not authorized for %s.%s", e.ActorType, e.Method)
}

// Rule grants any Principal holding Role the ability to call Method on
// ActorType. Method == "*" matches every method on ActorType.
type Rule struct {
	Role      string
	ActorType string
	Method    string
}

func (r Rule) matches(actorType, method string) bool {
	if r.ActorType != actorType && r.ActorType != "*" {
		return false
	}
	return r.Method == method || r.Method == "*"
}

// Policy is a flat set of role-based rules evaluated by Authorization.
type Policy struct {
	Rules []Rule
}

func (p Policy) allows(roles []string, actorType, method string) bool {
	for _, role := range roles {
		for _, rule := range p.Rules {
			if rule.Role == role && rule.matches(actorType, method) {
				return true
			}
		}
	}
	return false
}

// Authorization returns a middleware that consults policy against the
// Principal attached to the context by an upstream Authentication
// middleware, and the invocation's actorType/method. actorTypeOf
// resolves the envelope's actorID to the logical actor type the policy
// is written against (distinct from the instance-level actorID).
func Authorization(policy Policy, actorTypeOf func(env *envelope.Envelope) string) Middleware {
	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			principal, ok := PrincipalFromContext(mctx.Context)
			if !ok {
				return envelope.Failure(mctx.Envelope.CallID, (&AuthorizationError{
					ActorType: actorTypeOf(mctx.Envelope),
					Method:    mctx.Envelope.TargetIdentifier,
				}).Error())
			}

			actorType := actorTypeOf(mctx.Envelope)
			if !policy.allows(principal.Roles, actorType, mctx.Envelope.TargetIdentifier) {
				return envelope.Failure(mctx.Envelope.CallID, (&AuthorizationError{
					ActorType: actorType,
					Method:    mctx.Envelope.TargetIdentifier,
				}).Error())
			}

			return next(mctx)
		}
	}
}
