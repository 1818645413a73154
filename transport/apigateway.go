package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// GatewayEvent mirrors the shape API Gateway delivers to a websocket
// Lambda integration (§6): requestContext.{connectionId, routeKey} plus
// an optional body for $default messages.
type GatewayEvent struct {
	RequestContext GatewayRequestContext `json:"requestContext"`
	Body           string                `json:"body,omitempty"`
}

// GatewayRequestContext is the subset of API Gateway's requestContext
// the adapter consumes.
type GatewayRequestContext struct {
	ConnectionID string `json:"connectionId"`
	RouteKey     string `json:"routeKey"` // $connect, $disconnect, $default
}

// GatewayResponse is what the Lambda handler returns to API Gateway:
// {statusCode} for connection lifecycle events, an empty body for
// $default messages (§6).
type GatewayResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body,omitempty"`
}

// ConnectionRegistrar is the narrow slice of the connection broker's
// storage the serverless adapter needs on $connect/$disconnect. It is
// declared here (rather than importing package broker) so transport has
// no dependency on the broker package; *broker.Broker satisfies it
// structurally.
type ConnectionRegistrar interface {
	Register(ctx context.Context, connectionID string) error
	Unregister(ctx context.Context, connectionID string) error
}

// Dispatcher is how the $default route hands a decoded invocation to
// the rest of the system. The serverless wiring in cmd/actormesh-gateway
// adapts the dispatch kernel (RPC) and the server stream registry
// (observeX) to this shape.
type Dispatcher interface {
	// Dispatch processes one envelope arriving on connectionID. Replies
	// (ResponseEnvelope, StreamStart, ...) are sent out of band through
	// the connection broker's ConnectionSender, not returned here — a
	// $default invocation response is never carried in the Lambda
	// return value (§4.I).
	Dispatch(ctx context.Context, connectionID string, envelopeBytes []byte) error
}

// APIGatewayAdapter implements the serverless websocket adapter of
// §4.I: invoked once per API Gateway event, routed by routeKey. Unlike
// the other adapters it has no persistent Incoming channel or
// Listen/Dial loop — each invocation is synchronous: HandleEvent runs
// to completion and returns the value API Gateway relays to the client.
type APIGatewayAdapter struct {
	logger     *slog.Logger
	registrar  ConnectionRegistrar
	dispatcher Dispatcher
}

// NewAPIGatewayAdapter builds an APIGatewayAdapter. A nil logger falls
// back to slog.Default().
func NewAPIGatewayAdapter(logger *slog.Logger, registrar ConnectionRegistrar, dispatcher Dispatcher) *APIGatewayAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIGatewayAdapter{logger: logger, registrar: registrar, dispatcher: dispatcher}
}

// HandleEvent is the Lambda entry point's per-event call (§4.I,§6).
func (a *APIGatewayAdapter) HandleEvent(ctx context.Context, event GatewayEvent) (GatewayResponse, error) {
	connID := event.RequestContext.ConnectionID

	switch event.RequestContext.RouteKey {
	case "$connect":
		if err := a.registrar.Register(ctx, connID); err != nil {
			return GatewayResponse{}, fmt.Errorf("transport: apigateway: register %q: %w", connID, err)
		}
		return GatewayResponse{StatusCode: 200}, nil

	case "$disconnect":
		if err := a.registrar.Unregister(ctx, connID); err != nil {
			return GatewayResponse{}, fmt.Errorf("transport: apigateway: unregister %q: %w", connID, err)
		}
		return GatewayResponse{StatusCode: 200}, nil

	case "$default":
		if err := a.dispatchDefault(ctx, connID, event.Body); err != nil {
			a.logger.Error("transport: apigateway: dispatch failed", "connection", connID, "error", err)
			return GatewayResponse{StatusCode: 500}, nil
		}
		return GatewayResponse{StatusCode: 200}, nil

	default:
		a.logger.Warn("transport: apigateway: unknown routeKey", "routeKey", event.RequestContext.RouteKey)
		return GatewayResponse{StatusCode: 400}, nil
	}
}

func (a *APIGatewayAdapter) dispatchDefault(ctx context.Context, connID, body string) error {
	if body == "" {
		return fmt.Errorf("transport: apigateway: $default event missing body")
	}
	// Body is carried as a JSON string inside the already-JSON event
	// envelope API Gateway delivers; validate it round-trips before
	// handing it to the dispatcher rather than passing raw text through.
	var probe json.RawMessage
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return fmt.Errorf("transport: apigateway: malformed body: %w", err)
	}
	return a.dispatcher.Dispatch(ctx, connID, []byte(body))
}
