package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/smithy-go"
)

// APIGatewaySender implements Sender atop the API Gateway Management
// API (§4.K "production implementation posts through the API-gateway
// management API"). A GoneException from PostToConnection means the
// client has disconnected without API Gateway's own $disconnect event
// having fired yet; Send translates that into ErrGone so Broker can
// unregister it.
type APIGatewaySender struct {
	client *apigatewaymanagementapi.Client
}

// NewAPIGatewaySender wraps an already-configured management-API
// client, typically built with apigatewaymanagementapi.NewFromConfig
// and a BaseEndpoint pointed at the deployed stage's management URL.
func NewAPIGatewaySender(client *apigatewaymanagementapi.Client) *APIGatewaySender {
	return &APIGatewaySender{client: client}
}

func (s *APIGatewaySender) Send(ctx context.Context, connectionID string, payload []byte) error {
	_, err := s.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         payload,
	})
	if err != nil {
		if isGone(err) {
			return ErrGone
		}
		return fmt.Errorf("broker: apigateway: post to %q: %w", connectionID, err)
	}
	return nil
}

func (s *APIGatewaySender) IsAlive(ctx context.Context, connectionID string) (bool, error) {
	_, err := s.client.GetConnection(ctx, &apigatewaymanagementapi.GetConnectionInput{
		ConnectionId: aws.String(connectionID),
	})
	if err != nil {
		if isGone(err) {
			return false, nil
		}
		return false, fmt.Errorf("broker: apigateway: getConnection %q: %w", connectionID, err)
	}
	return true, nil
}

func (s *APIGatewaySender) Disconnect(ctx context.Context, connectionID string) error {
	_, err := s.client.DeleteConnection(ctx, &apigatewaymanagementapi.DeleteConnectionInput{
		ConnectionId: aws.String(connectionID),
	})
	if err != nil && !isGone(err) {
		return fmt.Errorf("broker: apigateway: deleteConnection %q: %w", connectionID, err)
	}
	return nil
}

// isGone reports whether err is API Gateway's GoneException, or any
// HTTP-level response carrying the 410 status that marks a vanished
// connection.
func isGone(err error) bool {
	var goneErr *types.GoneException
	if errors.As(err, &goneErr) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusGone {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "GoneException"
}
