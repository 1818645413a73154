package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/GoCodeAlone/actormesh/actorid"
	"github.com/GoCodeAlone/actormesh/broker"
	"github.com/GoCodeAlone/actormesh/dispatch"
	"github.com/GoCodeAlone/actormesh/internal/demoactor"
	"github.com/GoCodeAlone/actormesh/kv"
	"github.com/GoCodeAlone/actormesh/lifecycle"
	"github.com/GoCodeAlone/actormesh/middleware"
	"github.com/GoCodeAlone/actormesh/stream"
	"github.com/GoCodeAlone/actormesh/tailer"
	"github.com/GoCodeAlone/actormesh/transport"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Environment variables read at cold start. There is deliberately no
// flag/YAML config layer; a Lambda's environment variables are its
// only configuration surface.
const (
	envSubscriptionTable  = "ACTORMESH_SUBSCRIPTION_TABLE"
	envActorIndexName     = "ACTORMESH_ACTOR_INDEX"
	envStateTable         = "ACTORMESH_STATE_TABLE"
	envManagementEndpoint = "ACTORMESH_MANAGEMENT_ENDPOINT"
	envChangeQueueURL     = "ACTORMESH_CHANGE_QUEUE_URL"
)

const defaultActorType = "Counter"

// app bundles the pieces the Lambda handler and the background tailer
// both need; it is built once per cold start and reused across warm
// invocations.
type app struct {
	gateway *Gateway
	tailer  *tailer.Tailer
}

func buildApp(ctx context.Context) (*app, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	ddb := dynamodb.NewFromConfig(cfg)
	store := kv.NewDynamoDBStore(ddb, envOr(envStateTable, "actormesh-state"))

	storage := broker.NewDynamoDBStorage(ddb, envOr(envSubscriptionTable, "actormesh-subscriptions"), envOr(envActorIndexName, "actor-index"), 24*time.Hour)

	mgmtClient := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		if endpoint := os.Getenv(envManagementEndpoint); endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})
	sender := broker.NewAPIGatewaySender(mgmtClient)
	br := broker.New(storage, sender, logger)

	registry := actorid.New()
	chain := middleware.NewChain(
		middleware.Validation(middleware.DefaultValidationConfig()),
		middleware.RateLimit(middleware.NewLocalLimiter(50, 100), middleware.PerPrincipalKey),
		middleware.Logging(logger, nil),
	)
	tr := lifecycle.NewTracker()
	kernel := dispatch.New(registry, chain, tr)

	streamBuffer := stream.NewBuffer(0, 0)
	streams := stream.NewServerRegistry(streamBuffer)

	counter := demoactor.NewCounterActor("counter-1", store)
	if err := registry.Expose(counter, "counter"); err != nil {
		return nil, err
	}

	gw := NewGateway(logger, registry, kernel, streams, br)

	var tl *tailer.Tailer
	if queueURL := os.Getenv(envChangeQueueURL); queueURL != "" {
		sqsClient := sqs.NewFromConfig(cfg)
		source := tailer.NewSQSSource(sqsClient, queueURL, logger)
		tl = tailer.New(source, br, logger)
	}

	return &app{gateway: gw, tailer: tl}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		log.Fatalf("actormesh-gateway: setup: %v", err)
	}

	if a.tailer != nil {
		go func() {
			if err := a.tailer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("actormesh-gateway: tailer stopped: %v", err)
			}
		}()
	}

	adapter := transport.NewAPIGatewayAdapter(nil, adapterRegistrar{a.gateway}, a.gateway)
	lambda.Start(adapter.HandleEvent)
}

// adapterRegistrar adapts *Gateway's broker to transport.ConnectionRegistrar
// without exposing the broker field itself.
type adapterRegistrar struct {
	gw *Gateway
}

func (r adapterRegistrar) Register(ctx context.Context, connectionID string) error {
	return r.gw.broker.Register(ctx, connectionID)
}

func (r adapterRegistrar) Unregister(ctx context.Context, connectionID string) error {
	return r.gw.broker.Unregister(ctx, connectionID)
}
