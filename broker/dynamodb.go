package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoSubscription is the DynamoDB row shape for one connection's
// subscription, with actor_id as a GSI partition key backing
// GetConnections (§4.K "secondary index on actorID").
type dynamoSubscription struct {
	ConnectionID string `dynamodbav:"connection_id"`
	ActorID      string `dynamodbav:"actor_id"`
	StreamID     string `dynamodbav:"stream_id"`
	LastSequence uint64 `dynamodbav:"last_sequence"`
	ConnectedAt  int64  `dynamodbav:"connected_at"` // unix seconds
	ExpiresAt    int64  `dynamodbav:"expires_at"`   // unix seconds; DynamoDB TTL attribute
}

// DynamoDBStorage is a Storage backed by a DynamoDB table with primary
// key connection_id and a global secondary index "actor-index" on
// actor_id, TTL enabled on expires_at (§4.K, §6).
type DynamoDBStorage struct {
	client      *dynamodb.Client
	tableName   string
	actorIndex  string
	defaultTTL  time.Duration
}

// NewDynamoDBStorage wraps an already-configured dynamodb.Client.
// actorIndexName is the GSI name (e.g. "actor-index"); defaultTTL sets
// the TTL written on Register/Subscribe when a subscription carries no
// explicit TTL of its own.
func NewDynamoDBStorage(client *dynamodb.Client, tableName, actorIndexName string, defaultTTL time.Duration) *DynamoDBStorage {
	return &DynamoDBStorage{client: client, tableName: tableName, actorIndex: actorIndexName, defaultTTL: defaultTTL}
}

func (d *DynamoDBStorage) Register(ctx context.Context, connectionID string, actorID *string) error {
	sub := dynamoSubscription{
		ConnectionID: connectionID,
		ConnectedAt:  time.Now().Unix(),
		ExpiresAt:    time.Now().Add(d.defaultTTL).Unix(),
	}
	if actorID != nil {
		sub.ActorID = *actorID
	}
	return d.put(ctx, sub)
}

func (d *DynamoDBStorage) Subscribe(ctx context.Context, connectionID, streamID, actorID string) error {
	existing, err := d.get(ctx, connectionID)
	if err != nil && !errors.Is(err, errDynamoNotFound) {
		return fmt.Errorf("broker: dynamodb: subscribe %q: %w", connectionID, err)
	}
	connectedAt := time.Now().Unix()
	if existing != nil {
		connectedAt = existing.ConnectedAt
	}
	return d.put(ctx, dynamoSubscription{
		ConnectionID: connectionID,
		ActorID:      actorID,
		StreamID:     streamID,
		ConnectedAt:  connectedAt,
		ExpiresAt:    time.Now().Add(d.defaultTTL).Unix(),
	})
}

func (d *DynamoDBStorage) put(ctx context.Context, sub dynamoSubscription) error {
	item, err := attributevalue.MarshalMap(sub)
	if err != nil {
		return fmt.Errorf("broker: dynamodb: marshal %q: %w", sub.ConnectionID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.tableName), Item: item})
	if err != nil {
		return fmt.Errorf("broker: dynamodb: put %q: %w", sub.ConnectionID, err)
	}
	return nil
}

var errDynamoNotFound = errors.New("broker: dynamodb: connection not found")

func (d *DynamoDBStorage) get(ctx context.Context, connectionID string) (*dynamoSubscription, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"connection_id": &types.AttributeValueMemberS{Value: connectionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("broker: dynamodb: get %q: %w", connectionID, err)
	}
	if out.Item == nil {
		return nil, errDynamoNotFound
	}
	var sub dynamoSubscription
	if err := attributevalue.UnmarshalMap(out.Item, &sub); err != nil {
		return nil, fmt.Errorf("broker: dynamodb: unmarshal %q: %w", connectionID, err)
	}
	return &sub, nil
}

func (d *DynamoDBStorage) Unregister(ctx context.Context, connectionID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"connection_id": &types.AttributeValueMemberS{Value: connectionID},
		},
	})
	if err != nil {
		return fmt.Errorf("broker: dynamodb: delete %q: %w", connectionID, err)
	}
	return nil
}

func (d *DynamoDBStorage) UpdateSequence(ctx context.Context, connectionID string, lastSeq uint64) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"connection_id": &types.AttributeValueMemberS{Value: connectionID},
		},
		UpdateExpression: aws.String("SET last_sequence = :seq"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seq": &types.AttributeValueMemberN{Value: fmt.Sprint(lastSeq)},
		},
	})
	if err != nil {
		return fmt.Errorf("broker: dynamodb: updateSequence %q: %w", connectionID, err)
	}
	return nil
}

func (d *DynamoDBStorage) GetConnections(ctx context.Context, actorID string) ([]Subscription, error) {
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(d.actorIndex),
		KeyConditionExpression: aws.String("actor_id = :actorID"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":actorID": &types.AttributeValueMemberS{Value: actorID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("broker: dynamodb: query actor-index %q: %w", actorID, err)
	}

	subs := make([]Subscription, 0, len(out.Items))
	for _, item := range out.Items {
		var row dynamoSubscription
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, fmt.Errorf("broker: dynamodb: unmarshal query result for %q: %w", actorID, err)
		}
		subs = append(subs, Subscription{
			ConnectionID: row.ConnectionID,
			ActorID:      row.ActorID,
			StreamID:     row.StreamID,
			LastSequence: row.LastSequence,
			ConnectedAt:  time.Unix(row.ConnectedAt, 0),
			TTL:          time.Unix(row.ExpiresAt, 0).Sub(time.Unix(row.ConnectedAt, 0)),
		})
	}
	return subs, nil
}
