package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// dynamoItem is the DynamoDB row shape: one item per actorID, with seq
// as the optimistic-concurrency version and data carried as a binary
// attribute.
type dynamoItem struct {
	ActorID   string    `dynamodbav:"actor_id"`
	Data      []byte    `dynamodbav:"data"`
	Seq       uint64    `dynamodbav:"seq"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// DynamoDBStore is a Store backed by a single DynamoDB table keyed by
// actor_id, the durable production path for actor state that the
// in-memory Store only stands in for during tests.
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoDBStore wraps an already-configured dynamodb.Client.
func NewDynamoDBStore(client *dynamodb.Client, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

func (d *DynamoDBStore) Load(ctx context.Context, actorID string) (Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"actor_id": &types.AttributeValueMemberS{Value: actorID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, fmt.Errorf("kv: dynamodb: get %q: %w", actorID, err)
	}
	if out.Item == nil {
		return Record{}, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Record{}, fmt.Errorf("kv: dynamodb: unmarshal %q: %w", actorID, err)
	}
	return Record{Data: item.Data, Seq: item.Seq, UpdatedAt: item.UpdatedAt}, nil
}

func (d *DynamoDBStore) Save(ctx context.Context, actorID string, data []byte) (uint64, error) {
	current, err := d.SequenceNumber(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		current = 0
	} else if err != nil {
		return 0, err
	}
	return d.put(ctx, actorID, data, current, false)
}

func (d *DynamoDBStore) SaveIfVersion(ctx context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	return d.put(ctx, actorID, data, expected, true)
}

func (d *DynamoDBStore) put(ctx context.Context, actorID string, data []byte, expected uint64, conditional bool) (uint64, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		ActorID: actorID, Data: data, Seq: expected + 1, UpdatedAt: time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("kv: dynamodb: marshal %q: %w", actorID, err)
	}

	input := &dynamodb.PutItemInput{TableName: aws.String(d.tableName), Item: item}
	if conditional {
		if expected == 0 {
			input.ConditionExpression = aws.String("attribute_not_exists(actor_id) OR seq = :expected")
		} else {
			input.ConditionExpression = aws.String("seq = :expected")
		}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprint(expected)},
		}
	}

	_, err = d.client.PutItem(ctx, input)
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			actual, serr := d.SequenceNumber(ctx, actorID)
			if serr != nil && !errors.Is(serr, ErrNotFound) {
				return 0, fmt.Errorf("kv: dynamodb: read-after-conflict %q: %w", actorID, serr)
			}
			return 0, &VersionConflictError{ActorID: actorID, Expected: expected, Actual: actual}
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return 0, fmt.Errorf("kv: dynamodb: put %q: %s: %w", actorID, apiErr.ErrorCode(), err)
		}
		return 0, fmt.Errorf("kv: dynamodb: put %q: %w", actorID, err)
	}
	return expected + 1, nil
}

func (d *DynamoDBStore) Delete(ctx context.Context, actorID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"actor_id": &types.AttributeValueMemberS{Value: actorID},
		},
	})
	if err != nil {
		return fmt.Errorf("kv: dynamodb: delete %q: %w", actorID, err)
	}
	return nil
}

func (d *DynamoDBStore) SequenceNumber(ctx context.Context, actorID string) (uint64, error) {
	rec, err := d.Load(ctx, actorID)
	if err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

func (d *DynamoDBStore) Update(ctx context.Context, actorID string, fn Transform) (uint64, error) {
	return RetrySaveIfVersion(ctx, d, actorID, DefaultRetryPolicy(), fn)
}
