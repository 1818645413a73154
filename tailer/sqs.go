package tailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsMessageBody is the JSON body each change-event message carries,
// matching the shape a DynamoDB-stream-to-SQS forwarder (or any
// publisher sitting in front of the persistent state KV) would emit.
type sqsMessageBody struct {
	ActorID   string `json:"actorId"`
	State     []byte `json:"state"` // base64 via encoding/json's []byte support
	SourceSeq uint64 `json:"sourceSeq"`
	Op        string `json:"op"` // "upsert" | "remove"
}

// SQSSource is a Source backed by an SQS queue (§2 component L,
// DOMAIN STACK). It long-polls ReceiveMessage and deletes each message
// after it has been handed to the tailer, so redelivery on a crash is
// at-least-once — downstream the `changed` stream filter naturally
// absorbs a duplicate delivery of the same state.
type SQSSource struct {
	client   *sqs.Client
	queueURL string
	logger   *slog.Logger
}

// NewSQSSource wraps an already-configured sqs.Client.
func NewSQSSource(client *sqs.Client, queueURL string, logger *slog.Logger) *SQSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSSource{client: client, queueURL: queueURL, logger: logger}
}

func (s *SQSSource) Run(ctx context.Context, out chan<- ChangeEvent) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tailer: sqs: receive: %w", err)
		}

		for _, msg := range resp.Messages {
			if err := s.deliver(ctx, msg, out); err != nil {
				s.logger.Error("tailer: sqs: dropping malformed message", "error", err)
			}
			s.deleteLocked(ctx, msg)
		}
	}
}

func (s *SQSSource) deliver(ctx context.Context, msg types.Message, out chan<- ChangeEvent) error {
	if msg.Body == nil {
		return fmt.Errorf("sqs message has no body")
	}
	var body sqsMessageBody
	if err := json.Unmarshal([]byte(*msg.Body), &body); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	op := OpUpsert
	if body.Op == string(OpRemove) {
		op = OpRemove
	}

	select {
	case out <- ChangeEvent{ActorID: body.ActorID, State: body.State, SourceSeq: body.SourceSeq, Op: op}:
	case <-ctx.Done():
	}
	return nil
}

func (s *SQSSource) deleteLocked(ctx context.Context, msg types.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		s.logger.Warn("tailer: sqs: delete failed", "error", err)
	}
}
