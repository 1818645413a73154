package tailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// natsMessageBody mirrors sqsMessageBody's wire shape; the tailer
// sources share one JSON contract for change events regardless of
// transport.
type natsMessageBody struct {
	ActorID   string `json:"actorId"`
	State     []byte `json:"state"`
	SourceSeq uint64 `json:"sourceSeq"`
	Op        string `json:"op"`
}

// NATSSource is a Source backed by a NATS JetStream consumer, for
// deployments that already run NATS for messaging and want the same
// broker for state-change fan-out (§2 component L, DOMAIN STACK).
type NATSSource struct {
	consumer jetstream.Consumer
	logger   *slog.Logger
}

// NewNATSSource wraps an already-bound JetStream consumer (durable or
// ephemeral) on the change-event stream.
func NewNATSSource(consumer jetstream.Consumer, logger *slog.Logger) *NATSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSource{consumer: consumer, logger: logger}
}

func (n *NATSSource) Run(ctx context.Context, out chan<- ChangeEvent) error {
	defer close(out)

	iter, err := n.consumer.Messages()
	if err != nil {
		return fmt.Errorf("tailer: nats: open message iterator: %w", err)
	}
	defer iter.Stop()

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == jetstream.ErrMsgIteratorClosed {
				return nil
			}
			return fmt.Errorf("tailer: nats: next: %w", err)
		}

		var body natsMessageBody
		if err := json.Unmarshal(msg.Data(), &body); err != nil {
			n.logger.Error("tailer: nats: dropping malformed message", "error", err)
			_ = msg.Ack()
			continue
		}

		op := OpUpsert
		if body.Op == string(OpRemove) {
			op = OpRemove
		}

		select {
		case out <- ChangeEvent{ActorID: body.ActorID, State: body.State, SourceSeq: body.SourceSeq, Op: op}:
			_ = msg.Ack()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
