package tailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// kafkaMessageBody mirrors the other sources' wire shape.
type kafkaMessageBody struct {
	ActorID   string `json:"actorId"`
	State     []byte `json:"state"`
	SourceSeq uint64 `json:"sourceSeq"`
	Op        string `json:"op"`
}

// KafkaSource is a Source backed by a Kafka topic via a sarama
// consumer group, for deployments whose persistent state KV publishes
// its change log to Kafka (§2 component L, DOMAIN STACK).
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topics []string
	logger *slog.Logger
}

// NewKafkaSource wraps an already-configured sarama.ConsumerGroup.
func NewKafkaSource(group sarama.ConsumerGroup, topics []string, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{group: group, topics: topics, logger: logger}
}

func (k *KafkaSource) Run(ctx context.Context, out chan<- ChangeEvent) error {
	defer close(out)
	handler := &kafkaConsumerHandler{source: k, out: out}

	for {
		if err := k.group.Consume(ctx, k.topics, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tailer: kafka: consume: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// kafkaConsumerHandler implements sarama.ConsumerGroupHandler, the
// callback shape sarama's rebalance-aware consume loop drives.
type kafkaConsumerHandler struct {
	source *KafkaSource
	out    chan<- ChangeEvent
}

func (h *kafkaConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaConsumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.deliver(sess, msg)
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (h *kafkaConsumerHandler) deliver(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	var body kafkaMessageBody
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		h.source.logger.Error("tailer: kafka: dropping malformed message", "error", err)
		sess.MarkMessage(msg, "")
		return
	}

	op := OpUpsert
	if body.Op == string(OpRemove) {
		op = OpRemove
	}

	select {
	case h.out <- ChangeEvent{ActorID: body.ActorID, State: body.State, SourceSeq: body.SourceSeq, Op: op}:
		sess.MarkMessage(msg, "")
	case <-sess.Context().Done():
	}
}
