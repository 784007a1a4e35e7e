package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"messenger/internal/app/messaging"
)

// Consumer reads the chat events topic and hands each decoded event to
// the local fan-out (the WebSocket hub on this node). Every node joins
// with a distinct group ID so all of them see every event.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	sink   messaging.Broadcaster
	logger *slog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, cfg *sarama.Config, sink messaging.Broadcaster, logger *slog.Logger) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: group, topic: topic, sink: sink, logger: logger}, nil
}

// Run consumes until ctx is cancelled. Rebalances restart the claim
// loop; anything else is returned to the caller.
func (c *Consumer) Run(ctx context.Context) error {
	handler := consumerGroupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env eventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// malformed payloads are logged and skipped, never retried
		if c.logger != nil {
			c.logger.Warn("dropping malformed event", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		return nil
	}
	return c.sink.Publish(ctx, env.Participants, env.Event)
}

type consumerGroupHandler struct {
	consumer *Consumer
}

func (h consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := h.consumer.handle(sess.Context(), message); err != nil {
			continue
		}
		sess.MarkMessage(message, "")
	}
	return nil
}
