package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"messenger/internal/app/messaging"
	"messenger/internal/domain/chat"
)

// eventEnvelope is the wire format on the events topic: the chat event
// plus the participant set the consumer node fans it out to.
type eventEnvelope struct {
	Participants []string   `json:"participants"`
	Event        chat.Event `json:"event"`
}

type Producer struct {
	sync  sarama.SyncProducer
	topic string
}

// NewProducer builds an idempotent sync producer for the chat events
// topic. Events are keyed by conversation so every consumer sees a
// conversation's events in publish order.
func NewProducer(brokers []string, topic string, cfg *sarama.Config) (*Producer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{sync: sync, topic: topic}, nil
}

// Publish implements messaging.Broadcaster.
func (p *Producer) Publish(ctx context.Context, participants []string, ev chat.Event) error {
	payload, err := json.Marshal(eventEnvelope{Participants: participants, Event: ev})
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ConversationID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	}
	_, _, err = p.sync.SendMessage(msg)
	return err
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}

var _ messaging.Broadcaster = (*Producer)(nil)
