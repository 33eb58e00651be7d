package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	headerEventType = "event-type"
	headerEventID   = "event-id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer relays outbox events to the order events topic, keyed by order id
// so that the events of one order stay in one partition.
type Producer struct {
	w messageWriter
}

func NewProducer(brokersSTR, topic string) *Producer {
	brokers := strings.Split(brokersSTR, ",")

	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Producer) Close() error {
	return p.w.Close()
}

func (p *Producer) PublishEvent(ctx context.Context, e domain.OutboxEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AggregateID.String()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: headerEventType, Value: []byte(e.Type)},
			{Key: headerEventID, Value: []byte(e.ID.String())},
		},
	})
}
