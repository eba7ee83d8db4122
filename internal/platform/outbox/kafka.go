package outbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every event to one topic keyed by aggregate.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink builds a producer for a comma-separated broker list.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if topic == "" {
		topic = "careflow.events"
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w, topic: topic}, nil
}

func (k *KafkaSink) Name() string { return "kafka:" + k.topic }

func (k *KafkaSink) Publish(ctx context.Context, e *Event) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: e.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID.String())},
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_type", Value: []byte(e.AggregateType)},
		},
		Time: e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.writer.Close() }
