package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events to Kafka; the topic is set per message.
type KafkaSink struct {
	writer    *kafka.Writer
	principal string
}

// NewKafkaSink creates a Kafka sink for the given brokers.
func NewKafkaSink(brokers []string, principal string, writeTimeout time.Duration) *KafkaSink {
	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           writeTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			Transport:              &kafka.Transport{Dial: dialer.DialFunc},
		},
		principal: principal,
	}
}

// Name returns "kafka".
func (s *KafkaSink) Name() string { return BackendKafka }

// Write publishes one message keyed by session so a session's events stay
// on one partition.
func (s *KafkaSink) Write(ctx context.Context, topic, key string, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(s.principal)},
		},
	})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
