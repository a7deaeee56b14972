package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink ships audit events to a topic for the reporting side.
// Messages are keyed by symbol so per-instrument order is kept within a partition.
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaSink creates an asynchronous writer for brokers/topic.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink: empty topic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit.kafka")
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaSink{writer: w, timeout: time.Second, logger: logger}, nil
}

// Message encodes e the way it is published.
func Message(e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode audit event %d: %w", e.Seq, err)
	}
	key := e.Symbol
	if key == "" {
		key = string(e.Kind)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}, nil
}

func (k *KafkaSink) Write(e Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, msg)
}

// Close flushes pending messages.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
