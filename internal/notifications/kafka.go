package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the Kafka notification sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSender publishes notifications as JSON records for a downstream delivery service.
// Records are keyed by recipient so one person's notifications stay ordered.
type KafkaSender struct {
	client producer
	topic  string
}

// NewKafkaSender connects a franz-go producer.
func NewKafkaSender(cfg KafkaConfig) (*KafkaSender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("notifications: kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("notifications: kafka topic is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("notifications: kafka client: %w", err)
	}
	return &KafkaSender{client: client, topic: topic}, nil
}

// Send publishes msg and waits for the broker acknowledgement.
func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifications: encode: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(strings.ToLower(msg.To)),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "template", Value: []byte(msg.Template)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("notifications: produce: %w", err)
	}
	return nil
}

// Close flushes and releases the producer.
func (s *KafkaSender) Close() {
	s.client.Close()
}
