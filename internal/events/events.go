package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher sends finished cycle reports to a Kafka topic.
type Publisher struct {
	client  producer
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaClient creates a producer client for brokers.
func NewKafkaClient(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return client, nil
}

func NewPublisher(client producer, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		topic:   topic,
		timeout: 10 * time.Second,
		logger:  logger.With(zap.String("component", "events"), zap.String("topic", topic)),
	}
}

// PublishCycle produces report as JSON keyed by the cycle id.
func (p *Publisher) PublishCycle(ctx context.Context, report weather.CycleReport) error {
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding cycle report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(report.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "trigger", Value: []byte(report.Trigger)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publishing cycle %s: %w", report.ID, err)
	}

	p.logger.Debug("cycle report published", zap.String("cycle_id", report.ID))
	return nil
}
