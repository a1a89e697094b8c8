package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

func InitProducer(brokers []string, log logger.Logger) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer initialized", "brokers", brokers)
	return producer, nil
}

// EventPublisher writes auction events to a topic keyed by auction id, so
// events for one auction stay ordered within a partition.
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      logger.Logger
}

func NewEventPublisher(producer sarama.SyncProducer, topic string, log logger.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic, log: log}
}

func (p *EventPublisher) Publish(ctx context.Context, event *domain.AuctionEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	carrier := make(saramaHeaderCarrier, 0, 2)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(event.AuctionID),
		Value:   sarama.ByteEncoder(eventJSON),
		Headers: []sarama.RecordHeader(carrier),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send %s event: %w", event.Type, err)
	}

	p.log.Debug("Event published",
		"topic", p.topic,
		"type", event.Type,
		"auction_id", event.AuctionID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *EventPublisher) Close() error {
	return p.producer.Close()
}

// saramaHeaderCarrier adapts Kafka headers to propagation.TextMapCarrier.
type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
