// Package events publishes incident lifecycle events for downstream
// consumers. Publishing is best effort; the detection loop never waits on
// a retry.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/showgayaki/camenashi-kun/internal/logging"
	"github.com/showgayaki/camenashi-kun/internal/pipeline"
)

type Type string

const (
	Confirmed   Type = "confirmed"
	Finalized   Type = "finalized"
	Discarded   Type = "discarded"
	BlackScreen Type = "black_screen"
	PingError   Type = "ping_error"
)

type Event struct {
	IncidentID string           `json:"incident_id"`
	Type       Type             `json:"type"`
	Label      string           `json:"label,omitempty"`
	At         time.Time        `json:"at"`
	Report     *pipeline.Report `json:"report,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// KafkaPublisher writes events as JSON keyed by incident id, so one
// incident's events land on one partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewKafka(brokers []string, topic, clientID string, logger *slog.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 0
	config.Producer.Timeout = 5 * time.Second
	config.Net.DialTimeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafka(producer, topic, logger), nil
}

func newKafka(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "events"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.IncidentID),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	p.logger.Debug("event published", "type", ev.Type, "incident_id", ev.IncidentID,
		"partition", partition, "offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}
