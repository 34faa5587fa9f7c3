package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"

	"artifact-ingest/config"
)

// EventProducer ships normalized events to Kafka, keyed by hostname so one
// host's events stay on one partition.
type EventProducer interface {
	Name() string
	Send(ctx context.Context, kind string, events []json.RawMessage) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaEventProducer struct {
	writer messageWriter
	topic  string
}

// NewKafkaEventProducer returns a nil producer when no brokers are set.
func NewKafkaEventProducer(lc fx.Lifecycle, cfg *config.Config) (EventProducer, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.EventTopic == "" {
		log.Debug().Msg("Kafka brokers or event topic not configured, Kafka sink disabled.")
		return nil, nil
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.EventTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.Upload.BatchSize,
		BatchTimeout: batchTimeout(cfg.Upload.MaxBatchWait),
		RequiredAcks: int(kafka.RequireAll),
	})
	p := newProducer(writer, cfg.Kafka.EventTopic)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Closing Kafka producer")
			return p.Close()
		},
	})
	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventTopic).Msg("Kafka producer initialized")
	return p, nil
}

func newProducer(writer messageWriter, topic string) *kafkaEventProducer {
	return &kafkaEventProducer{writer: writer, topic: topic}
}

func batchTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

func (p *kafkaEventProducer) Name() string {
	return "kafka"
}

func (p *kafkaEventProducer) Send(ctx context.Context, kind string, events []json.RawMessage) error {
	if len(events) == 0 {
		return nil
	}
	messages := buildMessages(kind, events)

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		log.Error().Err(err).Int("message_count", len(messages)).Msg("Failed to write messages to Kafka")
		return err
	}
	log.Debug().Int("message_count", len(messages)).Str("topic", p.topic).Msg("Successfully produced messages to Kafka")
	return nil
}

func buildMessages(kind string, events []json.RawMessage) []kafka.Message {
	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		messages[i] = kafka.Message{
			Key:   []byte(gjson.GetBytes(event, "principal.hostname").String()),
			Value: event,
			Headers: []kafka.Header{
				{Key: "artifact_kind", Value: []byte(kind)},
				{Key: "event_type", Value: []byte(gjson.GetBytes(event, "metadata.event_type").String())},
			},
		}
	}
	return messages
}

func (p *kafkaEventProducer) Close() error {
	return p.writer.Close()
}
