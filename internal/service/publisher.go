package service

import (
	"context"
	"fmt"
	"time"

	"modbus-formatter/internal/config"

	"github.com/segmentio/kafka-go"
)

// OutboundMessage is one serialized TelemetryBatch ready for the output channel.
type OutboundMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher delivers formatted batches to the output channel.
type Publisher interface {
	Publish(ctx context.Context, msg OutboundMessage) error
	Close() error
}

// KafkaPublisher writes to the output topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg *config.Config) (*KafkaPublisher, error) {
	tlsCfg, err := cfg.CreateKafkaTLSConfig()
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaOutputTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	if tlsCfg != nil {
		w.Transport = &kafka.Transport{TLS: tlsCfg}
	}
	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg OutboundMessage) error {
	km := kafka.Message{Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
