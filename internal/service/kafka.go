package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"modbus-formatter/internal/config"
	"modbus-formatter/internal/formatter"
	"modbus-formatter/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 2 * time.Minute
)

// MessageReader is the part of *kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaService struct {
	Logger     *zap.SugaredLogger
	aggregator *formatter.Aggregator
	publisher  Publisher
	sinks      []Sink
	stats      *ProcessStats

	// sequence numbers inbound messages for logs and persisted rows
	sequence             atomic.Uint64
	workers              int
	activeProcessWorkers atomic.Int32
	consuming            atomic.Bool

	backoff    time.Duration
	maxBackoff time.Duration
}

func NewKafkaService(logger *zap.SugaredLogger, aggregator *formatter.Aggregator, publisher Publisher, stats *ProcessStats, workers int, sinks ...Sink) *KafkaService {
	if workers <= 0 {
		workers = 1
	}
	return &KafkaService{
		Logger:     logger,
		aggregator: aggregator,
		publisher:  publisher,
		sinks:      sinks,
		stats:      stats,
		workers:    workers,
		backoff:    initialBackoff,
		maxBackoff: maxBackoff,
	}
}

// NewKafkaReader builds the consumer-group reader for the input topic
func NewKafkaReader(cfg *config.Config) (*kafka.Reader, error) {
	tlsCfg, err := cfg.CreateKafkaTLSConfig()
	if err != nil {
		return nil, err
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.KafkaBrokers,
		Topic:             cfg.KafkaInputTopic,
		GroupID:           cfg.KafkaGroupID,
		StartOffset:       kafka.FirstOffset,
		ReadLagInterval:   -1,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			TLS:       tlsCfg,
		},
	}), nil
}

// ProcessMessage decodes one inbound message, publishes the formatted batch
// and hands it to the sinks. Rejected bodies return an error wrapping
// model.ErrInvalidEnvelope or formatter.ErrMalformedValue.
func (s *KafkaService) ProcessMessage(ctx context.Context, m kafka.Message) error {
	seq := s.sequence.Add(1)
	correlationID := correlationIDOf(m)
	receivedAt := m.Time
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	s.Logger.Debugw("received message",
		"sequence", seq, "correlation_id", correlationID,
		"partition", m.Partition, "offset", m.Offset, "bytes", len(m.Value))

	records, err := model.DecodeRecords(m.Value)
	if err != nil {
		s.stats.IncrementRejected()
		return fmt.Errorf("message %d: %w", seq, err)
	}

	batch, err := s.aggregator.Aggregate(records)
	if err != nil {
		s.stats.IncrementRejected()
		return fmt.Errorf("message %d: %w", seq, err)
	}

	encoded, err := model.EncodeBatch(batch)
	if err != nil {
		s.stats.IncrementRejected()
		return fmt.Errorf("message %d: encode batch: %w", seq, err)
	}

	out := OutboundMessage{
		Key:   []byte(correlationID),
		Value: encoded,
		Headers: map[string]string{
			headerCorrelationID: correlationID,
			headerSequence:      strconv.FormatUint(seq, 10),
		},
	}
	if err := s.publishWithRetry(ctx, out); err != nil {
		return err
	}

	s.stats.IncrementProcessed(len(records), len(batch.DeviceData))
	s.Logger.Infow("batch formatted",
		"sequence", seq, "correlation_id", correlationID,
		"records", len(records), "devices", len(batch.DeviceData))

	d := Delivery{
		Sequence:      seq,
		CorrelationID: correlationID,
		ReceivedAt:    receivedAt,
		Input:         records,
		Output:        batch,
	}
	for _, sink := range s.sinks {
		err := sink.Handle(ctx, d)
		s.stats.RecordSink(sink.Name(), err)
		if err != nil {
			s.Logger.Warnw("sink failed", "sink", sink.Name(), "sequence", seq, "error", err)
		}
	}
	return nil
}

// publishWithRetry keeps retrying until the batch is written or ctx ends
func (s *KafkaService) publishWithRetry(ctx context.Context, out OutboundMessage) error {
	backoff := s.backoff
	for {
		err := s.publisher.Publish(ctx, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.stats.IncrementPublishError()
		s.Logger.Warnw("publish failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// Internal consumer loop
func (s *KafkaService) consumeLoop(ctx context.Context, reader MessageReader, jobs chan<- ProcessJob) error {
	s.consuming.Store(true)
	defer s.consuming.Store(false)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.Logger.Info("consumer context canceled, stopping consumer loop")
				return nil
			}
			if errors.Is(err, io.EOF) {
				s.Logger.Debug("Kafka EOF reached, waiting for new messages...")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
				continue
			}
			return fmt.Errorf("error reading message: %w", err)
		}

		select {
		case jobs <- ProcessJob{Ctx: ctx, Msg: m, Reader: reader}:
		case <-ctx.Done():
			return nil
		}
	}
}

// StartConsumer runs the consumer with reconnect/backoff until ctx is done
func (s *KafkaService) StartConsumer(ctx context.Context, reader MessageReader) {
	if reader == nil {
		s.Logger.Warn("Kafka reader is nil. Consumer not started.")
		return
	}

	if kr, ok := reader.(*kafka.Reader); ok {
		cfg := kr.Config()
		s.Logger.Infow("starting Kafka consumer", "brokers", cfg.Brokers, "topic", cfg.Topic, "groupID", cfg.GroupID)
	}

	jobs := make(chan ProcessJob)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.processWorker(jobs)
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	backoff := s.backoff
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("Kafka consumer context canceled, stopping...")
			return
		default:
		}

		consumeErr := s.consumeLoop(ctx, reader, jobs)
		if consumeErr == nil {
			return
		}

		s.Logger.Warnw("Kafka consumer error, retrying", "error", consumeErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// IsAlive reports whether the consume loop is currently running
func (s *KafkaService) IsAlive() bool {
	return s.consuming.Load()
}

// Stats exposes the processing counters
func (s *KafkaService) Stats() *ProcessStats {
	return s.stats
}
