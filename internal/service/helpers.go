package service

import (
	"context"
	"errors"

	"modbus-formatter/internal/formatter"
	"modbus-formatter/internal/model"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
)

const (
	headerCorrelationID = "correlation-id"
	headerSequence      = "sequence"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

type ProcessJob struct {
	Ctx    context.Context
	Msg    kafka.Message
	Reader MessageReader
}

// Worker loop
func (s *KafkaService) processWorker(jobs <-chan ProcessJob) {
	s.activeProcessWorkers.Add(1)
	defer s.activeProcessWorkers.Add(-1)

	for job := range jobs {
		s.handleJob(job)
	}
}

func (s *KafkaService) handleJob(job ProcessJob) {
	err := s.ProcessMessage(job.Ctx, job.Msg)
	switch {
	case err == nil:
	case isRejected(err):
		// a retry would fail the same way, so the message is consumed
		s.Logger.Errorw("message rejected", "error", err,
			"partition", job.Msg.Partition, "offset", job.Msg.Offset)
	default:
		// shutting down mid-publish, leave uncommitted for redelivery
		s.Logger.Warnw("message not processed", "error", err, "offset", job.Msg.Offset)
		return
	}

	if err := job.Reader.CommitMessages(job.Ctx, job.Msg); err != nil {
		s.Logger.Errorw("failed to commit message", "error", err, "offset", job.Msg.Offset)
	}
}

func isRejected(err error) bool {
	return errors.Is(err, model.ErrInvalidEnvelope) || errors.Is(err, formatter.ErrMalformedValue)
}

// correlationIDOf reuses an inbound correlation id header or mints one
func correlationIDOf(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == headerCorrelationID && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return uuid.NewString()
}
