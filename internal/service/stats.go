package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProcessStats keeps track of processed messages and side-effect outcomes
type ProcessStats struct {
	sync.Mutex
	Messages      int
	Records       int
	Devices       int
	Rejected      int
	PublishErrors int
	SinkOK        map[string]int
	SinkFailed    map[string]int
}

func NewProcessStats() *ProcessStats {
	return &ProcessStats{
		SinkOK:     make(map[string]int),
		SinkFailed: make(map[string]int),
	}
}

// StartReporter logs a summary every interval until ctx is done
func (s *ProcessStats) StartReporter(ctx context.Context, interval time.Duration, logger *zap.SugaredLogger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := s.Snapshot()
				logger.Infow("processing summary",
					"messages", snap.Messages,
					"records", snap.Records,
					"devices", snap.Devices,
					"rejected", snap.Rejected,
					"publish_errors", snap.PublishErrors,
					"sink_ok", snap.SinkOK,
					"sink_failed", snap.SinkFailed,
				)
			}
		}
	}()
}

// IncrementProcessed counts one published message
func (s *ProcessStats) IncrementProcessed(records, devices int) {
	s.Lock()
	s.Messages++
	s.Records += records
	s.Devices += devices
	s.Unlock()
}

// IncrementRejected counts a message whose body could not be transformed
func (s *ProcessStats) IncrementRejected() {
	s.Lock()
	s.Rejected++
	s.Unlock()
}

// IncrementPublishError counts a failed publish attempt
func (s *ProcessStats) IncrementPublishError() {
	s.Lock()
	s.PublishErrors++
	s.Unlock()
}

// RecordSink counts a sink outcome
func (s *ProcessStats) RecordSink(name string, err error) {
	s.Lock()
	if err != nil {
		s.SinkFailed[name]++
	} else {
		s.SinkOK[name]++
	}
	s.Unlock()
}

// StatsSnapshot is a copy of the counters, safe to marshal
type StatsSnapshot struct {
	Messages      int            `json:"messages"`
	Records       int            `json:"records"`
	Devices       int            `json:"devices"`
	Rejected      int            `json:"rejected"`
	PublishErrors int            `json:"publish_errors"`
	SinkOK        map[string]int `json:"sink_ok"`
	SinkFailed    map[string]int `json:"sink_failed"`
}

func (s *ProcessStats) Snapshot() StatsSnapshot {
	s.Lock()
	defer s.Unlock()

	snap := StatsSnapshot{
		Messages:      s.Messages,
		Records:       s.Records,
		Devices:       s.Devices,
		Rejected:      s.Rejected,
		PublishErrors: s.PublishErrors,
		SinkOK:        make(map[string]int, len(s.SinkOK)),
		SinkFailed:    make(map[string]int, len(s.SinkFailed)),
	}
	for k, v := range s.SinkOK {
		snap.SinkOK[k] = v
	}
	for k, v := range s.SinkFailed {
		snap.SinkFailed[k] = v
	}
	return snap
}
