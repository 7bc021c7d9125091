package service

import (
	"context"
	"fmt"
	"time"

	"modbus-formatter/internal/archive"
	"modbus-formatter/internal/db"
	"modbus-formatter/internal/model"
	"modbus-formatter/internal/realtime"
	"modbus-formatter/pkg/wsforward"
)

// Delivery is a batch that has been published to the output channel.
type Delivery struct {
	Sequence      uint64
	CorrelationID string
	ReceivedAt    time.Time
	Input         []model.RawRecord
	Output        model.TelemetryBatch
}

// Sink receives every published Delivery. Sink errors never block publishing.
type Sink interface {
	Name() string
	Handle(ctx context.Context, d Delivery) error
}

type dbSink struct {
	mgr *db.DBManager
}

// NewDBSink persists each device record into Postgres.
func NewDBSink(mgr *db.DBManager) Sink { return &dbSink{mgr: mgr} }

func (s *dbSink) Name() string { return "postgres" }

func (s *dbSink) Handle(ctx context.Context, d Delivery) error {
	return s.mgr.SaveBatch(ctx, db.BatchMeta{Sequence: d.Sequence, CorrelationID: d.CorrelationID}, d.Output)
}

type hubSink struct {
	hub *realtime.Hub
}

// NewHubSink pushes each device record to websocket subscribers of that device.
func NewHubSink(hub *realtime.Hub) Sink { return &hubSink{hub: hub} }

func (s *hubSink) Name() string { return "realtime" }

func (s *hubSink) Handle(_ context.Context, d Delivery) error {
	for _, t := range d.Output.DeviceData {
		msg, err := jsonStd.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", t.DeviceID, err)
		}
		s.hub.BroadcastTo(t.DeviceID, msg)
	}
	return nil
}

type archiveSink struct {
	archiver *archive.S3Archiver
}

// NewArchiveSink stores each input/output pair in S3.
func NewArchiveSink(a *archive.S3Archiver) Sink { return &archiveSink{archiver: a} }

func (s *archiveSink) Name() string { return "archive" }

func (s *archiveSink) Handle(ctx context.Context, d Delivery) error {
	return s.archiver.Archive(ctx, model.ArchiveEntry{
		Sequence:      d.Sequence,
		CorrelationID: d.CorrelationID,
		ReceivedAt:    d.ReceivedAt.UTC().Format(time.RFC3339Nano),
		Input:         d.Input,
		Output:        d.Output,
	}, d.ReceivedAt)
}

type forwardSink struct {
	client *wsforward.Client
}

// NewForwardSink writes each batch to the upstream websocket.
func NewForwardSink(c *wsforward.Client) Sink { return &forwardSink{client: c} }

func (s *forwardSink) Name() string { return "forward" }

func (s *forwardSink) Handle(ctx context.Context, d Delivery) error {
	return s.client.Send(ctx, d.Output)
}
