package db

import (
	"context"
	"fmt"

	"modbus-formatter/internal/model"

	"github.com/jackc/pgx/v5"
)

// BatchMeta identifies the inbound message a batch was decoded from.
type BatchMeta struct {
	Sequence      uint64
	CorrelationID string
}

var readingColumns = []string{
	"amps_avg", "amps_l1", "amps_l2", "amps_l3",
	"kw_l1", "kw_l2", "kw_l3", "kw_system",
	"volts_l1_to_neutral", "volts_l2_to_neutral", "volts_l3_to_neutral",
}

// EnsureSchema creates the telemetry table (and its schema) if missing.
func (d *DBManager) EnsureSchema(ctx context.Context) error {
	pool := d.Pool()

	if len(d.table) == 2 {
		schema := pgx.Identifier{d.table[0]}.Sanitize()
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
			return fmt.Errorf("ensure schema %s: %w", schema, err)
		}
	}

	if _, err := pool.Exec(ctx, createTableSQL(d.table)); err != nil {
		return fmt.Errorf("ensure table %s: %w", d.table.Sanitize(), err)
	}
	return nil
}

// SaveBatch inserts one row per device in a single round trip.
func (d *DBManager) SaveBatch(ctx context.Context, meta BatchMeta, batch model.TelemetryBatch) error {
	if len(batch.DeviceData) == 0 {
		return nil
	}

	query := insertSQL(d.table)
	b := &pgx.Batch{}
	for _, t := range batch.DeviceData {
		args, err := rowArgs(meta, t)
		if err != nil {
			return err
		}
		b.Queue(query, args...)
	}

	br := d.Pool().SendBatch(ctx, b)
	defer br.Close()

	for range batch.DeviceData {
		if _, err := br.Exec(); err != nil {
			d.logger.Errorw("failed to insert device telemetry", "error", err, "sequence", meta.Sequence)
			return fmt.Errorf("insert device telemetry: %w", err)
		}
	}
	return nil
}

func createTableSQL(table pgx.Identifier) string {
	cols := ""
	for _, c := range readingColumns {
		cols += fmt.Sprintf("\t\t\t%s REAL,\n", c)
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			correlation_id TEXT NOT NULL,
%s			readings JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, table.Sanitize(), cols)
}

func insertSQL(table pgx.Identifier) string {
	cols := "device_id, sequence, correlation_id"
	vals := "$1,$2,$3"
	n := 4
	for _, c := range readingColumns {
		cols += ", " + c
		vals += fmt.Sprintf(",$%d", n)
		n++
	}
	cols += ", readings, created_at"
	vals += fmt.Sprintf(",$%d,NOW()", n)
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table.Sanitize(), cols, vals)
}

func rowArgs(meta BatchMeta, t model.DeviceTelemetry) ([]any, error) {
	// Use validated JSON marshaling, NaN/Inf become null
	readingsJSON, err := model.ValidateJSON(t.Readings())
	if err != nil {
		return nil, fmt.Errorf("marshal readings for %s: %w", t.DeviceID, err)
	}

	args := []any{t.DeviceID, int64(meta.Sequence), meta.CorrelationID}
	for _, r := range []model.Reading{
		t.AmpsAvg, t.AmpsL1, t.AmpsL2, t.AmpsL3,
		t.KwL1, t.KwL2, t.KwL3, t.KwSystem,
		t.VoltsL1toNeutral, t.VoltsL2toNeutral, t.VoltsL3toNeutral,
	} {
		args = append(args, float32(r))
	}
	return append(args, string(readingsJSON)), nil
}
