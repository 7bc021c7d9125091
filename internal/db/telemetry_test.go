package db

import (
	"math"
	"strings"
	"testing"

	"modbus-formatter/internal/model"
)

func TestParseTableName(t *testing.T) {
	id, err := ParseTableName("telemetry.device_telemetry")
	if err != nil {
		t.Fatalf("ParseTableName: %v", err)
	}
	if got := id.Sanitize(); got != `"telemetry"."device_telemetry"` {
		t.Errorf("Sanitize = %s", got)
	}

	for _, bad := range []string{"", "a.b.c", "telemetry;drop table x", "1table", "schema."} {
		if _, err := ParseTableName(bad); err == nil {
			t.Errorf("ParseTableName(%q) accepted", bad)
		}
	}
}

func TestInsertSQLPlaceholders(t *testing.T) {
	id, _ := ParseTableName("device_telemetry")
	q := insertSQL(id)

	if !strings.HasPrefix(q, `INSERT INTO "device_telemetry" (device_id, sequence, correlation_id, amps_avg`) {
		t.Errorf("unexpected query %s", q)
	}
	if !strings.Contains(q, "$15,NOW()") {
		t.Errorf("expected 15 placeholders: %s", q)
	}
}

func TestCreateTableSQL(t *testing.T) {
	id, _ := ParseTableName("telemetry.device_telemetry")
	q := createTableSQL(id)
	for _, c := range readingColumns {
		if !strings.Contains(q, c+" REAL") {
			t.Errorf("missing column %s", c)
		}
	}
}

func TestRowArgs(t *testing.T) {
	tel := model.DeviceTelemetry{
		DeviceID: "meter-1",
		AmpsL1:   2.5,
		KwSystem: model.Reading(math.Inf(1)),
	}

	args, err := rowArgs(BatchMeta{Sequence: 7, CorrelationID: "c-1"}, tel)
	if err != nil {
		t.Fatalf("rowArgs: %v", err)
	}
	if len(args) != 3+len(readingColumns)+1 {
		t.Fatalf("got %d args", len(args))
	}
	if args[0] != "meter-1" || args[1] != int64(7) || args[2] != "c-1" {
		t.Errorf("meta args = %v", args[:3])
	}
	if args[4] != float32(2.5) {
		t.Errorf("amps_l1 = %v", args[4])
	}
	readings := args[len(args)-1].(string)
	if !strings.Contains(readings, `"kwSystem":null`) || !strings.Contains(readings, `"ampsL1":2.5`) {
		t.Errorf("readings = %s", readings)
	}
}
