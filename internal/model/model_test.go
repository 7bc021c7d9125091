package model

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDecodeRecordsShapes(t *testing.T) {
	array := `[{"DisplayName":"Amps L1","HwId":"meter-1","Address":"40001","Value":"16256","SourceTimestamp":"2024-01-01T00:00:00Z"}]`
	body := `{"body":` + array + `}`
	wrapped, _ := json.Marshal(KafkaWrapper{Payload: body})

	tests := map[string]string{
		"bare array":      array,
		"body envelope":   body,
		"payload wrapper": string(wrapped),
	}

	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			records, err := DecodeRecords([]byte(in))
			if err != nil {
				t.Fatalf("DecodeRecords: %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("got %d records", len(records))
			}
			r := records[0]
			if r.DeviceID != "meter-1" || r.DisplayName != "Amps L1" || r.Value != "16256" || r.Address != "40001" {
				t.Errorf("unexpected record %+v", r)
			}
		})
	}
}

func TestDecodeRecordsCamelCaseAndNumericValue(t *testing.T) {
	in := `[{"displayName":"kW L1","deviceId":"m-2","address":40002,"value":17254}]`

	records, err := DecodeRecords([]byte(in))
	if err != nil {
		t.Fatalf("DecodeRecords: %v", err)
	}
	if records[0].Value != "17254" || records[0].Address != "40002" || records[0].DeviceID != "m-2" {
		t.Errorf("unexpected record %+v", records[0])
	}
}

func TestDecodeRecordsInvalid(t *testing.T) {
	for _, in := range []string{"", "42", `{"foo":1}`, `{"payload":""}`, `{"payload":"{\"payload\":\"[]\"}"}`, `[1,2`} {
		if _, err := DecodeRecords([]byte(in)); !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("DecodeRecords(%q) err = %v, want ErrInvalidEnvelope", in, err)
		}
	}
}

func TestEncodeBatch(t *testing.T) {
	batch := TelemetryBatch{DeviceData: []DeviceTelemetry{{
		DeviceID: "meter-1",
		AmpsL1:   1.5,
		KwL1:     Reading(math.Float32frombits(0x7FC00000)),
	}}}

	out, err := EncodeBatch(batch)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	s := string(out)
	for _, want := range []string{`"deviceData":[`, `"deviceId":"meter-1"`, `"ampsL1":1.5`, `"kwL1":null`, `"ampsAvg":0`} {
		if !strings.Contains(s, want) {
			t.Errorf("output %s missing %s", s, want)
		}
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	out, err := EncodeBatch(TelemetryBatch{})
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if string(out) != `{"deviceData":[]}` {
		t.Errorf("got %s", out)
	}
}

func TestValidateJSONNullsNonFinite(t *testing.T) {
	out, err := ValidateJSON(map[string]any{
		"ok":     1.25,
		"nan":    math.NaN(),
		"nested": []any{math.Inf(1), map[string]any{"f32": float32(math.Inf(-1))}},
	})
	if err != nil {
		t.Fatalf("ValidateJSON: %v", err)
	}
	if string(out) != `{"nan":null,"nested":[null,{"f32":null}],"ok":1.25}` {
		t.Errorf("got %s", out)
	}
}
