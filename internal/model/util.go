package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ErrInvalidEnvelope is returned when a message body is none of the accepted shapes.
var ErrInvalidEnvelope = errors.New("invalid envelope")

var jsonFast = jsoniter.ConfigFastest

// FlexString accepts both JSON strings and JSON numbers and keeps the text.
type FlexString string

// UnmarshalJSON allows FlexString to accept both string and number in JSON
func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return fmt.Errorf("FlexString: cannot unmarshal %s", string(b))
		}
		*s = FlexString(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("FlexString: cannot unmarshal %s", string(b))
	}
	*s = FlexString(num.String())
	return nil
}

// UnmarshalJSON accepts the poller's HwId key as an alias of deviceId.
func (r *RawRecord) UnmarshalJSON(b []byte) error {
	var raw struct {
		DisplayName     string     `json:"displayName"`
		DeviceID        string     `json:"deviceId"`
		HwID            string     `json:"hwId"`
		Address         FlexString `json:"address"`
		Value           FlexString `json:"value"`
		SourceTimestamp string     `json:"sourceTimestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	r.DisplayName = raw.DisplayName
	r.DeviceID = raw.DeviceID
	if r.DeviceID == "" {
		r.DeviceID = raw.HwID
	}
	r.Address = string(raw.Address)
	r.Value = raw.Value
	r.SourceTimestamp = raw.SourceTimestamp
	return nil
}

// DecodeRecords unwraps a message body into its register records.
// Accepted shapes: a bare array, {"body": [...]}, or {"payload": "<json>"}
// whose payload is one of the former.
func DecodeRecords(data []byte) ([]RawRecord, error) {
	return decodeRecords(data, true)
}

func decodeRecords(data []byte, allowWrapper bool) ([]RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidEnvelope)
	}

	switch data[0] {
	case '[':
		var records []RawRecord
		if err := jsonFast.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return records, nil

	case '{':
		var probe map[string]jsoniter.RawMessage
		if err := jsonFast.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}

		if body, ok := lookupKey(probe, "body"); ok {
			return decodeRecords(body, false)
		}

		if _, ok := lookupKey(probe, "payload"); ok && allowWrapper {
			var wrapper KafkaWrapper
			if err := jsonFast.Unmarshal(data, &wrapper); err != nil {
				return nil, fmt.Errorf("%w: payload is not a string: %v", ErrInvalidEnvelope, err)
			}
			if wrapper.Payload == "" {
				return nil, fmt.Errorf("%w: empty payload", ErrInvalidEnvelope)
			}
			return decodeRecords([]byte(wrapper.Payload), false)
		}

		return nil, fmt.Errorf("%w: object without body or payload", ErrInvalidEnvelope)
	}

	return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrInvalidEnvelope, data[0])
}

func lookupKey(m map[string]jsoniter.RawMessage, key string) ([]byte, bool) {
	for k, v := range m {
		if bytes.EqualFold([]byte(k), []byte(key)) {
			return v, true
		}
	}
	return nil, false
}

// EncodeBatch serializes the output batch.
func EncodeBatch(batch TelemetryBatch) ([]byte, error) {
	if batch.DeviceData == nil {
		batch.DeviceData = []DeviceTelemetry{}
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(batch)
}
