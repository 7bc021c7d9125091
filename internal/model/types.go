package model

// RawRecord is one register reading as produced by the upstream poller.
type RawRecord struct {
	DisplayName     string     `json:"displayName"`
	DeviceID        string     `json:"deviceId"`
	Address         string     `json:"address"`
	Value           FlexString `json:"value"`
	SourceTimestamp string     `json:"sourceTimestamp"`
}

// DeviceTelemetry is the decoded set of readings for one device in one batch.
type DeviceTelemetry struct {
	DeviceID         string  `json:"deviceId"`
	AmpsAvg          Reading `json:"ampsAvg"`
	AmpsL1           Reading `json:"ampsL1"`
	AmpsL2           Reading `json:"ampsL2"`
	AmpsL3           Reading `json:"ampsL3"`
	KwL1             Reading `json:"kwL1"`
	KwL2             Reading `json:"kwL2"`
	KwL3             Reading `json:"kwL3"`
	KwSystem         Reading `json:"kwSystem"`
	VoltsL1toNeutral Reading `json:"voltsL1toNeutral"`
	VoltsL2toNeutral Reading `json:"voltsL2toNeutral"`
	VoltsL3toNeutral Reading `json:"voltsL3toNeutral"`
}

// TelemetryBatch is the output root, one entry per device in first-seen order.
type TelemetryBatch struct {
	DeviceData []DeviceTelemetry `json:"deviceData"`
}

// KafkaWrapper is the outer envelope some producers put around the body.
type KafkaWrapper struct {
	Payload string `json:"payload"`
}

// BodyEnvelope is the `{"body": [...]}` shape.
type BodyEnvelope struct {
	Body []RawRecord `json:"body"`
}

// ArchiveEntry pairs an input batch with the output it produced.
type ArchiveEntry struct {
	Sequence      uint64         `json:"sequence"`
	CorrelationID string         `json:"correlationId"`
	ReceivedAt    string         `json:"receivedAt"`
	Input         []RawRecord    `json:"input"`
	Output        TelemetryBatch `json:"output"`
}

// Readings returns the decoded values keyed by output field name.
func (t DeviceTelemetry) Readings() map[string]any {
	return map[string]any{
		"ampsAvg":          float64(t.AmpsAvg),
		"ampsL1":           float64(t.AmpsL1),
		"ampsL2":           float64(t.AmpsL2),
		"ampsL3":           float64(t.AmpsL3),
		"kwL1":             float64(t.KwL1),
		"kwL2":             float64(t.KwL2),
		"kwL3":             float64(t.KwL3),
		"kwSystem":         float64(t.KwSystem),
		"voltsL1toNeutral": float64(t.VoltsL1toNeutral),
		"voltsL2toNeutral": float64(t.VoltsL2toNeutral),
		"voltsL3toNeutral": float64(t.VoltsL3toNeutral),
	}
}
