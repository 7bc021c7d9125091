package formatter

import (
	"fmt"

	"modbus-formatter/internal/model"
)

// Aggregator groups register records by device and decodes every known
// parameter. It holds no state between calls.
type Aggregator struct {
	Decoder Decoder
}

// NewAggregator returns an Aggregator using the given register layout.
func NewAggregator(layout Layout) *Aggregator {
	return &Aggregator{Decoder: Decoder{Layout: layout}}
}

// Aggregate returns one DeviceTelemetry per distinct device id, in the order
// device ids first appear. Records without a device id are skipped.
func (a *Aggregator) Aggregate(batch []model.RawRecord) (model.TelemetryBatch, error) {
	order, groups := groupByDevice(batch)

	out := model.TelemetryBatch{DeviceData: make([]model.DeviceTelemetry, 0, len(order))}
	for _, deviceID := range order {
		records := groups[deviceID]

		t := model.DeviceTelemetry{DeviceID: records[0].DeviceID}
		for _, p := range Parameters {
			v, err := a.Decoder.Decode(records, p.Name)
			if err != nil {
				return model.TelemetryBatch{}, fmt.Errorf("device %s: %w", deviceID, err)
			}
			p.set(&t, model.Reading(v))
		}
		out.DeviceData = append(out.DeviceData, t)
	}
	return out, nil
}

// Aggregate uses the unpadded layout.
func Aggregate(batch []model.RawRecord) (model.TelemetryBatch, error) {
	return (&Aggregator{}).Aggregate(batch)
}

func groupByDevice(batch []model.RawRecord) ([]string, map[string][]model.RawRecord) {
	var order []string
	groups := make(map[string][]model.RawRecord)
	for _, r := range batch {
		if r.DeviceID == "" {
			continue
		}
		if _, seen := groups[r.DeviceID]; !seen {
			order = append(order, r.DeviceID)
		}
		groups[r.DeviceID] = append(groups[r.DeviceID], r)
	}
	return order, groups
}
