package formatter

import "modbus-formatter/internal/model"

// Parameter binds a poller display name to the output field it fills.
type Parameter struct {
	Name  string
	Field string
	set   func(*model.DeviceTelemetry, model.Reading)
}

// Parameters is the fixed set of registers the formatter decodes.
var Parameters = []Parameter{
	{"Amps System Avg", "ampsAvg", func(t *model.DeviceTelemetry, r model.Reading) { t.AmpsAvg = r }},
	{"Amps L1", "ampsL1", func(t *model.DeviceTelemetry, r model.Reading) { t.AmpsL1 = r }},
	{"Amps L2", "ampsL2", func(t *model.DeviceTelemetry, r model.Reading) { t.AmpsL2 = r }},
	{"Amps L3", "ampsL3", func(t *model.DeviceTelemetry, r model.Reading) { t.AmpsL3 = r }},
	{"kW L1", "kwL1", func(t *model.DeviceTelemetry, r model.Reading) { t.KwL1 = r }},
	{"kW L2", "kwL2", func(t *model.DeviceTelemetry, r model.Reading) { t.KwL2 = r }},
	{"kW L3", "kwL3", func(t *model.DeviceTelemetry, r model.Reading) { t.KwL3 = r }},
	{"kW System", "kwSystem", func(t *model.DeviceTelemetry, r model.Reading) { t.KwSystem = r }},
	{"Volts L1 to Neutral", "voltsL1toNeutral", func(t *model.DeviceTelemetry, r model.Reading) { t.VoltsL1toNeutral = r }},
	{"Volts L2 to Neutral", "voltsL2toNeutral", func(t *model.DeviceTelemetry, r model.Reading) { t.VoltsL2toNeutral = r }},
	{"Volts L3 to Neutral", "voltsL3toNeutral", func(t *model.DeviceTelemetry, r model.Reading) { t.VoltsL3toNeutral = r }},
}
