// Package telemetry turns raw Solar API documents into the flat record
// published to the broker.
package telemetry

import (
	"encoding/json"
	"time"
)

// SensorID identifies this installation in downstream consumers.
const SensorID = 1

// Record is the normalized reading for one cycle. Every field is always
// present in its JSON form.
type Record struct {
	SensorID       int     `json:"sensorID"`
	TimeCollected  int64   `json:"timecollected"`
	PVImport       float64 `json:"pvImport"`
	PVExport       float64 `json:"pvExport"`
	PVGeneration   float64 `json:"pvGeneration"`
	PVLoad         float64 `json:"pvLoad"`
	GridVoltage    float64 `json:"gridVoltage"`
	GridFrequency  float64 `json:"gridFrequency"`
	GridVoltage1   float64 `json:"gridVoltage1"`
	GridFrequency1 float64 `json:"gridFrequency1"`
	GridPF         float64 `json:"gridPf"`
}

// Time returns the collection time.
func (r Record) Time() time.Time {
	return time.Unix(r.TimeCollected, 0).UTC()
}

// Marshal encodes the record as the published JSON payload.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
