package telemetry

import (
	"fmt"
	"time"

	"my/fronius_publisher/internal/document"
)

// KindInvalidDocument is the only NormalizeError kind: the payload was not
// a JSON object.
const KindInvalidDocument = "invalid-document"

// NormalizeError reports a payload that could not be traversed at all.
type NormalizeError struct {
	Payload string
	Kind    string
	Err     error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s payload: %s: %v", e.Payload, e.Kind, e.Err)
}

func (e *NormalizeError) Unwrap() error {
	return e.Err
}

// Field paths inside the Solar API responses.
var (
	pathLoad       = []string{"Body", "Data", "Site", "P_Load"}
	pathGeneration = []string{"Body", "Data", "Site", "P_PV"}

	pathInverterVoltage   = []string{"Body", "Data", "UAC", "Value"}
	pathInverterFrequency = []string{"Body", "Data", "FAC", "Value"}

	pathMeterVoltage     = []string{"Body", "Data", "Voltage_AC_Phase_1"}
	pathMeterFrequency   = []string{"Body", "Data", "Frequency_Phase_Average"}
	pathMeterPowerFactor = []string{"Body", "Data", "PowerFactor_Phase_1"}
)

// Normalize builds a Record from the power-flow, inverter and meter
// payloads. Missing or null fields become 0. A nil payload is treated as
// an empty document. Only a payload that is not an object fails.
func Normalize(powerFlow, inverter, meter any, now time.Time) (Record, error) {
	pf, err := asDocument("powerflow", powerFlow)
	if err != nil {
		return Record{}, err
	}

	inv, err := asDocument("inverter", inverter)
	if err != nil {
		return Record{}, err
	}

	mtr, err := asDocument("meter", meter)
	if err != nil {
		return Record{}, err
	}

	load := document.Float(pf, pathLoad...)
	generation := document.Float(pf, pathGeneration...)

	return Record{
		SensorID:       SensorID,
		TimeCollected:  now.Unix(),
		PVImport:       generation - load,
		PVExport:       load - generation,
		PVGeneration:   generation,
		PVLoad:         load,
		GridVoltage:    document.Float(inv, pathInverterVoltage...),
		GridFrequency:  document.Float(inv, pathInverterFrequency...),
		GridVoltage1:   document.Float(mtr, pathMeterVoltage...),
		GridFrequency1: document.Float(mtr, pathMeterFrequency...),
		GridPF:         document.Float(mtr, pathMeterPowerFactor...),
	}, nil
}

func asDocument(name string, v any) (document.Document, error) {
	d, err := document.From(v)
	if err != nil {
		return nil, &NormalizeError{Payload: name, Kind: KindInvalidDocument, Err: err}
	}

	return d, nil
}
