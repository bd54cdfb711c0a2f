// Package sensor abstracts the CO2/temperature/humidity measurement
// source. The sim source generates plausible drifting values for
// development; the exec source wraps an external reader process, which
// is how a real SCD-40 attached over I2C gets into the loop without
// linking hardware code into this binary.
package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
)

// ErrNotReady indicates the source has no measurement yet, such as
// during sensor warmup. The caller should try again next cycle; it is
// a normal startup condition, not a fault.
var ErrNotReady = errors.New("sensor: no measurement ready")

// Reading is one air measurement.
type Reading struct {
	CO2  int     `json:"co2"`  // ppm
	Temp float64 `json:"temp"` // degrees C
	RH   float64 `json:"rh"`   // percent relative humidity
}

// Source produces readings on demand.
type Source interface {
	// Read returns the current measurement, ErrNotReady while the
	// sensor warms up, or an error describing a sensor fault.
	Read(ctx context.Context) (Reading, error)
}

// wirePayload fixes the key order of the published sample.
type wirePayload struct {
	CO2  int     `json:"co2"`
	Temp float64 `json:"temp"`
	RH   float64 `json:"rh"`
}

// MarshalPayload renders a reading as the published JSON sample, with
// temperature and humidity rounded to two decimals.
func MarshalPayload(r Reading) []byte {
	b, _ := json.Marshal(wirePayload{
		CO2:  r.CO2,
		Temp: round2(r.Temp),
		RH:   round2(r.RH),
	})
	return b
}

// round2 rounds half away from zero to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
