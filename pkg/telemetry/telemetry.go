// Package telemetry holds the vehicle state attached to the first outbound
// audio block of every speech turn.
//
// A [Snapshot] is an immutable value. The host replaces it through a
// [Store], which readers on other goroutines load atomically, so a turn
// never observes a half-updated snapshot.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Value ranges accepted from the host, matching the cabin controls.
const (
	MinTemperatureC = 18
	MaxTemperatureC = 30
	MinSpeedKmh     = 0
	MaxSpeedKmh     = 200
	MinFuelPct      = 0
	MaxFuelPct      = 100
)

// Defaults used when the host has not supplied a value.
const (
	DefaultTemperatureC = 20
	DefaultSpeedKmh     = 60
	DefaultFuelPct      = 50
)

// TimestampLayout is ISO-8601 with milliseconds and a numeric offset
// ("Z" for UTC).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// unknownAddress is sent when no address is known.
const unknownAddress = "Unknown"

const statusDescription = "This JSON represents the current vehicle status, including details such as speed, indoor temperature, fuel level, geographic location, and a timestamp."

// Snapshot is the vehicle and location state at a point in time.
type Snapshot struct {
	TemperatureC int
	SpeedKmh     int
	FuelPct      int
	Latitude     float64
	Longitude    float64
	Address      string

	// Zone is the time zone used for the status timestamp. Nil means UTC.
	Zone *time.Location
}

// Default returns a snapshot with default readings at the ACCESS HQ preset.
func Default() Snapshot {
	hq := Presets[PresetAccessHQ]
	return Snapshot{
		TemperatureC: DefaultTemperatureC,
		SpeedKmh:     DefaultSpeedKmh,
		FuelPct:      DefaultFuelPct,
		Latitude:     hq.Latitude,
		Longitude:    hq.Longitude,
		Address:      hq.Name,
	}
}

// Validate reports every reading that is outside its accepted range.
func (s Snapshot) Validate() error {
	var errs []error
	if s.TemperatureC < MinTemperatureC || s.TemperatureC > MaxTemperatureC {
		errs = append(errs, fmt.Errorf("temperature %d°C is out of range [%d, %d]", s.TemperatureC, MinTemperatureC, MaxTemperatureC))
	}
	if s.SpeedKmh < MinSpeedKmh || s.SpeedKmh > MaxSpeedKmh {
		errs = append(errs, fmt.Errorf("speed %d km/h is out of range [%d, %d]", s.SpeedKmh, MinSpeedKmh, MaxSpeedKmh))
	}
	if s.FuelPct < MinFuelPct || s.FuelPct > MaxFuelPct {
		errs = append(errs, fmt.Errorf("fuel %d%% is out of range [%d, %d]", s.FuelPct, MinFuelPct, MaxFuelPct))
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %f is out of range [-90, 90]", s.Latitude))
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %f is out of range [-180, 180]", s.Longitude))
	}
	return errors.Join(errs...)
}

// WithTemperature returns a copy of s with the temperature clamped into range.
func (s Snapshot) WithTemperature(c int) Snapshot {
	s.TemperatureC = max(MinTemperatureC, min(MaxTemperatureC, c))
	return s
}

// ── Vehicle status payload ───────────────────────────────────────────────────

// Measure is a value with its unit.
type Measure struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// VehicleStatus is the JSON document embedded as text in the turn-start
// conversation item.
type VehicleStatus struct {
	Description       string      `json:"description"`
	Speed             Measure     `json:"speed"`
	IndoorTemperature Measure     `json:"indoor_temperature"`
	FuelLevel         Measure     `json:"fuel_level"`
	Location          Coordinates `json:"location"`
	Address           string      `json:"address"`
	Timestamp         string      `json:"timestamp"`
}

// Status renders s as a vehicle status document stamped with now in the
// snapshot's time zone.
func (s Snapshot) Status(now time.Time) VehicleStatus {
	zone := s.Zone
	if zone == nil {
		zone = time.UTC
	}
	addr := s.Address
	if addr == "" {
		addr = unknownAddress
	}
	return VehicleStatus{
		Description:       statusDescription,
		Speed:             Measure{Value: s.SpeedKmh, Unit: "km/h"},
		IndoorTemperature: Measure{Value: s.TemperatureC, Unit: "°C"},
		FuelLevel:         Measure{Value: s.FuelPct, Unit: "%"},
		Location:          Coordinates{Latitude: s.Latitude, Longitude: s.Longitude},
		Address:           addr,
		Timestamp:         now.In(zone).Format(TimestampLayout),
	}
}

// StatusText returns the vehicle status as a compact JSON string.
func (s Snapshot) StatusText(now time.Time) (string, error) {
	data, err := json.Marshal(s.Status(now))
	if err != nil {
		return "", fmt.Errorf("telemetry: marshal status: %w", err)
	}
	return string(data), nil
}
