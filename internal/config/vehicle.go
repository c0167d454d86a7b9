package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

// IsZero reports whether no location was configured.
func (l LocationConfig) IsZero() bool {
	return l == LocationConfig{}
}

// UnmarshalJSON accepts the same two shapes as the YAML form.
func (l *LocationConfig) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = LocationConfig{}
		return nil
	}
	if data[0] == '"' {
		var preset string
		if err := json.Unmarshal(data, &preset); err != nil {
			return err
		}
		*l = LocationConfig{Preset: preset}
		return nil
	}
	var coords struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("location must be a preset name or a latitude/longitude object: %w", err)
	}
	if coords.Latitude == nil || coords.Longitude == nil {
		return errors.New("location requires both latitude and longitude")
	}
	*l = LocationConfig{Latitude: *coords.Latitude, Longitude: *coords.Longitude}
	return nil
}

// MarshalJSON mirrors [LocationConfig.MarshalYAML].
func (l LocationConfig) MarshalJSON() ([]byte, error) {
	v, _ := l.MarshalYAML()
	return json.Marshal(v)
}

// Validate checks every field that is set.
func (v VehicleConfig) Validate() error {
	var errs []error
	if err := checkRange("vehicle.temperature_c", v.TemperatureC, telemetry.MinTemperatureC, telemetry.MaxTemperatureC); err != nil {
		errs = append(errs, err)
	}
	if err := checkRange("vehicle.speed_kmh", v.SpeedKmh, telemetry.MinSpeedKmh, telemetry.MaxSpeedKmh); err != nil {
		errs = append(errs, err)
	}
	if err := checkRange("vehicle.fuel_pct", v.FuelPct, telemetry.MinFuelPct, telemetry.MaxFuelPct); err != nil {
		errs = append(errs, err)
	}
	switch loc := v.Location; {
	case loc.Preset != "":
		if _, err := telemetry.LookupPreset(loc.Preset); err != nil {
			errs = append(errs, fmt.Errorf("vehicle.location: %w", err))
		}
	default:
		if loc.Latitude < -90 || loc.Latitude > 90 {
			errs = append(errs, fmt.Errorf("vehicle.location.latitude %g is out of range [-90, 90]", loc.Latitude))
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			errs = append(errs, fmt.Errorf("vehicle.location.longitude %g is out of range [-180, 180]", loc.Longitude))
		}
	}
	if v.Timezone != "" {
		if _, err := time.LoadLocation(v.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("vehicle.timezone %q: %w", v.Timezone, err))
		}
	}
	return errors.Join(errs...)
}

// Apply overlays the configured fields on base and returns the result.
// Unset readings, an unset location, and an empty timezone keep the value
// from base. A preset location also sets the address unless Address is given.
func (v VehicleConfig) Apply(base telemetry.Snapshot) (telemetry.Snapshot, error) {
	if err := v.Validate(); err != nil {
		return base, err
	}
	s := base
	if v.TemperatureC != nil {
		s.TemperatureC = *v.TemperatureC
	}
	if v.SpeedKmh != nil {
		s.SpeedKmh = *v.SpeedKmh
	}
	if v.FuelPct != nil {
		s.FuelPct = *v.FuelPct
	}
	switch {
	case v.Location.Preset != "":
		p, _ := telemetry.LookupPreset(v.Location.Preset)
		s = p.Apply(s)
	case !v.Location.IsZero():
		s.Latitude = v.Location.Latitude
		s.Longitude = v.Location.Longitude
		s.Address = ""
	}
	if v.Address != "" {
		s.Address = v.Address
	}
	if v.Timezone != "" {
		zone, _ := time.LoadLocation(v.Timezone)
		s.Zone = zone
	}
	return s, nil
}

// Snapshot returns the configured vehicle state on top of [telemetry.Default].
func (v VehicleConfig) Snapshot() (telemetry.Snapshot, error) {
	return v.Apply(telemetry.Default())
}

// Equal reports whether v and o describe the same vehicle state.
func (v VehicleConfig) Equal(o VehicleConfig) bool {
	return intPtrEqual(v.TemperatureC, o.TemperatureC) &&
		intPtrEqual(v.SpeedKmh, o.SpeedKmh) &&
		intPtrEqual(v.FuelPct, o.FuelPct) &&
		v.Location == o.Location &&
		v.Address == o.Address &&
		v.Timezone == o.Timezone
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func checkRange(field string, v *int, lo, hi int) error {
	if v == nil || (*v >= lo && *v <= hi) {
		return nil
	}
	return fmt.Errorf("%s %d is out of range [%d, %d]", field, *v, lo, hi)
}

func validateHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}
