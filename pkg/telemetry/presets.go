package telemetry

import (
	"fmt"
	"slices"
	"strings"
)

// Preset location keys.
const (
	PresetAccessHQ = "access_hq"
	PresetLVCC     = "lvcc"
)

// Preset is a named location the host can select instead of coordinates.
type Preset struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Presets lists the built-in locations by key.
var Presets = map[string]Preset{
	PresetAccessHQ: {Name: "ACCESS HQ", Latitude: 35.6997837, Longitude: 139.7741138},
	PresetLVCC:     {Name: "Las Vegas Convention Center", Latitude: 36.1286087, Longitude: -115.1515426},
}

// LookupPreset returns the preset for key (case-insensitive).
func LookupPreset(key string) (Preset, error) {
	p, ok := Presets[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		keys := make([]string, 0, len(Presets))
		for k := range Presets {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return Preset{}, fmt.Errorf("telemetry: unknown location preset %q; valid values: %s", key, strings.Join(keys, ", "))
	}
	return p, nil
}

// Apply returns s moved to the preset's coordinates and name.
func (p Preset) Apply(s Snapshot) Snapshot {
	s.Latitude = p.Latitude
	s.Longitude = p.Longitude
	s.Address = p.Name
	return s
}
