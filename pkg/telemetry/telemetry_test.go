package telemetry_test

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	s := telemetry.Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if s.TemperatureC != 20 || s.SpeedKmh != 60 || s.FuelPct != 50 {
		t.Errorf("readings = %d/%d/%d, want 20/60/50", s.TemperatureC, s.SpeedKmh, s.FuelPct)
	}
	if s.Address != "ACCESS HQ" {
		t.Errorf("Address = %q", s.Address)
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	t.Parallel()

	s := telemetry.Snapshot{TemperatureC: 40, SpeedKmh: -1, FuelPct: 101, Latitude: 91, Longitude: 0}
	err := s.Validate()
	if err == nil {
		t.Fatal("Validate returned nil")
	}
	for _, want := range []string{"temperature", "speed", "fuel", "latitude"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "longitude") {
		t.Errorf("error %q mentions a valid longitude", err)
	}
}

func TestWithTemperature_Clamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{in: 24, want: 24},
		{in: 10, want: 18},
		{in: 35, want: 30},
		{in: 18, want: 18},
		{in: 30, want: 30},
	}
	for _, tt := range tests {
		if got := telemetry.Default().WithTemperature(tt.in).TemperatureC; got != tt.want {
			t.Errorf("WithTemperature(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStatusText_Shape(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := telemetry.Snapshot{
		TemperatureC: 22,
		SpeedKmh:     80,
		FuelPct:      33,
		Latitude:     35.6997837,
		Longitude:    139.7741138,
		Address:      "ACCESS HQ",
		Zone:         tokyo,
	}
	now := time.Date(2026, 3, 1, 12, 30, 45, 123_000_000, time.UTC)

	text, err := s.StatusText(now)
	if err != nil {
		t.Fatalf("StatusText: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("status is not JSON: %v\n%s", err, text)
	}
	if got["timestamp"] != "2026-03-01T21:30:45.123+09:00" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
	if got["address"] != "ACCESS HQ" {
		t.Errorf("address = %v", got["address"])
	}
	if d, _ := got["description"].(string); d == "" {
		t.Error("description is empty")
	}

	checkMeasure := func(key string, value float64, unit string) {
		t.Helper()
		m, ok := got[key].(map[string]any)
		if !ok {
			t.Fatalf("%s missing: %v", key, got)
		}
		if m["value"] != value || m["unit"] != unit {
			t.Errorf("%s = %v, want {%v %s}", key, m, value, unit)
		}
	}
	checkMeasure("speed", 80, "km/h")
	checkMeasure("indoor_temperature", 22, "°C")
	checkMeasure("fuel_level", 33, "%")

	loc := got["location"].(map[string]any)
	if loc["latitude"] != 35.6997837 || loc["longitude"] != 139.7741138 {
		t.Errorf("location = %v", loc)
	}
}

func TestStatus_Fallbacks(t *testing.T) {
	t.Parallel()

	s := telemetry.Default()
	s.Address = ""
	st := s.Status(time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC))
	if st.Address != "Unknown" {
		t.Errorf("Address = %q, want Unknown", st.Address)
	}
	if st.Timestamp != "2026-01-02T03:04:05.006Z" {
		t.Errorf("Timestamp = %q", st.Timestamp)
	}
}

func TestLookupPreset(t *testing.T) {
	t.Parallel()

	p, err := telemetry.LookupPreset(" LVCC ")
	if err != nil {
		t.Fatalf("LookupPreset: %v", err)
	}
	if p.Name != "Las Vegas Convention Center" || p.Latitude != 36.1286087 || p.Longitude != -115.1515426 {
		t.Errorf("preset = %+v", p)
	}

	moved := p.Apply(telemetry.Default())
	if moved.Address != p.Name || moved.Latitude != p.Latitude || moved.TemperatureC != 20 {
		t.Errorf("Apply = %+v", moved)
	}

	if _, err := telemetry.LookupPreset("mars"); err == nil || !strings.Contains(err.Error(), "access_hq, lvcc") {
		t.Errorf("LookupPreset(mars) error = %v", err)
	}
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	st := telemetry.NewStore(telemetry.Default().WithTemperature(18))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Update(func(s telemetry.Snapshot) telemetry.Snapshot {
				return s.WithTemperature(s.TemperatureC + 1)
			})
		}()
	}
	wg.Wait()

	if got := st.Load().TemperatureC; got != 26 {
		t.Errorf("TemperatureC = %d, want 26", got)
	}

	got := st.Update(func(s telemetry.Snapshot) telemetry.Snapshot {
		return s.WithTemperature(s.TemperatureC + 10)
	})
	if got.TemperatureC != 30 {
		t.Errorf("clamped update = %d, want 30", got.TemperatureC)
	}
}

func TestStore_ZeroValueLoadsDefault(t *testing.T) {
	t.Parallel()

	var st telemetry.Store
	if got := st.Load(); got.TemperatureC != telemetry.DefaultTemperatureC {
		t.Errorf("Load = %+v", got)
	}
}
