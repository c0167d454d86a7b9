package host

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/dashvoice/internal/observe"
)

func TestMapsURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		destination string
		lat, lon    float64
		want        string
	}{
		{
			name:        "destination",
			destination: "Tokyo Tower",
			want:        "https://www.google.com/maps/dir/?api=1&destination=Tokyo+Tower",
		},
		{
			name: "coordinates",
			lat:  35.6997837,
			lon:  139.7741138,
			want: "https://www.google.com/maps/dir/?api=1&destination=35.6997837,139.7741138",
		},
		{
			name:        "destination wins",
			destination: "LVCC",
			lat:         1,
			lon:         2,
			want:        "https://www.google.com/maps/dir/?api=1&destination=LVCC",
		},
		{
			name: "negative longitude",
			lat:  36.1286087,
			lon:  -115.1515426,
			want: "https://www.google.com/maps/dir/?api=1&destination=36.1286087,-115.1515426",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MapsURL(tt.destination, tt.lat, tt.lon); got != tt.want {
				t.Errorf("MapsURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVideoSearchURL(t *testing.T) {
	t.Parallel()

	got, err := VideoSearchURL("YouTube", "cat videos & more")
	if err != nil {
		t.Fatalf("VideoSearchURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "www.youtube.com" || u.Path != "/results" {
		t.Errorf("url = %q", got)
	}
	if q := u.Query().Get("search_query"); q != "cat videos & more" {
		t.Errorf("search_query = %q", q)
	}

	if _, err := VideoSearchURL("", "jazz"); err != nil {
		t.Errorf("empty service: %v", err)
	}
	if _, err := VideoSearchURL("vimeo", "jazz"); !errors.Is(err, ErrUnsupportedService) {
		t.Errorf("vimeo error = %v, want ErrUnsupportedService", err)
	}
}

func TestPairingURL(t *testing.T) {
	t.Parallel()

	got, err := PairingURL("https://pair.example.com/link?lang=en&client_id=stale", "car-1")
	if err != nil {
		t.Fatalf("PairingURL: %v", err)
	}
	u, _ := url.Parse(got)
	if u.Query().Get("client_id") != "car-1" || u.Query().Get("lang") != "en" {
		t.Errorf("url = %q", got)
	}

	if _, err := PairingURL("ws://pair", "x"); err == nil {
		t.Error("PairingURL accepted a ws URL")
	}
}

func TestOpenerFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd, goos string
		want      []string
	}{
		{cmd: "", goos: "linux", want: []string{"xdg-open"}},
		{cmd: "", goos: "darwin", want: []string{"open"}},
		{cmd: "", goos: "windows", want: []string{"cmd", "/c", "start"}},
		{cmd: "none", goos: "linux", want: nil},
		{cmd: "firefox --new-tab", goos: "linux", want: []string{"firefox", "--new-tab"}},
	}
	for _, tt := range tests {
		if got := openerFor(tt.cmd, tt.goos); !slices.Equal(got, tt.want) {
			t.Errorf("openerFor(%q, %q) = %v, want %v", tt.cmd, tt.goos, got, tt.want)
		}
	}
}

func newTestLauncher(t *testing.T, cmd string) *Launcher {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewLauncher(cmd, WithMetrics(m))
}

func TestLauncher_DisabledOnlyRecords(t *testing.T) {
	t.Parallel()

	l := newTestLauncher(t, "none")
	ctx := context.Background()

	if err := l.OpenMap(ctx, "https://example.com"); err != nil {
		t.Errorf("OpenMap: %v", err)
	}
	if err := l.TemperatureChanged(ctx, 24); err != nil {
		t.Errorf("TemperatureChanged: %v", err)
	}
	l.ConnectionChanged(ctx, true)

	if l.Temperature() != 24 {
		t.Errorf("Temperature = %d, want 24", l.Temperature())
	}
}

func TestLauncher_MissingCommand(t *testing.T) {
	t.Parallel()

	l := newTestLauncher(t, "dashvoice-test-no-such-opener")
	if err := l.OpenSearch(context.Background(), "https://example.com"); err == nil {
		t.Error("OpenSearch succeeded with a missing opener")
	}
}
