package router_test

import (
	"context"
	"encoding/base64"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	hostmock "github.com/MrWong99/dashvoice/internal/host/mock"
	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/internal/router"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakePlayback struct {
	mu       sync.Mutex
	enqueued [][]byte
	clears   int
}

func (p *fakePlayback) Enqueue(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueued = append(p.enqueued, pcm)
}

func (p *fakePlayback) ClearAndStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
}

type fakeSession struct {
	mu       sync.Mutex
	clientID string
	pauses   int
}

func (s *fakeSession) SetClientID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = id
}

func (s *fakeSession) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
}

type fixture struct {
	router   *router.Router
	playback *fakePlayback
	session  *fakeSession
	host     *hostmock.Host
	vehicle  *telemetry.Store
}

func newFixture(t *testing.T, pairingURL string) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		playback: &fakePlayback{},
		session:  &fakeSession{},
		host:     &hostmock.Host{},
		vehicle:  telemetry.NewStore(telemetry.Default()),
	}
	f.router, err = router.New(router.Config{
		Playback:   f.playback,
		Vehicle:    f.vehicle,
		Host:       f.host,
		Session:    f.session,
		PairingURL: pairingURL,
		Metrics:    m,
	})
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return f
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := router.New(router.Config{})
	if err == nil {
		t.Fatal("New with empty config returned nil error")
	}
	for _, want := range []string{"playback", "vehicle", "host", "session"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDispatch_AirControlNotifiesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	f.router.Dispatch(context.Background(),
		[]byte(`{"type":"tools.aircontrol","intent":{"aircontrol":{"temperature":24}}}`))

	if got := f.host.TemperatureCalls(); !slices.Equal(got, []int{24}) {
		t.Errorf("temperature notifications = %v, want [24]", got)
	}
	if got := f.vehicle.Load().TemperatureC; got != 24 {
		t.Errorf("snapshot temperature = %d, want 24", got)
	}
}

func TestDispatch_AirControlStoresAbsoluteUnclamped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	f.router.Dispatch(context.Background(),
		[]byte(`{"type":"tools.aircontrol","intent":{"aircontrol":{"temperature":35}}}`))

	if got := f.vehicle.Load().TemperatureC; got != 35 {
		t.Errorf("stored temperature = %d, want 35", got)
	}
	if got := f.host.TemperatureCalls(); !slices.Equal(got, []int{35}) {
		t.Errorf("temperature notifications = %v, want [35]", got)
	}
}

func TestDispatch_AirControlDelta(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	ctx := context.Background()

	f.router.Dispatch(ctx, []byte(`{"type":"tools.aircontrol_delta","intent":{"aircontrol_delta":{"temperature_delta":3}}}`))
	f.router.Dispatch(ctx, []byte(`{"type":"tools.aircontrol_delta","intent":{"aircontrol_delta":{"temperature_delta":20}}}`))
	f.router.Dispatch(ctx, []byte(`{"type":"tools.aircontrol_delta","intent":{"aircontrol_delta":{"temperature_delta":0}}}`))

	if got := f.host.TemperatureCalls(); !slices.Equal(got, []int{23, 30}) {
		t.Errorf("temperature notifications = %v, want [23 30]", got)
	}
}

func TestDispatch_AudioDeltaEnqueues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	pcm := []byte{1, 2, 3, 4}
	msg := `{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
	f.router.Dispatch(context.Background(), []byte(msg))

	f.playback.mu.Lock()
	defer f.playback.mu.Unlock()
	if len(f.playback.enqueued) != 1 || !slices.Equal(f.playback.enqueued[0], pcm) {
		t.Errorf("enqueued = %v", f.playback.enqueued)
	}
}

func TestDispatch_HostActions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "https://pair.example.com/link")
	ctx := context.Background()

	f.router.Dispatch(ctx, []byte(`{"type":"tools.search_videos","intent":{"webbrowser":{"search_videos":{"service":"youtube","input":"lofi"}}}}`))
	f.router.Dispatch(ctx, []byte(`{"type":"tools.search_videos","intent":{"webbrowser":{"search_videos":{"service":"vimeo","input":"lofi"}}}}`))
	f.router.Dispatch(ctx, []byte(`{"type":"tools.launch_navigation","intent":{"navigation":{"destination":"Tokyo Tower"}}}`))
	f.router.Dispatch(ctx, []byte(`{"type":"client_id","client_id":"car-9"}`))

	if got := f.host.SearchCalls(); len(got) != 1 || got[0] != "https://www.youtube.com/results?search_query=lofi" {
		t.Errorf("searches = %v", got)
	}
	if got := f.host.MapCalls(); len(got) != 1 || got[0] != "https://www.google.com/maps/dir/?api=1&destination=Tokyo+Tower" {
		t.Errorf("maps = %v", got)
	}
	if got := f.host.PairingCalls(); len(got) != 1 || got[0] != "https://pair.example.com/link?client_id=car-9" {
		t.Errorf("pairings = %v", got)
	}
	f.session.mu.Lock()
	if f.session.clientID != "car-9" {
		t.Errorf("client id = %q", f.session.clientID)
	}
	f.session.mu.Unlock()
}

func TestDispatch_ClientIDWithoutPairing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	f.router.Dispatch(context.Background(), []byte(`{"type":"client_id","client_id":"abc"}`))
	if got := f.host.PairingCalls(); len(got) != 0 {
		t.Errorf("pairings = %v, want none", got)
	}
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	if f.session.clientID != "abc" {
		t.Errorf("client id = %q", f.session.clientID)
	}
}

func TestDispatch_InterruptingMessages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	ctx := context.Background()

	f.router.Dispatch(ctx, []byte(`{"type":"proposal_video","video_url":"https://example.com/v"}`))
	f.router.Dispatch(ctx, []byte(`{"type":"demo_action","video_url":"https://example.com/d"}`))
	f.router.Dispatch(ctx, []byte(`{"type":"stop_conversation"}`))

	f.playback.mu.Lock()
	clears := f.playback.clears
	f.playback.mu.Unlock()
	if clears != 3 {
		t.Errorf("ClearAndStop calls = %d, want 3", clears)
	}
	f.session.mu.Lock()
	pauses := f.session.pauses
	f.session.mu.Unlock()
	if pauses != 2 {
		t.Errorf("Pause calls = %d, want 2", pauses)
	}
	if got := f.host.EmbeddedCalls(); !slices.Equal(got, []string{"https://example.com/v", "https://example.com/d"}) {
		t.Errorf("embedded = %v", got)
	}
}

func TestDispatch_DropsBadMessages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	ctx := context.Background()

	for _, msg := range []string{
		`not json`,
		`{"type":"tools.aircontrol","intent":{}}`,
		`{"type":"response.done"}`,
		`{"type":"response.audio.delta","delta":"%%%"}`,
	} {
		f.router.Dispatch(ctx, []byte(msg))
	}

	if got := f.host.TemperatureCalls(); len(got) != 0 {
		t.Errorf("temperature notifications = %v, want none", got)
	}
	f.playback.mu.Lock()
	defer f.playback.mu.Unlock()
	if len(f.playback.enqueued) != 0 || f.playback.clears != 0 {
		t.Errorf("playback touched: %d enqueued, %d clears", len(f.playback.enqueued), f.playback.clears)
	}
}

func TestRun_StopsOnClosedChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	in := make(chan []byte, 2)
	in <- []byte(`{"type":"tools.aircontrol","intent":{"aircontrol":{"temperature":19}}}`)
	close(in)

	done := make(chan error, 1)
	go func() { done <- f.router.Run(context.Background(), in) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	if got := f.host.TemperatureCalls(); !slices.Equal(got, []int{19}) {
		t.Errorf("temperature notifications = %v", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.router.Run(ctx, make(chan []byte)) }()
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
