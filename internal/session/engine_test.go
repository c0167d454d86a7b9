package session_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/dashvoice/internal/host/mock"
	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/internal/session"
	"github.com/MrWong99/dashvoice/internal/transport"
	"github.com/MrWong99/dashvoice/pkg/audio"
	audiomock "github.com/MrWong99/dashvoice/pkg/audio/mock"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

const blockSize = 4800

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// tone returns n bytes of a square wave with the given amplitude.
func tone(n int, amp int16) []byte {
	b := make([]byte, n)
	for i := 0; i < n/2; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

// fakeServer is a conversational service double. It records every text
// message it receives and forwards messages pushed on send to the client.
type fakeServer struct {
	srv      *httptest.Server
	received chan []byte
	send     chan []byte
	queries  chan url.Values
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		received: make(chan []byte, 1024),
		send:     make(chan []byte, 16),
		queries:  make(chan url.Values, 16),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		select {
		case fs.queries <- r.URL.Query():
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			for {
				select {
				case msg := <-fs.send:
					if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			fs.received <- data
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

// collect waits for n messages and returns their types in arrival order.
func (fs *fakeServer) collect(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.After(timeout)
	var types []string
	for len(types) < n {
		select {
		case data := <-fs.received:
			types = append(types, messageType(t, data))
		case <-deadline:
			t.Fatalf("received %d messages %v, want %d", len(types), types, n)
		}
	}
	return types
}

// quiet asserts that no message arrives for d.
func (fs *fakeServer) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-fs.received:
		t.Errorf("unexpected message %q", messageType(t, data))
	case <-time.After(d):
	}
}

func messageType(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("server received non-JSON %q: %v", data, err)
	}
	return env.Type
}

// openHost records host calls and signals the first open connection.
type openHost struct {
	*mock.Host
	opened chan struct{}
	once   sync.Once
}

func newOpenHost() *openHost {
	return &openHost{Host: &mock.Host{}, opened: make(chan struct{})}
}

func (h *openHost) ConnectionChanged(ctx context.Context, open bool) {
	h.Host.ConnectionChanged(ctx, open)
	if open {
		h.once.Do(func() { close(h.opened) })
	}
}

func (h *openHost) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-h.opened:
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not open")
	}
}

// gatedSource holds back reads until gate is closed, so capture starts only
// once the connection is open.
type gatedSource struct {
	audio.Source
	gate   <-chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (g *gatedSource) Read(p []byte) (int, error) {
	select {
	case <-g.gate:
	case <-g.closed:
		return 0, io.EOF
	}
	return g.Source.Read(p)
}

func (g *gatedSource) Close() error {
	g.once.Do(func() { close(g.closed) })
	return g.Source.Close()
}

func gated(src audio.Source, gate <-chan struct{}) *gatedSource {
	return &gatedSource{Source: src, gate: gate, closed: make(chan struct{})}
}

func newEngine(t *testing.T, cfg session.Config) *session.Engine {
	t.Helper()
	e, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func engineConfig(t *testing.T, fs *fakeServer, src audio.Source, h *openHost) session.Config {
	t.Helper()
	return session.Config{
		Device:          &audiomock.Device{SourceResult: src},
		Host:            h,
		Vehicle:         telemetry.NewStore(telemetry.Default()),
		Transport:       transport.Config{URL: fs.url()},
		BlockSize:       blockSize,
		FrameBytes:      blockSize,
		EnergyThreshold: 30,
		SilenceDuration: time.Second,
		IdleTimeout:     2 * time.Second,
		Metrics:         testMetrics(t),
	}
}

// ── Engine ────────────────────────────────────────────────────────────────────

func TestEngine_TwoSecondsOfSpeech(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	// 2 s at 24 kHz mono s16le is 96000 bytes, i.e. 20 blocks of 4800.
	frames := make([][]byte, 20)
	for i := range frames {
		frames[i] = tone(blockSize, 1000)
	}
	src := gated(&audiomock.Source{Frames: frames, Interval: 5 * time.Millisecond}, h.opened)
	newEngine(t, engineConfig(t, fs, src, h))
	h.waitOpen(t)

	types := fs.collect(t, 21, 5*time.Second)
	if types[0] != "conversation.item.create" {
		t.Errorf("first message = %q, want conversation.item.create", types[0])
	}
	for i, typ := range types[1:] {
		if typ != "input_audio_buffer.append" {
			t.Errorf("message %d = %q, want input_audio_buffer.append", i+1, typ)
		}
	}
	fs.quiet(t, 200*time.Millisecond)
}

func TestEngine_TelemetryPayload(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	src := gated(&audiomock.Source{Frames: [][]byte{tone(blockSize, 1000)}}, h.opened)
	cfg := engineConfig(t, fs, src, h)
	cfg.Vehicle = telemetry.NewStore(telemetry.Presets[telemetry.PresetLVCC].Apply(telemetry.Default().WithTemperature(26)))
	newEngine(t, cfg)
	h.waitOpen(t)

	var first []byte
	select {
	case first = <-fs.received:
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}

	var msg struct {
		Type string `json:"type"`
		Item struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}
	if err := json.Unmarshal(first, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "conversation.item.create" || len(msg.Item.Content) != 1 {
		t.Fatalf("message = %s", first)
	}
	var status telemetry.VehicleStatus
	if err := json.Unmarshal([]byte(msg.Item.Content[0].Text), &status); err != nil {
		t.Fatalf("status text: %v", err)
	}
	if status.IndoorTemperature.Value != 26 || status.Address != "Las Vegas Convention Center" {
		t.Errorf("status = %+v", status)
	}
}

func TestEngine_AirControlNotifiesHostOnce(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	src := gated(&audiomock.Source{}, h.opened)
	cfg := engineConfig(t, fs, src, h)
	newEngine(t, cfg)
	h.waitOpen(t)

	fs.send <- []byte(`{"type":"tools.aircontrol","intent":{"aircontrol":{"temperature":24}}}`)

	deadline := time.Now().Add(3 * time.Second)
	for len(h.TemperatureCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := h.TemperatureCalls(); len(got) != 1 || got[0] != 24 {
		t.Errorf("TemperatureChanged calls = %v, want [24]", got)
	}
	if got := cfg.Vehicle.Load().TemperatureC; got != 24 {
		t.Errorf("vehicle temperature = %d, want 24", got)
	}
}

func TestEngine_SpeakingFollowsPlayback(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	sink := &audiomock.Sink{}
	src := gated(&audiomock.Source{}, h.opened)
	cfg := engineConfig(t, fs, src, h)
	cfg.Device = &audiomock.Device{SourceResult: src, SinkResult: sink}
	e := newEngine(t, cfg)
	h.waitOpen(t)

	pcm := tone(480, 500)
	fs.send <- audioDelta(pcm)

	deadline := time.Now().Add(time.Second)
	for !e.Speaking() {
		if time.Now().After(deadline) {
			t.Fatal("speaking flag never set")
		}
		time.Sleep(5 * time.Millisecond)
	}
	start := time.Now()

	for e.Speaking() {
		if time.Since(start) > cfg.IdleTimeout+100*time.Millisecond {
			t.Fatalf("speaking flag still set %s after the last fragment", time.Since(start))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if elapsed := time.Since(start); elapsed < 1800*time.Millisecond {
		t.Errorf("speaking cleared after %s, want about 2s", elapsed)
	}
	if sink.Written() != len(pcm) {
		t.Errorf("sink received %d bytes, want %d", sink.Written(), len(pcm))
	}
}

// audioDelta wraps pcm in a response.audio.delta message.
func audioDelta(pcm []byte) []byte {
	return []byte(`{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`)
}

// drain discards everything the server has received so far.
func (fs *fakeServer) drain() {
	for {
		select {
		case <-fs.received:
		default:
			return
		}
	}
}

func TestEngine_HalfDuplexWhileServerSpeaks(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	loud := func(int) []byte { return tone(blockSize, 1000) }
	src := gated(&audiomock.Source{Generate: loud, Interval: 10 * time.Millisecond}, h.opened)
	cfg := engineConfig(t, fs, src, h)
	cfg.IdleTimeout = 400 * time.Millisecond
	e := newEngine(t, cfg)
	h.waitOpen(t)

	types := fs.collect(t, 3, 3*time.Second)
	if types[0] != "conversation.item.create" {
		t.Fatalf("turn opened with %q, want conversation.item.create", types[0])
	}

	fs.send <- audioDelta(tone(480, 500))
	deadline := time.Now().Add(time.Second)
	for !e.Speaking() {
		if time.Now().After(deadline) {
			t.Fatal("speaking flag never set")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Blocks captured before the flag flipped may still be in flight.
	time.Sleep(50 * time.Millisecond)
	fs.drain()

	var after []string
	timeout := time.After(3 * time.Second)
	for len(after) < 2 {
		select {
		case data := <-fs.received:
			typ := messageType(t, data)
			if e.Speaking() {
				t.Fatalf("%s sent while server audio was playing", typ)
			}
			after = append(after, typ)
		case <-timeout:
			t.Fatalf("capture did not resume after playback, got %v", after)
		}
	}
	if after[0] != "conversation.item.create" || after[1] != "input_audio_buffer.append" {
		t.Errorf("after playback got %v, want telemetry then audio", after)
	}
}

func TestEngine_SilenceClosesTurn(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	// 5 loud frames, 40 quiet frames (about 400ms), then loud again.
	frame := func(n int) []byte {
		if n >= 5 && n < 45 {
			return tone(blockSize, 0)
		}
		return tone(blockSize, 1000)
	}
	src := gated(&audiomock.Source{Generate: frame, Interval: 10 * time.Millisecond}, h.opened)
	cfg := engineConfig(t, fs, src, h)
	cfg.SilenceDuration = 150 * time.Millisecond
	newEngine(t, cfg)
	h.waitOpen(t)

	var creates, appends, between int
	timeout := time.After(5 * time.Second)
	for creates < 2 {
		select {
		case data := <-fs.received:
			switch messageType(t, data) {
			case "conversation.item.create":
				creates++
				if creates == 2 {
					between = appends
				}
			case "input_audio_buffer.append":
				appends++
			}
		case <-timeout:
			t.Fatalf("saw %d turns and %d blocks, want a second turn after silence", creates, appends)
		}
	}

	// The first turn carries the loud frames and the quiet ones until the
	// silence duration elapses; the rest of the quiet stretch is dropped.
	if between < 5 || between >= 40 {
		t.Errorf("first turn sent %d blocks, want between 5 and 40", between)
	}
	types := fs.collect(t, 1, 3*time.Second)
	if types[0] != "input_audio_buffer.append" {
		t.Errorf("second turn continued with %q, want input_audio_buffer.append", types[0])
	}
}

func TestEngine_PauseSuppressesCapture(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	loud := func(int) []byte { return tone(blockSize, 1000) }
	src := gated(&audiomock.Source{Generate: loud, Interval: 10 * time.Millisecond}, h.opened)
	e, err := session.New(engineConfig(t, fs, src, h))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Pause()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	h.waitOpen(t)

	fs.quiet(t, 300*time.Millisecond)

	e.Resume()
	types := fs.collect(t, 3, 3*time.Second)
	if types[0] != "conversation.item.create" || types[1] != "input_audio_buffer.append" {
		t.Errorf("after resume got %v, want telemetry then audio", types)
	}
}

func TestEngine_DeviceUnavailable(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	cfg := engineConfig(t, fs, nil, h)
	cfg.Device = &audiomock.Device{SourceError: audio.ErrDeviceUnavailable}
	e, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
	select {
	case <-fs.queries:
		t.Error("server was contacted although the device failed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	h := newOpenHost()

	src := &audiomock.Source{}
	e := newEngine(t, engineConfig(t, fs, src, h))
	h.waitOpen(t)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Stop(); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()

	select {
	case <-e.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if e.State() != transport.StateDisconnected {
		t.Errorf("state after Stop = %s, want disconnected", e.State())
	}
	if src.CallCountClose == 0 {
		t.Error("capture device was not closed")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := session.New(session.Config{Transport: transport.Config{URL: "ws://host/ws"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"device", "host", "vehicle"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}
