// Package session runs one half-duplex voice session: the capture loop that
// gates and accumulates microphone audio, the playback loop that drives the
// speaker and the "server speaking" flag, and the network loops that own the
// WebSocket and dispatch inbound messages.
//
// An [Engine] is a single session. A [Manager] enforces that at most one
// engine runs per process and carries host settings (endpoint, vehicle state,
// gate tuning) across sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dashvoice/internal/host"
	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/internal/router"
	"github.com/MrWong99/dashvoice/internal/transport"
	"github.com/MrWong99/dashvoice/pkg/audio"
	"github.com/MrWong99/dashvoice/pkg/protocol"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
	"github.com/MrWong99/dashvoice/pkg/vad"
)

// defaultFrameBytes is one capture read: 1024 samples of mono s16le.
const defaultFrameBytes = 2048

// Config holds everything an [Engine] needs. Device, Host, and Vehicle are
// required; zero values elsewhere take package defaults.
type Config struct {
	// Device opens the microphone and speaker in [Config.Format].
	Device audio.Device

	// Host receives control actions and connection status.
	Host host.Host

	// Vehicle is the shared telemetry snapshot. The engine reads it at each
	// turn start; the router updates the temperature.
	Vehicle *telemetry.Store

	// Transport configures the WebSocket client. OnStateChange and Metrics
	// are set by the engine.
	Transport transport.Config

	// Format is the wire PCM format. Defaults to [audio.DefaultFormat].
	Format audio.Format

	// BlockSize is the outbound block length in bytes.
	BlockSize int

	// FrameBytes is the size of one capture read.
	FrameBytes int

	// EnergyThreshold and SilenceDuration tune the voice-activity gate.
	EnergyThreshold float64
	SilenceDuration time.Duration

	// IdleTimeout is the playback gap that ends a server turn.
	IdleTimeout time.Duration

	// Watchdog enables the arrival-based speaking detector.
	Watchdog bool

	// PairingURL is opened with the assigned client id.
	PairingURL string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// gateParams is swapped atomically when the host retunes the gate.
type gateParams struct {
	gate    vad.Gate
	silence time.Duration
}

// Engine is one voice session. Create it with [New], call [Engine.Start]
// once, and [Engine.Stop] to tear it down. All methods are safe for
// concurrent use.
type Engine struct {
	cfg      Config
	metrics  *observe.Metrics
	client   *transport.Client
	playback *audio.PlaybackBuffer
	router   *router.Router

	gate      atomic.Pointer[gateParams]
	paused    atomic.Bool
	connected atomic.Int32 // -1 unknown, 0 closed, 1 open; last value reported to the host

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// New validates cfg and builds an idle engine.
func New(cfg Config) (*Engine, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("session: audio device is required"))
	}
	if cfg.Host == nil {
		errs = append(errs, errors.New("session: host is required"))
	}
	if cfg.Vehicle == nil {
		errs = append(errs, errors.New("session: vehicle store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat()
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = audio.DefaultBlockSize
	}
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = defaultFrameBytes
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = vad.DefaultSilenceDuration
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = audio.DefaultIdleTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	e := &Engine{
		cfg:     cfg,
		metrics: cfg.Metrics,
		done:    make(chan struct{}),
	}
	e.connected.Store(-1)
	e.SetVAD(cfg.EnergyThreshold, cfg.SilenceDuration)

	opts := []audio.PlaybackOption{
		audio.WithIdleTimeout(cfg.IdleTimeout),
		audio.WithOnSpeakingChange(e.speakingChanged),
	}
	if cfg.Watchdog {
		opts = append(opts, audio.WithArrivalWatchdog(cfg.IdleTimeout))
	}
	e.playback = audio.NewPlaybackBuffer(opts...)

	tcfg := cfg.Transport
	tcfg.OnStateChange = e.stateChanged
	tcfg.Metrics = cfg.Metrics
	client, err := transport.New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	e.client = client

	r, err := router.New(router.Config{
		Playback:   e.playback,
		Vehicle:    cfg.Vehicle,
		Host:       cfg.Host,
		Session:    e,
		PairingURL: cfg.PairingURL,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	e.router = r
	return e, nil
}

// Start acquires the capture and playback devices and launches the session
// loops in the background. A device that cannot be opened fails Start and
// nothing is left running. ctx bounds the whole session.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("session: engine already started")
	}

	src, err := e.cfg.Device.OpenSource(e.cfg.Format)
	if err != nil {
		return fmt.Errorf("session: open capture device: %w", err)
	}
	sink, err := e.cfg.Device.OpenSink(e.cfg.Format)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("session: open playback device: %w", err)
	}

	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.capture(gctx, src) })
	g.Go(func() error { return e.playback.Run(gctx, sink) })
	g.Go(func() error { return e.client.Run(gctx) })
	g.Go(func() error { return e.router.Run(gctx, e.client.Inbound()) })
	g.Go(func() error {
		// Unblocks a capture read that is waiting on the device.
		<-gctx.Done()
		return src.Close()
	})

	go func() {
		err := g.Wait()
		if cerr := sink.Close(); cerr != nil {
			slog.Warn("session: close playback device", "err", cerr)
		}
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		if err != nil {
			slog.Error("session: stopped with error", "err", err)
		}
		close(e.done)
	}()

	slog.Info("session started",
		"format", e.cfg.Format,
		"block_size", e.cfg.BlockSize,
		"energy_threshold", e.gate.Load().gate.Threshold(),
		"silence_duration", e.cfg.SilenceDuration,
		"idle_timeout", e.cfg.IdleTimeout,
		"watchdog", e.cfg.Watchdog,
	)
	return nil
}

// Stop cancels every loop, waits for them to exit, and returns the first
// loop error, if any. It is idempotent and safe to call from several
// goroutines; Stop on an engine that was never started returns nil.
func (e *Engine) Stop() error {
	e.mu.Lock()
	started, cancel := e.started, e.cancel
	e.mu.Unlock()
	if !started {
		return nil
	}

	e.stopOnce.Do(func() {
		cancel()
		slog.Info("session stopping")
	})
	<-e.done

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Done is closed once every loop of a started engine has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the error that ended the session, once Done is closed.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Pause suppresses capture without touching the connection.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		slog.Info("session: capture paused")
	}
}

// Resume lifts a pause set by [Engine.Pause].
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		slog.Info("session: capture resumed")
	}
}

// Paused reports whether capture is paused by the host.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Speaking reports whether server audio is playing.
func (e *Engine) Speaking() bool { return e.playback.Speaking() }

// State returns the connection state.
func (e *Engine) State() transport.State { return e.client.State() }

// ClientID returns the identifier used on the session URL.
func (e *Engine) ClientID() string { return e.client.ClientID() }

// SetClientID stores the identifier for future reconnects.
func (e *Engine) SetClientID(id string) { e.client.SetClientID(id) }

// UpdateEndpoint replaces the endpoint and forces a reconnect.
func (e *Engine) UpdateEndpoint(rawURL, token string) error {
	return e.client.UpdateEndpoint(rawURL, token)
}

// SetVAD retunes the voice-activity gate. A non-positive threshold or
// duration takes the package default.
func (e *Engine) SetVAD(threshold float64, silence time.Duration) {
	if silence <= 0 {
		silence = vad.DefaultSilenceDuration
	}
	e.gate.Store(&gateParams{gate: vad.New(threshold), silence: silence})
}

// capture is the capture loop. It reads frames until ctx is cancelled,
// derives the gate state per frame, and sends every complete block. The
// first block of each turn is preceded by the vehicle status.
func (e *Engine) capture(ctx context.Context, src audio.Source) error {
	acc := audio.NewAccumulator(e.cfg.BlockSize)
	buf := make([]byte, e.cfg.FrameBytes)
	var silence vad.SilenceState
	turnOpen := false
	last := audio.GateListening

	for {
		n, err := src.Read(buf)
		if ctx.Err() != nil {
			// Partial blocks are dropped at shutdown.
			return nil
		}
		if err != nil {
			return fmt.Errorf("session: capture read: %w", err)
		}
		frame := buf[:n]

		params := e.gate.Load()
		silence = vad.UpdateSilence(silence, params.gate.Classify(frame), time.Now())
		state := audio.DeriveGate(vad.IsSilentFor(silence, params.silence), e.playback.Speaking(), e.paused.Load())
		if state != last {
			slog.Debug("session: gate changed", "from", last, "to", state)
			last = state
		}

		if !state.Accepting() {
			acc.Push(nil, false)
			turnOpen = false
			continue
		}

		for _, block := range acc.Push(frame, true) {
			if !turnOpen {
				if !e.sendStatus(ctx) {
					continue
				}
				turnOpen = true
				e.metrics.Turns.Add(ctx, 1)
			}
			e.send(protocol.TypeAudioAppend, protocol.NewAudioAppend(block))
		}
	}
}

// sendStatus sends the current vehicle status and reports whether it was
// accepted by the transport.
func (e *Engine) sendStatus(ctx context.Context) bool {
	text, err := e.cfg.Vehicle.Load().StatusText(time.Now())
	if err != nil {
		slog.Warn("session: encode vehicle status", "err", err)
		return false
	}
	return e.send(protocol.TypeConversationItemCreate, protocol.NewUserText(text))
}

// send marshals and queues one message. Failures drop the message.
func (e *Engine) send(typ protocol.Type, v any) bool {
	data, err := protocol.Marshal(v)
	if err != nil {
		slog.Warn("session: marshal outbound", "type", typ, "err", err)
		return false
	}
	if err := e.client.Send(string(typ), data); err != nil {
		slog.Debug("session: outbound dropped", "type", typ, "err", err)
		return false
	}
	return true
}

// speakingChanged runs on the playback goroutine.
func (e *Engine) speakingChanged(speaking bool) {
	delta := int64(-1)
	if speaking {
		delta = 1
	}
	e.metrics.ServerSpeaking.Add(context.Background(), delta)
	slog.Debug("session: server speaking", "speaking", speaking)
}

// stateChanged forwards open/closed transitions to the host, collapsing
// repeated failures into one notification.
func (e *Engine) stateChanged(s transport.State) {
	var open int32
	switch s {
	case transport.StateOpen:
		open = 1
	case transport.StateDisconnected:
		open = 0
	default:
		return
	}
	if e.connected.Swap(open) == open {
		return
	}
	e.cfg.Host.ConnectionChanged(context.Background(), open == 1)
}

var _ router.Session = (*Engine)(nil)

