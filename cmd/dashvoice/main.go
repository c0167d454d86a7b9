// Command dashvoice is the main entry point for the in-car voice session
// client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/dashvoice/internal/config"
	"github.com/MrWong99/dashvoice/internal/control"
	"github.com/MrWong99/dashvoice/internal/health"
	"github.com/MrWong99/dashvoice/internal/host"
	"github.com/MrWong99/dashvoice/internal/observe"
	"github.com/MrWong99/dashvoice/internal/session"
	"github.com/MrWong99/dashvoice/internal/transport"
	"github.com/MrWong99/dashvoice/pkg/audio"
	"github.com/MrWong99/dashvoice/pkg/audio/portaudio"
	"github.com/MrWong99/dashvoice/pkg/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is set once the config is loaded and follows hot reloads.
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level))

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dashvoice: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dashvoice: %v\n", err)
		}
		return 1
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("dashvoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelProvider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dashvoice",
		ServiceVersion: version,
		RuntimeMetrics: true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry provider", "err", err)
		return 1
	}
	metrics := otelProvider.Metrics()

	// ── Audio device ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinDevices(reg)
	device, err := reg.CreateDevice(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio device", "device", cfg.Audio.Device, "registered", reg.Names(), "err", err)
		return 1
	}

	// ── Session manager ───────────────────────────────────────────────────────
	snapshot, err := cfg.Vehicle.Snapshot()
	if err != nil {
		slog.Error("invalid vehicle configuration", "err", err)
		return 1
	}
	launcher := host.NewLauncher(cfg.Host.OpenCommand, host.WithMetrics(metrics))
	mgr, err := session.NewManager(sessionConfig(cfg, device, launcher, telemetry.NewStore(snapshot), metrics))
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config, d config.ConfigDiff) {
			applyReload(level, mgr, newCfg, d)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	hh := health.New(health.Checker{
		Name: "session",
		Check: func(context.Context) error {
			st := mgr.Status()
			if st.Active && st.State != transport.StateOpen {
				return fmt.Errorf("connection %s", st.State)
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	hh.Register(mux)
	control.New(mgr, control.WithMetrics(metrics)).Register(mux)
	mux.Handle("GET /metrics", otelProvider.MetricsHandler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	if cfg.Session.AutoStart {
		if err := mgr.Start(ctx); err != nil {
			slog.Error("auto start failed", "err", err)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		slog.Error("http server error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := mgr.Stop(); err != nil && !errors.Is(err, session.ErrNotActive) {
		slog.Warn("session stop error", "err", err)
	}
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry provider shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Device wiring ─────────────────────────────────────────────────────────────

// registerBuiltinDevices wires all built-in audio device factories into reg.
func registerBuiltinDevices(reg *config.Registry) {
	reg.RegisterDevice(config.DefaultAudioDevice, func(a config.AudioConfig) (audio.Device, error) {
		return portaudio.New(portaudio.Config{
			Hardware:        a.HardwareFormat(),
			FramesPerBuffer: a.FramesPerBuffer,
		}), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered audio device", "name", name)
	}
}

// sessionConfig maps the file configuration onto the session engine.
func sessionConfig(cfg *config.Config, device audio.Device, h host.Host, vehicle *telemetry.Store, m *observe.Metrics) session.Config {
	return session.Config{
		Device:  device,
		Host:    h,
		Vehicle: vehicle,
		Transport: transport.Config{
			URL:            cfg.Session.URL,
			ClientID:       cfg.Session.ClientID,
			Token:          cfg.Session.Token,
			ReconnectDelay: cfg.Session.ReconnectDelay,
			SendTimeout:    cfg.Session.SendTimeout,
		},
		Format:          cfg.Audio.WireFormat(),
		BlockSize:       cfg.Audio.BlockSize,
		FrameBytes:      cfg.Audio.FramesPerBuffer * audio.BytesPerSample * audio.DefaultChannels,
		EnergyThreshold: cfg.VAD.EnergyThreshold,
		SilenceDuration: cfg.VAD.SilenceDuration,
		IdleTimeout:     cfg.Playback.IdleTimeout,
		Watchdog:        cfg.Playback.Watchdog,
		PairingURL:      cfg.Session.PairingURL,
		Metrics:         m,
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// reloadTarget is the part of [session.Manager] a config reload touches.
type reloadTarget interface {
	SetClientID(id string)
	UpdateEndpoint(rawURL, token string) error
	Vehicle() *telemetry.Store
	SetVehicle(s telemetry.Snapshot) error
	SetVAD(threshold float64, silence time.Duration)
}

var _ reloadTarget = (*session.Manager)(nil)

// applyReload pushes hot-reloadable changes into the running process.
func applyReload(level *slog.LevelVar, mgr reloadTarget, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "log_level", d.NewLogLevel)
	}
	if d.NewClientID != "" {
		mgr.SetClientID(d.NewClientID)
		slog.Info("config reload: client id set", "client_id", d.NewClientID)
	}
	if d.EndpointChanged {
		if err := mgr.UpdateEndpoint(cfg.Session.URL, cfg.Session.Token); err != nil {
			slog.Error("config reload: endpoint update failed", "err", err)
		}
	}
	if d.VehicleChanged {
		snap, err := cfg.Vehicle.Apply(mgr.Vehicle().Load())
		if err == nil {
			err = mgr.SetVehicle(snap)
		}
		if err != nil {
			slog.Error("config reload: vehicle update failed", "err", err)
		}
	}
	if d.VADChanged {
		mgr.SetVAD(cfg.VAD.EnergyThreshold, cfg.VAD.SilenceDuration)
		slog.Info("config reload: vad retuned",
			"energy_threshold", cfg.VAD.EnergyThreshold,
			"silence_duration", cfg.VAD.SilenceDuration,
		)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        dashvoice: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Endpoint", redact(cfg.Session.URL))
	printField("Audio device", cfg.Audio.Device)
	printField("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printField("Block size", fmt.Sprintf("%d bytes", cfg.Audio.BlockSize))
	printField("VAD threshold", fmt.Sprintf("%.0f / %s", cfg.VAD.EnergyThreshold, cfg.VAD.SilenceDuration))
	if cfg.Playback.Watchdog {
		printField("Speaking", "queue + watchdog")
	} else {
		printField("Speaking", "queue timeout")
	}
	if cfg.Session.AutoStart {
		printField("Auto start", "yes")
	} else {
		printField("Auto start", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// redact reduces the endpoint to its host; the query may carry the token.
func redact(raw string) string {
	u, err := transport.ValidateURL(raw)
	if err != nil {
		return "(invalid)"
	}
	return u.Host
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
