package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrWong99/dashvoice/internal/transport"
	"github.com/MrWong99/dashvoice/pkg/audio"
	"github.com/MrWong99/dashvoice/pkg/vad"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultSessionURL     = "ws://192.168.1.100:3000/ws"
	DefaultAudioDevice    = "portaudio"
	DefaultIdleTimeout    = 2 * time.Second
	DefaultSendTimeout    = 5 * time.Second
	DefaultFramesPerBlock = 1024
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. An empty document yields the default configuration.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults. Vehicle
// readings are left nil; [VehicleConfig.Apply] overlays them on
// [telemetry.Default].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Session.URL == "" {
		cfg.Session.URL = DefaultSessionURL
	}
	if cfg.Session.ReconnectDelay == 0 {
		cfg.Session.ReconnectDelay = transport.DefaultReconnectDelay
	}
	if cfg.Session.SendTimeout == 0 {
		cfg.Session.SendTimeout = DefaultSendTimeout
	}

	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DefaultAudioDevice
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = audio.DefaultBlockSize
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = DefaultFramesPerBlock
	}

	if cfg.VAD.EnergyThreshold == 0 {
		cfg.VAD.EnergyThreshold = vad.DefaultEnergyThreshold
	}
	if cfg.VAD.SilenceDuration == 0 {
		cfg.VAD.SilenceDuration = vad.DefaultSilenceDuration
	}

	if cfg.Playback.IdleTimeout == 0 {
		cfg.Playback.IdleTimeout = DefaultIdleTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is configured"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is configured"))
		}
	}

	// Session
	if _, err := transport.ValidateURL(cfg.Session.URL); err != nil {
		errs = append(errs, fmt.Errorf("session.url: %w", err))
	}
	if cfg.Session.PairingURL != "" {
		if _, err := validateHTTPURL(cfg.Session.PairingURL); err != nil {
			errs = append(errs, fmt.Errorf("session.pairing_url: %w", err))
		}
	}
	if cfg.Session.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("session.reconnect_delay %s must not be negative", cfg.Session.ReconnectDelay))
	}
	if cfg.Session.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.send_timeout %s must not be negative", cfg.Session.SendTimeout))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockSize <= 0 || cfg.Audio.BlockSize%audio.BytesPerSample != 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be a positive multiple of %d", cfg.Audio.BlockSize, audio.BytesPerSample))
	}
	if cfg.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must not be negative", cfg.Audio.FramesPerBuffer))
	}
	if cfg.Audio.DeviceSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_sample_rate %d must not be negative", cfg.Audio.DeviceSampleRate))
	}
	if ch := cfg.Audio.DeviceChannels; ch != 0 && ch != 1 && ch != 2 {
		errs = append(errs, fmt.Errorf("audio.device_channels %d is invalid; valid values: 1, 2", ch))
	}

	// VAD
	if cfg.VAD.EnergyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.2f must be positive", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_duration %s must be positive", cfg.VAD.SilenceDuration))
	}

	// Playback
	if cfg.Playback.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("playback.idle_timeout %s must be positive", cfg.Playback.IdleTimeout))
	}

	// Vehicle
	if err := cfg.Vehicle.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// WireFormat returns the PCM format exchanged with the remote service.
func (a AudioConfig) WireFormat() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, Channels: audio.DefaultChannels}
}

// HardwareFormat returns the format the device is opened with.
func (a AudioConfig) HardwareFormat() audio.Format {
	f := a.WireFormat()
	if a.DeviceSampleRate > 0 {
		f.SampleRate = a.DeviceSampleRate
	}
	if a.DeviceChannels > 0 {
		f.Channels = a.DeviceChannels
	}
	return f
}
