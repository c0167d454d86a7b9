// Package config provides the configuration schema, loader, hot-reload
// watcher, and audio device registry for dashvoice.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the dashvoice server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for dashvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Playback PlaybackConfig `yaml:"playback"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Host     HostConfig     `yaml:"host"`
}

// ServerConfig holds network and logging settings for the control server.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SessionConfig describes the conversational service endpoint.
type SessionConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string `yaml:"url"`

	// ClientID is a previously assigned client identifier to resume with.
	ClientID string `yaml:"client_id"`

	// Token is the opaque bearer token carried on the session URL.
	Token string `yaml:"token"`

	// PairingURL is opened with the client id when the server assigns one.
	// Empty disables pairing.
	PairingURL string `yaml:"pairing_url"`

	// ReconnectDelay is the fixed wait before reconnecting.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// SendTimeout bounds a single WebSocket write.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// AutoStart starts a session as soon as the process is up.
	AutoStart bool `yaml:"auto_start"`
}

// AudioConfig selects the PCM device and the wire format.
type AudioConfig struct {
	// Device is the name of a device registered in the [Registry]
	// (e.g., "portaudio").
	Device string `yaml:"device"`

	// SampleRate is the wire sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the outbound block length in bytes.
	BlockSize int `yaml:"block_size"`

	// FramesPerBuffer is the device buffer length in sample frames.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// DeviceSampleRate and DeviceChannels describe the hardware format when
	// it differs from the wire format. Zero means same as the wire.
	DeviceSampleRate int `yaml:"device_sample_rate"`
	DeviceChannels   int `yaml:"device_channels"`
}

// VADConfig tunes the voice-activity gate.
type VADConfig struct {
	// EnergyThreshold is the RMS level below which a frame is silent.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SilenceDuration is how long silence must last before capture stops
	// forwarding frames.
	SilenceDuration time.Duration `yaml:"silence_duration"`
}

// PlaybackConfig tunes the speaking-state detector.
type PlaybackConfig struct {
	// IdleTimeout is the playback gap that ends a server turn.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Watchdog enables the arrival-based detector in addition to the queue
	// timeout, using the same period.
	Watchdog bool `yaml:"watchdog"`
}

// VehicleConfig is the initial telemetry snapshot. Nil numeric fields take
// their defaults.
type VehicleConfig struct {
	TemperatureC *int           `yaml:"temperature_c" json:"temperature_c,omitempty"`
	SpeedKmh     *int           `yaml:"speed_kmh" json:"speed_kmh,omitempty"`
	FuelPct      *int           `yaml:"fuel_pct" json:"fuel_pct,omitempty"`
	Location     LocationConfig `yaml:"location" json:"location"`

	// Address overrides the preset name or the "Unknown" fallback.
	Address string `yaml:"address" json:"address,omitempty"`

	// Timezone is an IANA zone name for status timestamps. Empty means UTC.
	Timezone string `yaml:"timezone" json:"timezone,omitempty"`
}

// LocationConfig is either a preset key or explicit coordinates. In YAML it
// is written as a scalar (location: lvcc) or a mapping
// (location: {latitude: 1.5, longitude: 2.5}).
type LocationConfig struct {
	Preset    string
	Latitude  float64
	Longitude float64
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (l *LocationConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = LocationConfig{Preset: value.Value}
		return nil
	case yaml.MappingNode:
		var coords struct {
			Latitude  float64 `yaml:"latitude"`
			Longitude float64 `yaml:"longitude"`
		}
		if err := value.Decode(&coords); err != nil {
			return err
		}
		*l = LocationConfig{Latitude: coords.Latitude, Longitude: coords.Longitude}
		return nil
	default:
		return fmt.Errorf("line %d: location must be a preset name or a latitude/longitude mapping", value.Line)
	}
}

// MarshalYAML implements [yaml.Marshaler].
func (l LocationConfig) MarshalYAML() (any, error) {
	if l.Preset != "" {
		return l.Preset, nil
	}
	return map[string]float64{"latitude": l.Latitude, "longitude": l.Longitude}, nil
}

// HostConfig configures the desktop host capabilities.
type HostConfig struct {
	// OpenCommand launches URLs. Empty selects the platform opener; "none"
	// only logs them.
	OpenCommand string `yaml:"open_command"`
}
