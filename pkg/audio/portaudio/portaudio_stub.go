//go:build !portaudio

package portaudio

import (
	"fmt"

	"github.com/MrWong99/dashvoice/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Device is a placeholder used when the binary is built without the
// "portaudio" tag.
type Device struct {
	cfg Config
}

// New returns a device that cannot open any stream.
func New(cfg Config) *Device {
	return &Device{cfg: cfg}
}

// OpenSource implements [audio.Device]. It always fails.
func (d *Device) OpenSource(f audio.Format) (audio.Source, error) {
	return nil, fmt.Errorf("portaudio: capture %s: %w (rebuild with -tags portaudio)", d.cfg.withDefaults(f).Hardware, audio.ErrDeviceUnavailable)
}

// OpenSink implements [audio.Device]. It always fails.
func (d *Device) OpenSink(f audio.Format) (audio.Sink, error) {
	return nil, fmt.Errorf("portaudio: playback %s: %w (rebuild with -tags portaudio)", d.cfg.withDefaults(f).Hardware, audio.ErrDeviceUnavailable)
}
