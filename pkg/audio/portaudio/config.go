// Package portaudio provides an [audio.Device] backed by the system's default
// PortAudio input and output devices.
//
// The real implementation is compiled only with the "portaudio" build tag,
// since it links against the PortAudio C library. Without the tag, [New]
// returns a device whose Open methods fail with [audio.ErrDeviceUnavailable].
package portaudio

import "github.com/MrWong99/dashvoice/pkg/audio"

// defaultFramesPerBuffer is 20 ms at 24 kHz.
const defaultFramesPerBuffer = 480

// Config selects the hardware stream parameters.
type Config struct {
	// Hardware is the format the device is opened with. When zero, the
	// requested wire format is used directly. When it differs, samples are
	// converted on the fly.
	Hardware audio.Format

	// FramesPerBuffer is the PortAudio buffer length in frames.
	FramesPerBuffer int
}

func (c Config) withDefaults(wire audio.Format) Config {
	if c.Hardware.SampleRate <= 0 {
		c.Hardware.SampleRate = wire.SampleRate
	}
	if c.Hardware.Channels <= 0 {
		c.Hardware.Channels = wire.Channels
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = defaultFramesPerBuffer
	}
	return c
}
