// Package audio holds the PCM data path of a voice session: device
// abstractions, the capture-side block accumulator, the playback queue that
// drives the "server is speaking" signal, and the half-duplex gate state.
//
// The device interfaces are deliberately narrow: a [Source] is a blocking
// reader of microphone PCM and a [Sink] is a blocking writer of speaker PCM.
// Concrete devices live in adapter packages (e.g., audio/portaudio); tests use
// audio/mock.
package audio

import "errors"

// ErrDeviceUnavailable is returned (wrapped) by a [Device] that cannot
// acquire the requested capture or playback hardware.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Source is a blocking reader of captured PCM in the format it was opened with.
//
// Read fills p with whole samples and returns the number of bytes written.
// It blocks for at most one device buffer period. After Close, Read returns
// an error.
type Source interface {
	Read(p []byte) (int, error)
	Close() error
}

// Sink is a blocking writer of PCM to an output device.
//
// Write may block until the device has room for p. Implementations must
// accept arbitrary lengths that are a multiple of the sample size.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// Device opens capture and playback streams. Implementations must be safe for
// concurrent use. Errors wrap [ErrDeviceUnavailable] when the hardware cannot
// be acquired.
type Device interface {
	// OpenSource starts capture in format f.
	OpenSource(f Format) (Source, error)

	// OpenSink starts playback in format f.
	OpenSink(f Format) (Sink, error)
}
