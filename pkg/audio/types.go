package audio

import "time"

// Default wire format: 24 kHz, mono, signed 16-bit little-endian.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	BytesPerSample    = 2

	// DefaultBlockSize is the outbound network unit, 100 ms at the default format.
	DefaultBlockSize = 4800
)

// Format describes a raw linear PCM stream. Samples are always s16le.
type Format struct {
	// SampleRate in Hz (e.g., 24000).
	SampleRate int

	// Channels: 1 for mono.
	Channels int
}

// DefaultFormat returns the 24 kHz mono format used on the wire.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns how long n bytes of audio last in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// AudioFrame is one buffer read from a capture device. Frames are ephemeral:
// the capture loop hands them to the gate and the accumulator and then
// reuses the backing array.
type AudioFrame struct {
	// PCM audio data in the stream's [Format].
	Data []byte

	// Captured is the wall-clock time the read returned.
	Captured time.Time
}

// PlaybackItem is a decoded fragment waiting in a [PlaybackBuffer].
type PlaybackItem struct {
	// PCM is raw s16le audio at the session's format.
	PCM []byte

	// Arrived marks when the fragment was enqueued.
	Arrived time.Time
}
