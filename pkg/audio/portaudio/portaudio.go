//go:build portaudio

package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/dashvoice/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Device opens PortAudio default streams.
type Device struct {
	cfg Config
}

// New returns a PortAudio-backed device.
func New(cfg Config) *Device {
	return &Device{cfg: cfg}
}

// OpenSource implements [audio.Device].
func (d *Device) OpenSource(f audio.Format) (audio.Source, error) {
	cfg := d.cfg.withDefaults(f)
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]int16, cfg.FramesPerBuffer*cfg.Hardware.Channels)
	stream, err := pa.OpenDefaultStream(cfg.Hardware.Channels, 0, float64(cfg.Hardware.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: open input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: start input: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	slog.Info("microphone started", "format", cfg.Hardware, "frames_per_buffer", cfg.FramesPerBuffer)
	src := &source{stream: stream, buf: buf}
	return audio.NewConvertingSource(src, cfg.Hardware, f), nil
}

// OpenSink implements [audio.Device].
func (d *Device) OpenSink(f audio.Format) (audio.Sink, error) {
	cfg := d.cfg.withDefaults(f)
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]int16, cfg.FramesPerBuffer*cfg.Hardware.Channels)
	stream, err := pa.OpenDefaultStream(0, cfg.Hardware.Channels, float64(cfg.Hardware.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: open output: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("portaudio: start output: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	slog.Info("speaker started", "format", cfg.Hardware, "frames_per_buffer", cfg.FramesPerBuffer)
	sink := &sink{frameWriter: newFrameWriter(stream, buf), stream: stream}
	return audio.NewConvertingSink(sink, cfg.Hardware, f), nil
}

// ── Streams ───────────────────────────────────────────────────────────────────

type source struct {
	stream    *pa.Stream
	buf       []int16
	closeOnce sync.Once
}

// Read blocks for one device buffer and copies it into p as s16le.
func (s *source) Read(p []byte) (int, error) {
	if err := s.stream.Read(); err != nil {
		return 0, fmt.Errorf("portaudio: read: %w", err)
	}
	n := min(len(s.buf), len(p)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(p[2*i:], uint16(s.buf[i]))
	}
	return 2 * n, nil
}

func (s *source) Close() error {
	var err error
	s.closeOnce.Do(func() { err = closeStream(s.stream) })
	return err
}

// sink plays through a [frameWriter]; the last partial buffer is flushed on
// Close.
type sink struct {
	*frameWriter
	stream    *pa.Stream
	closeOnce sync.Once
}

func (s *sink) Close() error {
	var err error
	s.closeOnce.Do(func() { err = errors.Join(s.flush(), closeStream(s.stream)) })
	return err
}

func closeStream(stream *pa.Stream) error {
	stopErr := stream.Stop()
	closeErr := stream.Close()
	pa.Terminate()
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close: %w", closeErr)
	}
	return nil
}
