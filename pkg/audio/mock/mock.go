// Package mock provides in-memory implementations of [audio.Device],
// [audio.Source], and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Frames: [][]byte{loud, loud, quiet}}
//	sink := &mock.Sink{}
//	dev := &mock.Device{SourceResult: src, SinkResult: sink}
package mock

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/dashvoice/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source].
//
// Read serves Frames in order, one frame per call. When Frames is exhausted
// it calls Generate (if set) for further frames; otherwise it blocks until
// Close and then returns [io.EOF]. Interval, when positive, paces reads to
// simulate device latency.
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive Read calls.
	Frames [][]byte

	// Generate produces frame n (0-based, counted after Frames) once Frames
	// is exhausted. Returning nil ends the stream.
	Generate func(n int) []byte

	// Interval is the simulated device period between reads.
	Interval time.Duration

	// ReadError, when non-nil, is returned by every Read.
	ReadError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos       int
	generated int
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *Source) done() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}

// Read implements [audio.Source].
func (s *Source) Read(p []byte) (int, error) {
	done := s.done()
	if s.Interval > 0 {
		select {
		case <-done:
			return 0, io.EOF
		case <-time.After(s.Interval):
		}
	}

	s.mu.Lock()
	s.CallCountRead++
	if s.ReadError != nil {
		err := s.ReadError
		s.mu.Unlock()
		return 0, err
	}
	var frame []byte
	switch {
	case s.pos < len(s.Frames):
		frame = s.Frames[s.pos]
		s.pos++
	case s.Generate != nil:
		frame = s.Generate(s.generated)
		s.generated++
	}
	s.mu.Unlock()

	if frame == nil {
		<-done
		return 0, io.EOF
	}
	return copy(p, frame), nil
}

// Close implements [audio.Source]. It unblocks pending reads.
func (s *Source) Close() error {
	done := s.done()
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(done) })
	return nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records everything written to it.
type Sink struct {
	mu sync.Mutex

	// WriteDelay, when positive, is slept before each Write returns.
	WriteDelay time.Duration

	// WriteError, when non-nil, is returned by every Write.
	WriteError error

	// Writes holds a copy of every buffer passed to Write, in order.
	Writes [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.Sink].
func (s *Sink) Write(p []byte) (int, error) {
	if s.WriteDelay > 0 {
		time.Sleep(s.WriteDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return 0, s.WriteError
	}
	s.Writes = append(s.Writes, append([]byte(nil), p...))
	return len(p), nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// WriteLog returns a copy of Writes.
func (s *Sink) WriteLog() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Writes...)
}

// Written returns the total number of bytes written so far.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.Writes {
		n += len(w)
	}
	return n
}

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock [audio.Device].
type Device struct {
	mu sync.Mutex

	// SourceResult is returned by OpenSource.
	SourceResult audio.Source

	// SinkResult is returned by OpenSink.
	SinkResult audio.Sink

	// SourceError is returned by OpenSource. Set it to simulate a missing
	// microphone.
	SourceError error

	// SinkError is returned by OpenSink.
	SinkError error

	// OpenSourceCalls records the format of every OpenSource call.
	OpenSourceCalls []audio.Format

	// OpenSinkCalls records the format of every OpenSink call.
	OpenSinkCalls []audio.Format
}

// OpenSource implements [audio.Device].
func (d *Device) OpenSource(f audio.Format) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenSourceCalls = append(d.OpenSourceCalls, f)
	if d.SourceError != nil {
		return nil, d.SourceError
	}
	if d.SourceResult == nil {
		return nil, errors.New("mock: no source configured")
	}
	return d.SourceResult, nil
}

// OpenSink implements [audio.Device].
func (d *Device) OpenSink(f audio.Format) (audio.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenSinkCalls = append(d.OpenSinkCalls, f)
	if d.SinkError != nil {
		return nil, d.SinkError
	}
	if d.SinkResult == nil {
		return &Sink{}, nil
	}
	return d.SinkResult, nil
}
