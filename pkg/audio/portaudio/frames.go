package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// blockWriter plays the buffer it was opened with. *portaudio.Stream
// satisfies it.
type blockWriter interface {
	Write() error
}

// frameWriter packs s16le bytes into a fixed-size device buffer. The buffer
// is handed to the stream only when full; a partial buffer waits for the
// next Write and is padded with silence only by flush.
type frameWriter struct {
	mu     sync.Mutex
	stream blockWriter
	buf    []int16
	fill   int
}

func newFrameWriter(stream blockWriter, buf []int16) *frameWriter {
	return &frameWriter{stream: stream, buf: buf}
}

// Write consumes whole samples from p. A trailing odd byte is ignored.
func (w *frameWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for off := 0; off+1 < len(p); off += 2 {
		w.buf[w.fill] = int16(binary.LittleEndian.Uint16(p[off:]))
		w.fill++
		if w.fill < len(w.buf) {
			continue
		}
		w.fill = 0
		if err := w.stream.Write(); err != nil {
			return off + 2, fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return len(p), nil
}

// flush plays a pending partial buffer, zero-padded to full length.
func (w *frameWriter) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fill == 0 {
		return nil
	}
	clear(w.buf[w.fill:])
	w.fill = 0
	if err := w.stream.Write(); err != nil {
		return fmt.Errorf("portaudio: flush: %w", err)
	}
	return nil
}
