package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Convert returns pcm re-encoded from format from to format to. Only mono and
// stereo are supported; rate conversion uses linear interpolation. When the
// formats match, pcm is returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to {
		return pcm
	}
	mono := pcm
	if from.Channels == 2 {
		mono = StereoToMono(pcm)
	}
	mono = ResampleMono16(mono, from.SampleRate, to.SampleRate)
	if to.Channels == 2 {
		return MonoToStereo(mono)
	}
	return mono
}

// MonoToStereo duplicates each s16le mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := binary.LittleEndian.Uint16(pcm[2*i:])
		binary.LittleEndian.PutUint16(out[4*i:], s)
		binary.LittleEndian.PutUint16(out[4*i+2:], s)
	}
	return out
}

// StereoToMono averages the L and R samples of each s16le frame.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[4*i:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[4*i+2:])))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples s16le mono PCM from srcRate to dstRate with linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcN := len(pcm) / 2
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	sample := func(i int) float64 {
		if i >= srcN {
			i = srcN - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	out := make([]byte, dstN*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstN; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// ── Device format adapters ───────────────────────────────────────────────────

// ConvertingSource wraps a Source opened in a hardware format and presents
// it in the wire format. Read returns whatever one underlying read yields
// after conversion, so callers see variable-length frames.
type ConvertingSource struct {
	src    Source
	hw     Format
	wire   Format
	buf    []byte
	carry  []byte
	logged sync.Once
}

// NewConvertingSource returns src unchanged when hw equals wire.
func NewConvertingSource(src Source, hw, wire Format) Source {
	if hw == wire {
		return src
	}
	return &ConvertingSource{src: src, hw: hw, wire: wire}
}

// Read implements [Source].
func (c *ConvertingSource) Read(p []byte) (int, error) {
	c.logged.Do(func() {
		slog.Info("audio: converting capture format", "device", c.hw, "wire", c.wire)
	})
	if len(c.carry) == 0 {
		// Size the device read so the converted output fits into p.
		want := len(p) * c.hw.BytesPerSecond() / max(c.wire.BytesPerSecond(), 1)
		want -= want % (BytesPerSample * max(c.hw.Channels, 1))
		if want <= 0 {
			return 0, fmt.Errorf("audio: read buffer too small (%d bytes)", len(p))
		}
		if cap(c.buf) < want {
			c.buf = make([]byte, want)
		}
		n, err := c.src.Read(c.buf[:want])
		if n == 0 {
			return 0, err
		}
		c.carry = Convert(c.buf[:n], c.hw, c.wire)
	}
	n := copy(p, c.carry)
	c.carry = c.carry[n:]
	return n, nil
}

// Close implements [Source].
func (c *ConvertingSource) Close() error { return c.src.Close() }

// ConvertingSink converts wire-format PCM to the hardware format before
// writing it to the wrapped Sink.
type ConvertingSink struct {
	sink Sink
	hw   Format
	wire Format
}

// NewConvertingSink returns sink unchanged when hw equals wire.
func NewConvertingSink(sink Sink, hw, wire Format) Sink {
	if hw == wire {
		return sink
	}
	return &ConvertingSink{sink: sink, hw: hw, wire: wire}
}

// Write implements [Sink]. It reports len(p) on success.
func (c *ConvertingSink) Write(p []byte) (int, error) {
	if _, err := c.sink.Write(Convert(p, c.wire, c.hw)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements [Sink].
func (c *ConvertingSink) Close() error { return c.sink.Close() }

// String formats f as e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
