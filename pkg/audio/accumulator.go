package audio

// Accumulator collects accepted capture frames into fixed-size network blocks.
//
// It is owned by the capture loop and is not safe for concurrent use.
type Accumulator struct {
	blockSize int
	buf       []byte
}

// NewAccumulator returns an Accumulator that emits blocks of exactly
// blockSize bytes. A non-positive blockSize falls back to [DefaultBlockSize].
func NewAccumulator(blockSize int) *Accumulator {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Accumulator{
		blockSize: blockSize,
		buf:       make([]byte, 0, 2*blockSize),
	}
}

// BlockSize returns the emitted block length in bytes.
func (a *Accumulator) BlockSize() int { return a.blockSize }

// Pending returns the number of buffered bytes not yet emitted. It is always
// less than BlockSize between calls to Push.
func (a *Accumulator) Pending() int { return len(a.buf) }

// Push feeds one frame into the accumulator.
//
// When accepted is false the frame was suppressed by the gate: everything
// buffered so far is discarded and nothing is emitted. When accepted is true
// the frame is appended and every complete block is returned in order; the
// remainder carries over to the next call. Returned slices are freshly
// allocated and owned by the caller.
func (a *Accumulator) Push(frame []byte, accepted bool) [][]byte {
	if !accepted {
		a.Reset()
		return nil
	}
	a.buf = append(a.buf, frame...)
	if len(a.buf) < a.blockSize {
		return nil
	}

	var blocks [][]byte
	off := 0
	for len(a.buf)-off >= a.blockSize {
		block := make([]byte, a.blockSize)
		copy(block, a.buf[off:off+a.blockSize])
		blocks = append(blocks, block)
		off += a.blockSize
	}
	rest := copy(a.buf, a.buf[off:])
	a.buf = a.buf[:rest]
	return blocks
}

// Reset drops any partially accumulated block. Partial blocks are never sent,
// including at stream shutdown.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
}
