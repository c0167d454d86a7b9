package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default playback parameters.
const (
	// DefaultIdleTimeout is the playback gap after which the server is
	// considered to have finished speaking.
	DefaultIdleTimeout = 2 * time.Second

	// defaultChunkSize bounds a single Sink.Write so an interrupt can take
	// effect mid-fragment (20 ms at the default format).
	defaultChunkSize = 960
)

var (
	errIdle        = errors.New("audio: playback idle")
	errInterrupted = errors.New("audio: playback interrupted")
)

// PlaybackBuffer is a FIFO of decoded fragments with a single consumer loop
// that writes them to a [Sink] and owns the "server speaking" flag.
//
// Producers call [PlaybackBuffer.Enqueue] from any goroutine; it never blocks.
// Exactly one goroutine runs [PlaybackBuffer.Run]. The speaking flag is set
// true when the consumer takes an item and false when a dequeue waits for the
// idle timeout without receiving one. [PlaybackBuffer.ClearAndStop] drops the
// queue and cuts off the fragment currently being written.
type PlaybackBuffer struct {
	idleTimeout time.Duration
	watchdog    time.Duration
	chunkSize   int
	onSpeaking  func(bool)

	mu    sync.Mutex
	items []PlaybackItem

	wake chan struct{}
	gen  atomic.Uint64

	speaking    atomic.Bool
	lastArrival atomic.Int64
	running     atomic.Bool
}

// PlaybackOption configures a [PlaybackBuffer].
type PlaybackOption func(*PlaybackBuffer)

// WithIdleTimeout sets how long the consumer waits for a fragment before
// clearing the speaking flag. Defaults to [DefaultIdleTimeout].
func WithIdleTimeout(d time.Duration) PlaybackOption {
	return func(b *PlaybackBuffer) {
		if d > 0 {
			b.idleTimeout = d
		}
	}
}

// WithArrivalWatchdog enables the secondary arrival-based detector: Speaking
// stays true until no fragment has been enqueued for d, in addition to the
// queue-timeout rule. Disabled by default.
func WithArrivalWatchdog(d time.Duration) PlaybackOption {
	return func(b *PlaybackBuffer) { b.watchdog = d }
}

// WithChunkSize sets the maximum number of bytes passed to a single
// Sink.Write. It is rounded down to whole samples.
func WithChunkSize(n int) PlaybackOption {
	return func(b *PlaybackBuffer) {
		n -= n % BytesPerSample
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithOnSpeakingChange registers fn to be called from the consumer goroutine
// whenever the queue-timeout speaking flag flips. fn must not block.
func WithOnSpeakingChange(fn func(speaking bool)) PlaybackOption {
	return func(b *PlaybackBuffer) { b.onSpeaking = fn }
}

// NewPlaybackBuffer creates an empty buffer.
func NewPlaybackBuffer(opts ...PlaybackOption) *PlaybackBuffer {
	b := &PlaybackBuffer{
		idleTimeout: DefaultIdleTimeout,
		chunkSize:   defaultChunkSize,
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Enqueue appends a fragment to the queue. It never blocks. Empty fragments
// are ignored.
func (b *PlaybackBuffer) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	now := time.Now()
	b.mu.Lock()
	b.items = append(b.items, PlaybackItem{PCM: pcm, Arrived: now})
	b.mu.Unlock()
	b.lastArrival.Store(now.UnixNano())
	b.signal()
}

// Len returns the number of queued fragments.
func (b *PlaybackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Speaking reports whether the server is considered to be speaking. With the
// arrival watchdog enabled, the result is false only once both detectors have
// expired.
func (b *PlaybackBuffer) Speaking() bool {
	if b.speaking.Load() {
		return true
	}
	if b.watchdog <= 0 {
		return false
	}
	last := b.lastArrival.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < b.watchdog
}

// ClearAndStop discards all queued fragments and halts the fragment being
// written at the next chunk boundary. The consumer clears the speaking flag
// once it observes the interruption.
func (b *PlaybackBuffer) ClearAndStop() {
	b.mu.Lock()
	clear(b.items)
	b.items = b.items[:0]
	b.mu.Unlock()
	b.lastArrival.Store(0)
	b.gen.Add(1)
	b.signal()
}

// Run is the consumer loop. It dequeues fragments with the idle timeout and
// writes them to sink until ctx is cancelled or sink fails. Run returns nil
// on cancellation. Only one Run may be active per buffer.
func (b *PlaybackBuffer) Run(ctx context.Context, sink Sink) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("audio: playback consumer already running")
	}
	defer b.running.Store(false)
	defer b.setSpeaking(false)

	seen := b.gen.Load()
	for {
		item, err := b.dequeue(ctx, seen)
		switch {
		case err == nil:
		case errors.Is(err, errIdle):
			b.setSpeaking(false)
			continue
		case errors.Is(err, errInterrupted):
			seen = b.gen.Load()
			b.setSpeaking(false)
			continue
		default:
			return nil
		}

		b.setSpeaking(true)
		if err := b.write(ctx, sink, item.PCM, seen); err != nil {
			if errors.Is(err, errInterrupted) {
				seen = b.gen.Load()
				b.setSpeaking(false)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// dequeue waits up to the idle timeout for the next item.
func (b *PlaybackBuffer) dequeue(ctx context.Context, seen uint64) (PlaybackItem, error) {
	timer := time.NewTimer(b.idleTimeout)
	defer timer.Stop()

	for {
		if b.gen.Load() != seen {
			return PlaybackItem{}, errInterrupted
		}
		b.mu.Lock()
		if len(b.items) > 0 {
			item := b.items[0]
			b.items[0] = PlaybackItem{}
			b.items = b.items[1:]
			b.mu.Unlock()
			return item, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return PlaybackItem{}, ctx.Err()
		case <-timer.C:
			return PlaybackItem{}, errIdle
		case <-b.wake:
		}
	}
}

// write sends pcm to sink in chunks, checking for interruption between them.
func (b *PlaybackBuffer) write(ctx context.Context, sink Sink, pcm []byte, seen uint64) error {
	for off := 0; off < len(pcm); off += b.chunkSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.gen.Load() != seen {
			return errInterrupted
		}
		end := min(off+b.chunkSize, len(pcm))
		if _, err := sink.Write(pcm[off:end]); err != nil {
			return fmt.Errorf("audio: playback write: %w", err)
		}
	}
	return nil
}

func (b *PlaybackBuffer) setSpeaking(v bool) {
	if b.speaking.Swap(v) != v && b.onSpeaking != nil {
		b.onSpeaking(v)
	}
}

func (b *PlaybackBuffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
