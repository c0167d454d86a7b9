// Package vad implements an energy-based voice activity gate for raw PCM.
//
// The gate classifies each captured frame by its root-mean-square energy on
// the signed 16-bit sample scale and tracks how long the signal has stayed
// below the energy threshold. Silence is accumulated from wall-clock deltas
// between frames, so jitter in the capture loop does not skew the result.
//
// Everything in this package is a pure function of its inputs: no goroutines,
// no locks, no hidden state. Callers own the [SilenceState] value and thread it
// through successive calls.
package vad

import (
	"encoding/binary"
	"math"
	"time"
)

// Default gate parameters.
const (
	// DefaultEnergyThreshold is the RMS level below which a frame is silent.
	DefaultEnergyThreshold = 30.0

	// DefaultSilenceDuration is how long the signal must stay below the
	// threshold before the capture path is gated off.
	DefaultSilenceDuration = 1 * time.Second
)

// Classification is the result of analysing one frame.
type Classification struct {
	// EnergyRMS is √(mean of squared samples) over the frame.
	EnergyRMS float64

	// Silent is true when EnergyRMS is below the gate's energy threshold.
	Silent bool
}

// SilenceState tracks accumulated silence across successive frames.
// The zero value is a fresh state with no silence and no previous sample.
type SilenceState struct {
	// Accumulated is the total silence observed since the last loud frame.
	Accumulated time.Duration

	// LastSample is the wall-clock time of the previous frame. A zero value
	// means no frame has been seen yet.
	LastSample time.Time
}

// Gate classifies frames against a fixed energy threshold.
type Gate struct {
	threshold float64
}

// New returns a Gate that treats frames with RMS below threshold as silent.
// A non-positive threshold falls back to [DefaultEnergyThreshold].
func New(threshold float64) Gate {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return Gate{threshold: threshold}
}

// Threshold returns the energy threshold in use.
func (g Gate) Threshold() float64 { return g.threshold }

// Classify computes the RMS energy of frame, interpreted as signed 16-bit
// little-endian mono samples. A trailing odd byte is ignored. An empty frame
// has zero energy and is therefore silent.
func (g Gate) Classify(frame []byte) Classification {
	rms := RMS(frame)
	return Classification{EnergyRMS: rms, Silent: rms < g.threshold}
}

// RMS returns √(mean of squared samples) for s16le PCM.
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// UpdateSilence advances state with the classification of a frame observed
// at now. A loud frame resets accumulated silence to zero. A silent frame
// adds the time elapsed since the previous frame. The first frame ever seen
// contributes no elapsed time. A clock that moved backwards contributes zero.
func UpdateSilence(state SilenceState, c Classification, now time.Time) SilenceState {
	next := SilenceState{Accumulated: state.Accumulated, LastSample: now}
	if !c.Silent {
		next.Accumulated = 0
		return next
	}
	if !state.LastSample.IsZero() {
		if d := now.Sub(state.LastSample); d > 0 {
			next.Accumulated += d
		}
	}
	return next
}

// IsSilentFor reports whether state has accumulated at least threshold of
// continuous silence.
func IsSilentFor(state SilenceState, threshold time.Duration) bool {
	return state.Accumulated >= threshold
}
