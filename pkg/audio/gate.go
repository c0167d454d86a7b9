package audio

// GateState is the derived forwarding decision for a captured frame.
type GateState int

const (
	// GateListening forwards frames to the accumulator.
	GateListening GateState = iota

	// GateSuppressedBySilence drops frames after sustained silence.
	GateSuppressedBySilence

	// GateSuppressedByPlayback drops frames while the server is speaking.
	GateSuppressedByPlayback

	// GateSuppressedByUserPause drops frames while the host has paused input.
	GateSuppressedByUserPause
)

// String returns the human-readable name of the gate state.
func (g GateState) String() string {
	switch g {
	case GateListening:
		return "listening"
	case GateSuppressedBySilence:
		return "suppressed_silence"
	case GateSuppressedByPlayback:
		return "suppressed_playback"
	case GateSuppressedByUserPause:
		return "suppressed_user_pause"
	default:
		return "unknown"
	}
}

// Accepting reports whether frames pass through in this state.
func (g GateState) Accepting() bool { return g == GateListening }

// DeriveGate computes the gate state from its three inputs. A user pause
// outranks playback, and playback outranks silence.
func DeriveGate(silent, playing, paused bool) GateState {
	switch {
	case paused:
		return GateSuppressedByUserPause
	case playing:
		return GateSuppressedByPlayback
	case silent:
		return GateSuppressedBySilence
	default:
		return GateListening
	}
}
