// Package transport owns the persistent WebSocket connection to the
// conversational service.
//
// A [Client] moves through the states Disconnected, Connecting, Open and
// Closing. Any loss of the connection schedules exactly one reconnect after a
// fixed delay (see [Reconnector]); sends attempted while the connection is not
// open are dropped and also request a reconnect. Outbound messages are written
// by a single writer goroutine, so at most one message is in flight at a
// time. Inbound text messages are delivered unparsed on [Client.Inbound].
package transport

// State is the connection state of a [Client].
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
