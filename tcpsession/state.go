package tcpsession

// State represents where a session is in its lifecycle. A session moves
// Disconnected -> Connecting -> Connected -> Closing -> Disconnected and is
// never resurrected afterwards.
type State int

const (
	Disconnected State = iota // Not connected; initial and terminal state
	Connecting                // Outbound connection attempt in progress
	Connected                 // Read loop and send worker are running
	Closing                   // Disconnect requested or stream ended; teardown pending
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}
