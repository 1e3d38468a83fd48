package pipe

// State is the pipe connection lifecycle phase.
type State int32

const (
	// StateDisconnected means no session exists and none is being built.
	StateDisconnected State = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateConnected means the session is established and serving frames.
	StateConnected

	// StateDraining means shutdown has begun; no reconnects will follow.
	StateDraining
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}
