package session

// State is the session lifecycle phase. Transitions only move forward;
// Faulted is absorbing and reachable from every other state.
type State int32

const (
	// StateConnecting means the transport is not yet established.
	StateConnecting State = iota
	// StateHandshaking means the stream is open and init is in flight.
	StateHandshaking
	// StateReady means the worker is serving host messages.
	StateReady
	// StateDraining means no new invocations are accepted; running ones finish.
	StateDraining
	// StateClosed means the session ended cleanly.
	StateClosed
	// StateFaulted means the session died on a protocol or transport error.
	StateFaulted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// valid transitions; Faulted is reachable from anywhere.
var transitions = map[State][]State{
	StateConnecting:  {StateHandshaking},
	StateHandshaking: {StateReady},
	StateReady:       {StateDraining, StateClosed},
	StateDraining:    {StateClosed},
	StateClosed:      {},
	StateFaulted:     {},
}

// canTransition reports whether moving from one state to the next is legal.
func canTransition(from, to State) bool {
	if to == StateFaulted {
		return from != StateClosed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
