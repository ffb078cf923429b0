package dispatcher

import "fmt"

// State is a connection's position in the lifecycle:
// New → Connecting → Ready → (InUse ↔ Ready) → Closing → Closed.
type State int

// The states of the per-connection state machine. StateNew is the zero
// value so an uninitialized Connection reports correctly.
const (
	StateNew State = iota
	StateConnecting
	StateReady
	StateInUse
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateInUse:
		return "in_use"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the state machine's allowed edges. Ping
// failure in Ready, and a stale-session signal in Connecting or Ready,
// both go to Closing ("State machine per client").
var validTransitions = map[State]map[State]bool{
	StateNew:        {StateConnecting: true},
	StateConnecting: {StateReady: true, StateClosing: true},
	StateReady:      {StateInUse: true, StateClosing: true},
	StateInUse:      {StateReady: true, StateClosing: true},
	StateClosing:    {StateClosed: true},
	StateClosed:     {},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	return validTransitions[from][to]
}

// ErrInvalidTransition is returned by Connection.transition on an
// illegal edge.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("dispatcher: invalid state transition %s -> %s", e.From, e.To)
}
