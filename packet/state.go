package packet

// State is the equipment state as carried on the wire.
type State string

const (
	StateIdle  State = "IDLE"
	StateRun   State = "RUN"
	StateStop  State = "STOP"
	StateError State = "ERROR"
	// StateUnknown is a client-side value meaning no state has been observed.
	StateUnknown State = "UNKNOWN"
)

// ParseState accepts the four server states.
func ParseState(s string) (State, bool) {
	switch st := State(s); st {
	case StateIdle, StateRun, StateStop, StateError:
		return st, true
	}
	return StateUnknown, false
}

func (s State) String() string {
	return string(s)
}
