package manager

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// ConnState is the client connection state.
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateReconnecting ConnState = "RECONNECTING"
)

const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventFail        = "fail"
	eventBackoff     = "backoff"
	eventClose       = "close"
)

// Transition is one completed state change.
type Transition struct {
	From  ConnState
	To    ConnState
	Event string
}

// ConnectionStateMachine tracks DISCONNECTED, CONNECTING, CONNECTED and
// RECONNECTING. Illegal events return an error and leave the state alone.
type ConnectionStateMachine struct {
	mu   sync.Mutex
	fsm  *fsm.FSM
	last Transition
}

func NewConnectionStateMachine() *ConnectionStateMachine {
	cs := &ConnectionStateMachine{}

	cs.fsm = fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventDial, Src: []string{string(StateDisconnected), string(StateReconnecting)}, Dst: string(StateConnecting)},
			{Name: eventEstablished, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: eventFail, Src: []string{string(StateConnecting)}, Dst: string(StateDisconnected)},
			{Name: eventBackoff, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateReconnecting)},
			{Name: eventClose, Src: []string{string(StateConnecting), string(StateConnected), string(StateReconnecting)}, Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{
			// runs inside fire, which holds mu
			"enter_state": func(_ context.Context, e *fsm.Event) {
				cs.last = Transition{From: ConnState(e.Src), To: ConnState(e.Dst), Event: e.Event}
			},
		},
	)

	return cs
}

func (cs *ConnectionStateMachine) fire(event string) (Transition, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.fsm.Event(context.Background(), event); err != nil {
		return Transition{}, err
	}
	return cs.last, nil
}

func (cs *ConnectionStateMachine) Current() ConnState {
	return ConnState(cs.fsm.Current())
}

func (cs *ConnectionStateMachine) Is(state ConnState) bool {
	return cs.fsm.Is(string(state))
}

// Can reports whether event is legal in the current state.
func (cs *ConnectionStateMachine) Can(event string) bool {
	return cs.fsm.Can(event)
}

func (cs *ConnectionStateMachine) Dial() (Transition, error) {
	return cs.fire(eventDial)
}

func (cs *ConnectionStateMachine) Established() (Transition, error) {
	return cs.fire(eventEstablished)
}

func (cs *ConnectionStateMachine) Fail() (Transition, error) {
	return cs.fire(eventFail)
}

func (cs *ConnectionStateMachine) Backoff() (Transition, error) {
	return cs.fire(eventBackoff)
}

func (cs *ConnectionStateMachine) Close() (Transition, error) {
	return cs.fire(eventClose)
}
