package peer

import "fmt"

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is the lifecycle state of a Link.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Event int

const (
	EventStart Event = iota
	EventConnected
	EventFailed
	EventRestart
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventConnected:
		return "connected"
	case EventFailed:
		return "failed"
	case EventRestart:
		return "restart"
	case EventClose:
		return "close"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition is the Link state machine:
//
//	new -> negotiating -> connected -> {failed -> negotiating | closed}
//
// closed is terminal.
func Transition(from State, ev Event) (State, error) {
	if from == StateClosed {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	if ev == EventClose {
		return StateClosed, nil
	}
	switch {
	case from == StateNew && ev == EventStart:
		return StateNegotiating, nil
	case from == StateNegotiating && ev == EventConnected:
		return StateConnected, nil
	case (from == StateNegotiating || from == StateConnected) && ev == EventFailed:
		return StateFailed, nil
	case from == StateFailed && ev == EventRestart:
		return StateNegotiating, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}
