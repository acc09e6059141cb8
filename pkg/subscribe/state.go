package subscribe

import "fmt"

// State is the connection lifecycle state of a Manager.
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed

	// StateUnreachable is the terminal give-up state entered when the
	// retry policy is exhausted. Unlike Closed it is not caller
	// initiated; the caller observes it via State() or the
	// unreachable pseudo-event and decides what to do.
	StateUnreachable
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateUnreachable:
		return "Unreachable"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateClosing, StateUnreachable:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnected:
		// Connected to Disconnected happens when the connection is
		// lost after it was established.
		switch newState {
		case StateDisconnected, StateClosing:
			return nil
		}
	case StateUnreachable:
		if newState == StateClosing {
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}
