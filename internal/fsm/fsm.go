// Package fsm holds the pure phase transition table for a capture session.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateError      State = "error"
	StateClosed     State = "closed"
)

const (
	EventStart      Event = "start"
	EventStop       Event = "stop"
	EventRecognized Event = "recognized"
	EventFail       Event = "fail"
	EventReset      Event = "reset"
	EventClose      Event = "close"
)

// Transition returns the phase reached by applying event to current.
// Closed is terminal; close is accepted from every other phase.
func Transition(current State, event Event) (State, error) {
	if current == StateClosed {
		return current, invalidTransition(current, event)
	}
	switch event {
	case EventClose:
		return StateClosed, nil
	case EventFail:
		return StateError, nil
	}

	switch current {
	case StateIdle:
		if event == EventStart {
			return StateRecording, nil
		}
	case StateRecording:
		if event == EventStop {
			return StateProcessing, nil
		}
	case StateProcessing:
		if event == EventRecognized {
			return StateIdle, nil
		}
	case StateError:
		if event == EventReset {
			return StateIdle, nil
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

// Busy reports whether a new recording cannot begin from s.
func (s State) Busy() bool {
	return s == StateRecording || s == StateProcessing
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
