// Package drag implements the drag-to-reschedule gesture state machine.
package drag

import (
	"errors"
	"fmt"
)

// State represents the current state of a drag gesture.
type State string

const (
	StateIdle           State = "idle"
	StateDragging       State = "dragging"
	StatePendingConfirm State = "pending_confirm"
	StateConfirmed      State = "confirmed"
	StateCanceled       State = "canceled"
)

var (
	// ErrDragConflict is returned when a drag begins on an appointment that is already mid-gesture.
	ErrDragConflict = errors.New("appointment is already being dragged")

	// ErrCrossesMidnight is returned on release when the candidate spans midnight
	// and the policy rejects such candidates.
	ErrCrossesMidnight = errors.New("candidate time crosses midnight")

	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid drag state transition")
)

// TransitionError carries the rejected transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// FSM holds the allowed state transitions of a gesture.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with the gesture transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:           {StateDragging},
			StateDragging:       {StateDragging, StatePendingConfirm, StateCanceled},
			StatePendingConfirm: {StateConfirmed, StateCanceled},
			StateConfirmed:      {StateIdle},
			StateCanceled:       {StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns a *TransitionError if the transition is not allowed.
func (f *FSM) Check(from, to State) error {
	if !f.CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Active reports whether a gesture in state s still owns its appointment.
func Active(s State) bool {
	return s == StateDragging || s == StatePendingConfirm || s == StateConfirmed
}
