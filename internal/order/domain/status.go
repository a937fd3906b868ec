package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPlaced    Status = "PLACED"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusDelivered Status = "DELIVERED"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// IsActive reports whether the order still holds its table.
func (s Status) IsActive() bool {
	return s != "" && !s.IsTerminal()
}

func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusDraft, StatusPlaced, StatusConfirmed, StatusPreparing,
		StatusReady, StatusDelivered, StatusClosed, StatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, raw)
	}
}

// Transition names a requested step through the lifecycle.
type Transition string

const (
	TransitionPlace          Transition = "place"
	TransitionConfirm        Transition = "confirm"
	TransitionStartPreparing Transition = "start_preparing"
	TransitionMarkReady      Transition = "mark_ready"
	TransitionDeliver        Transition = "deliver"
	TransitionClose          Transition = "close"
	TransitionCancel         Transition = "cancel"
)

func ParseTransition(raw string) (Transition, error) {
	t := Transition(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TransitionPlace, TransitionConfirm, TransitionStartPreparing,
		TransitionMarkReady, TransitionDeliver, TransitionClose, TransitionCancel:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transition %q", ErrInvalidTransitionName, raw)
	}
}

var forward = map[Status]struct {
	transition Transition
	next       Status
}{
	StatusDraft:     {TransitionPlace, StatusPlaced},
	StatusPlaced:    {TransitionConfirm, StatusConfirmed},
	StatusConfirmed: {TransitionStartPreparing, StatusPreparing},
	StatusPreparing: {TransitionMarkReady, StatusReady},
	StatusReady:     {TransitionDeliver, StatusDelivered},
	StatusDelivered: {TransitionClose, StatusClosed},
}

// Once food is ready it can only be delivered and closed.
var cancellable = map[Status]bool{
	StatusDraft:     true,
	StatusPlaced:    true,
	StatusConfirmed: true,
	StatusPreparing: true,
}

// NextStatus returns the status reached by applying t to current.
// Every transition except cancel moves exactly one step forward.
func NextStatus(current Status, t Transition) (Status, error) {
	if current.IsTerminal() {
		return "", fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	if t == TransitionCancel {
		if !cancellable[current] {
			return "", fmt.Errorf("%w: %s cannot be cancelled", ErrInvalidTransition, current)
		}
		return StatusCancelled, nil
	}
	step, ok := forward[current]
	if !ok || step.transition != t {
		return "", fmt.Errorf("%w: %s cannot %s", ErrInvalidTransition, current, t)
	}
	return step.next, nil
}

// AllowedTransitions lists the transitions legal from current.
func AllowedTransitions(current Status) []Transition {
	if current.IsTerminal() {
		return nil
	}
	step, ok := forward[current]
	if !ok {
		return nil
	}
	if cancellable[current] {
		return []Transition{step.transition, TransitionCancel}
	}
	return []Transition{step.transition}
}
