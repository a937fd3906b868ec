package domain

import (
	"errors"
	"testing"

	"github.com/smallbiznis/waiterless/internal/errs"
)

func TestNextStatusHappyPath(t *testing.T) {
	chain := []struct {
		from       Status
		transition Transition
		to         Status
	}{
		{StatusDraft, TransitionPlace, StatusPlaced},
		{StatusPlaced, TransitionConfirm, StatusConfirmed},
		{StatusConfirmed, TransitionStartPreparing, StatusPreparing},
		{StatusPreparing, TransitionMarkReady, StatusReady},
		{StatusReady, TransitionDeliver, StatusDelivered},
		{StatusDelivered, TransitionClose, StatusClosed},
	}

	for _, step := range chain {
		got, err := NextStatus(step.from, step.transition)
		if err != nil {
			t.Fatalf("%s --%s--> unexpected error: %v", step.from, step.transition, err)
		}
		if got != step.to {
			t.Fatalf("%s --%s--> expected %s, got %s", step.from, step.transition, step.to, got)
		}
	}
}

func TestNextStatusRejectsSkipsAndBackwardMoves(t *testing.T) {
	statuses := []Status{StatusDraft, StatusPlaced, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusClosed, StatusCancelled}
	transitions := []Transition{TransitionPlace, TransitionConfirm, TransitionStartPreparing, TransitionMarkReady, TransitionDeliver, TransitionClose}

	legal := map[Status]Transition{
		StatusDraft:     TransitionPlace,
		StatusPlaced:    TransitionConfirm,
		StatusConfirmed: TransitionStartPreparing,
		StatusPreparing: TransitionMarkReady,
		StatusReady:     TransitionDeliver,
		StatusDelivered: TransitionClose,
	}

	for _, from := range statuses {
		for _, tr := range transitions {
			if legal[from] == tr {
				continue
			}
			_, err := NextStatus(from, tr)
			if !errors.Is(err, errs.ErrInvalidTransition) {
				t.Fatalf("%s --%s--> expected invalid transition, got %v", from, tr, err)
			}
		}
	}
}

func TestNextStatusCancel(t *testing.T) {
	cases := []struct {
		from Status
		ok   bool
	}{
		{StatusDraft, true},
		{StatusPlaced, true},
		{StatusConfirmed, true},
		{StatusPreparing, true},
		{StatusReady, false},
		{StatusDelivered, false},
		{StatusClosed, false},
		{StatusCancelled, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			got, err := NextStatus(tc.from, TransitionCancel)
			if tc.ok {
				if err != nil || got != StatusCancelled {
					t.Fatalf("expected cancelled, got %s (%v)", got, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
		})
	}
}

func TestAllowedTransitions(t *testing.T) {
	if got := AllowedTransitions(StatusPreparing); len(got) != 2 || got[0] != TransitionMarkReady || got[1] != TransitionCancel {
		t.Fatalf("unexpected allowed transitions %v", got)
	}
	if got := AllowedTransitions(StatusReady); len(got) != 1 || got[0] != TransitionDeliver {
		t.Fatalf("unexpected allowed transitions %v", got)
	}
	if got := AllowedTransitions(StatusClosed); got != nil {
		t.Fatalf("terminal status must allow nothing, got %v", got)
	}
}

func TestParseTransitionAndStatus(t *testing.T) {
	if tr, err := ParseTransition(" Start_Preparing "); err != nil || tr != TransitionStartPreparing {
		t.Fatalf("unexpected parse result %q %v", tr, err)
	}
	if _, err := ParseTransition("teleport"); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if st, err := ParseStatus("ready"); err != nil || st != StatusReady {
		t.Fatalf("unexpected parse result %q %v", st, err)
	}
}
