// ABOUTME: Tests for the session state machine
// ABOUTME: Checks the transition table against the documented lifecycle
package session

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateDiscovering, true},
		{StateIdle, StateConnecting, true},
		{StateIdle, StateListening, true},
		{StateIdle, StateClosed, true},
		{StateDiscovering, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateListening, StateConnected, true},
		{StateConnected, StateStreaming, true},
		{StateStreaming, StateClosed, true},
		{StateClosed, StateDiscovering, true},
		{StateClosed, StateConnecting, true},
		{StateClosed, StateListening, true},

		{StateIdle, StateStreaming, false},
		{StateIdle, StateConnected, false},
		{StateDiscovering, StateConnected, false},
		{StateConnecting, StateStreaming, false},
		{StateStreaming, StateConnected, false},
		{StateStreaming, StateIdle, false},
		{StateClosed, StateStreaming, false},
		{StateClosed, StateIdle, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestSetStateRejectsInvalid(t *testing.T) {
	var seen []State
	s := &Session{state: StateIdle, logger: zerolog.Nop(), opts: Options{OnStateChange: func(st State) { seen = append(seen, st) }}}

	s.setState(StateStreaming)
	if s.State() != StateIdle {
		t.Errorf("invalid transition applied, state %s", s.State())
	}

	s.setState(StateConnecting)
	s.setState(StateConnecting)
	if len(seen) != 1 || seen[0] != StateConnecting {
		t.Errorf("expected a single connecting notification, got %v", seen)
	}
}

func TestTransitionReturnsErrInvalidTransition(t *testing.T) {
	s := &Session{state: StateListening, logger: zerolog.Nop()}

	err := s.transition(StateStreaming)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if s.State() != StateListening {
		t.Errorf("state changed to %s on a rejected transition", s.State())
	}

	if err := s.transition(StateListening); err != nil {
		t.Errorf("same-state transition returned %v", err)
	}
	if err := s.transition(StateConnected); err != nil {
		t.Errorf("legal transition returned %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("expected connected, got %s", s.State())
	}
}

func TestStateNames(t *testing.T) {
	names := stateNames()
	if len(names) != len(States) || names[0] != "idle" || names[len(names)-1] != "closed" {
		t.Errorf("unexpected state names %v", names)
	}
	if State(42).String() != "state(42)" {
		t.Errorf("unknown state formatted as %q", State(42).String())
	}
}
