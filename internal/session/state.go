// ABOUTME: Session lifecycle states and allowed transitions
// ABOUTME: Invalid transitions are rejected rather than silently applied
package session

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a state change the lifecycle forbids.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// State is the session lifecycle
type State int

const (
	StateIdle State = iota
	StateListening
	StateDiscovering
	StateConnecting
	StateConnected
	StateStreaming
	StateClosed
)

// States lists every state in lifecycle order.
var States = []State{
	StateIdle,
	StateListening,
	StateDiscovering,
	StateConnecting,
	StateConnected,
	StateStreaming,
	StateClosed,
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// stateNames is States as strings, for metrics labels.
func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

var transitions = map[State][]State{
	StateIdle:        {StateDiscovering, StateConnecting, StateListening, StateClosed},
	StateListening:   {StateConnected, StateClosed},
	StateDiscovering: {StateConnecting, StateClosed},
	StateConnecting:  {StateConnected, StateClosed},
	StateConnected:   {StateStreaming, StateClosed},
	StateStreaming:   {StateClosed},
	StateClosed:      {StateDiscovering, StateConnecting, StateListening},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
