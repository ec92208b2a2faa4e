package channel

import (
	"fmt"
	"slices"
	"sync"
)

// State represents the lifecycle state of the relay connection.
type State string

const (
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closed     State = "CLOSED"
)

// validTransitions defines allowed state transitions. A fresh dial after a
// drop moves Closed back to Connecting; the stores are untouched by that.
var validTransitions = map[State][]State{
	Connecting: {Open, Closed},
	Open:       {Closed},
	Closed:     {Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
}

// NewMachine creates a new state machine starting in Closed state.
func NewMachine() *Machine {
	return &Machine{current: Closed}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}
