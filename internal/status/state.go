package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
)

// State is the gateway connection state as seen by the console.
type State string

const (
	Unknown      State = "UNKNOWN"
	Disconnected State = "DISCONNECTED"
	Pairing      State = "PAIRING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions.
// CONNECTED cannot move to PAIRING: the session must be terminated first.
var validTransitions = map[State][]State{
	Unknown:      {Disconnected, Pairing, Connected},
	Disconnected: {Unknown, Pairing, Connected},
	Pairing:      {Unknown, Disconnected, Connected},
	Connected:    {Unknown, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Unknown state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Unknown,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Transitioning to the current state is a no-op
// and reports changed=false. Returns an error if the transition is not allowed.
func (m *Machine) Transition(to State) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return false, nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return false, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStateChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return true, nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
}
