package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
)

// State is the client's runtime state as shown to presentation clients.
type State string

const (
	Booting   State = "BOOTING"
	SignedOut State = "SIGNED_OUT"
	SigningIn State = "SIGNING_IN"
	Syncing   State = "SYNCING"
	Ready     State = "READY"
	Degraded  State = "DEGRADED"
	Error     State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:   {SignedOut, Error},
	SignedOut: {SigningIn, Error},
	SigningIn: {Syncing, SignedOut, Error},
	Syncing:   {Ready, Degraded, SignedOut, Error},
	Ready:     {Syncing, Degraded, SignedOut, Error},
	Degraded:  {Syncing, Ready, SignedOut, Error},
	Error:     {Booting},
}

// Machine tracks and enforces client state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Moving to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// Walk applies each transition in order and stops at the first failure.
func (m *Machine) Walk(states ...State) error {
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			return err
		}
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
