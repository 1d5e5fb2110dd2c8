package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppsync/internal/bus"
)

// State is the lifecycle state of the live channel.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Error        State = "error"
)

// validTransitions defines allowed state transitions. Only a retry moves
// backwards (disconnected/error → connecting).
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Error},
	Connecting:   {Connected, Disconnected, Error},
	Connected:    {Disconnected, Error},
	Error:        {Connecting, Disconnected},
}

// Machine tracks and enforces channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Returns error if the transition is invalid.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.KindChannelState, Change{
		From:   from,
		To:     to,
		Reason: reason,
	}))
	return nil
}

// Ensure transitions to `to` unless the machine is already there.
func (m *Machine) Ensure(to State, reason string) error {
	if m.Current() == to {
		return nil
	}
	return m.Transition(to, reason)
}

// Change is the payload for channel state events.
type Change struct {
	From   State
	To     State
	Reason string
}
