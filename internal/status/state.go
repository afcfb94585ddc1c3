package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/edulink/chatsync/internal/bus"
)

// State represents the stream connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Closing      State = "CLOSING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
//
// Disconnected -> Connecting covers both the first open and scheduled
// reconnects. Open -> Disconnected is an abnormal close; an intentional
// close passes through Closing first, which is how the manager tells
// the two apart. Error is reached when no credential is available or
// the retry budget is exhausted, and only a fresh Open leaves it.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Error},
	Connecting:   {Open, Disconnected, Closing, Error},
	Open:         {Closing, Disconnected, Error},
	Closing:      {Disconnected},
	Error:        {Connecting, Disconnected},
}

// Machine tracks and enforces stream connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
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

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.StreamStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
