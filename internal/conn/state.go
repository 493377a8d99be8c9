package conn

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// State is the connection lifecycle state. It is owned exclusively by the
// Manager; every other component only reads it.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Failed       State = "error"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected, Failed},
	Connected:    {Disconnected},
	Failed:       {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
}

// NewMachine creates a state machine starting disconnected.
func NewMachine() *Machine {
	return &Machine{current: Disconnected}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
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

// Snapshot is a read-only view of the manager's connection state.
type Snapshot struct {
	State          State
	DisconnectedAt time.Time
	EverConnected  bool
}

// ConnectedInfo is the payload of conn.connected bus events.
type ConnectedInfo struct {
	// First is true on the very first successful connection of the
	// process lifetime; consumers run a full backfill instead of a
	// downtime-tiered one.
	First bool
	// Downtime is the elapsed time since the last disconnect. Only
	// meaningful when Known is true.
	Downtime time.Duration
	Known    bool
}

// RetryInfo is the payload of conn.retrying bus events.
type RetryInfo struct {
	Attempt    int
	MaxRetries int
}
