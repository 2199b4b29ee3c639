package light

import "sync"

// Field selects which attribute a Delta changes.
type Field int

const (
	FieldColor Field = iota
	FieldBrightness
	FieldMode
	FieldDim
)

// Delta is a single validated attribute change, ready for the wire.
// Exactly one attribute is meaningful, selected by Field.
type Delta struct {
	Field Field

	Color string
	RGB   RGB

	Brightness int

	Mode    string
	ModeTag int

	Dim bool
}

// Snapshot is an immutable copy of the light's canonical state.
type Snapshot struct {
	Color      string
	Brightness int
	Mode       string
	Dim        bool
	Connected  bool
}

// State holds the single source of truth for the light. It is mutated only
// through Apply, which the command processor calls after a successful device
// write. Snapshot never blocks on the device link.
type State struct {
	mu  sync.RWMutex
	cur Snapshot
}

// NewState creates the state holder with the configured initial values.
func NewState(initial Snapshot) *State {
	return &State{cur: initial}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Apply commits a validated delta. Callers must only invoke this after the
// device acknowledged the corresponding command.
func (s *State) Apply(d Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch d.Field {
	case FieldColor:
		s.cur.Color = d.Color
	case FieldBrightness:
		s.cur.Brightness = d.Brightness
	case FieldMode:
		s.cur.Mode = d.Mode
	case FieldDim:
		s.cur.Dim = d.Dim
	}
}

// SetConnected updates the device link health flag.
func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Connected = connected
}
