package rag

import "fmt"

// State is a stage of one query's lifecycle.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateComposing
	StateGenerating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateComposing:
		return "composing"
	case StateGenerating:
		return "generating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON trails.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name, so trails survive a NATS round trip.
func (s *State) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateFailed; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("rag: unknown state %q", b)
}

// next lists the legal transitions. Failed is terminal and reachable from
// every state except Idle.
var next = map[State][]State{
	StateIdle:       {StateRetrieving},
	StateRetrieving: {StateComposing, StateFailed},
	StateComposing:  {StateGenerating, StateFailed},
	StateGenerating: {StateDone, StateFailed},
}

// machine records the trail of one query.
type machine struct {
	trail []State
}

func newMachine() *machine {
	return &machine{trail: []State{StateIdle}}
}

func (m *machine) current() State { return m.trail[len(m.trail)-1] }

// to moves to s. Illegal transitions panic; they are programming errors.
func (m *machine) to(s State) {
	for _, ok := range next[m.current()] {
		if ok == s {
			m.trail = append(m.trail, s)
			return
		}
	}
	panic("rag: illegal transition " + m.current().String() + " -> " + s.String())
}

// fail moves to Failed unless the machine is already terminal.
func (m *machine) fail() {
	if c := m.current(); c != StateFailed && c != StateDone && c != StateIdle {
		m.trail = append(m.trail, StateFailed)
	}
}

func (m *machine) Trail() []State {
	out := make([]State, len(m.trail))
	copy(out, m.trail)
	return out
}
