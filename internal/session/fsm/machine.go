package fsm

import (
	"fmt"
	"strings"
	"sync"
)

// State describes the turn-taking phase of a voice session. At most one of
// listening/speaking holds at a time.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

// Mode governs whether the agent speaks proactively or only when addressed.
type Mode string

const (
	ModeActive   Mode = "active"
	ModeObserver Mode = "observer"
)

// Machine is a lightweight deterministic turn state machine.
type Machine struct {
	mu    sync.RWMutex
	state State
	mode  Mode
}

// New creates a state machine with default idle/active values.
func New() *Machine {
	return &Machine{
		state: StateIdle,
		mode:  ModeActive,
	}
}

// State returns the current turn state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the current participant mode.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetMode updates the participant mode.
func (m *Machine) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case string(ModeObserver):
		m.mode = ModeObserver
	default:
		m.mode = ModeActive
	}
}

// OnListenStart moves the session into listening.
func (m *Machine) OnListenStart() {
	m.transition(StateListening)
}

// OnThinkStart marks the turn as awaiting an agent response.
func (m *Machine) OnThinkStart() {
	m.transition(StateThinking)
}

// OnSpeakStart enters the speaking state.
func (m *Machine) OnSpeakStart() {
	m.transition(StateSpeaking)
}

// OnSpeakStop exits the speaking state according to mode policy: active
// sessions fall back to listening, observers go quiet.
func (m *Machine) OnSpeakStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.mode {
	case ModeObserver:
		m.state = StateIdle
	default:
		m.state = StateListening
	}
}

// OnInterrupt cancels agent output and returns to idle.
func (m *Machine) OnInterrupt() {
	m.transition(StateIdle)
}

// Reset returns the machine to idle.
func (m *Machine) Reset() {
	m.transition(StateIdle)
}

// Force sets state unconditionally.
func (m *Machine) Force(state State) error {
	switch state {
	case StateIdle, StateListening, StateThinking, StateSpeaking:
		m.transition(state)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
