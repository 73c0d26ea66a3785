package fsm

import "testing"

func TestMachineDefault(t *testing.T) {
	m := New()
	if got := m.State(); got != StateIdle {
		t.Fatalf("state=%s, want %s", got, StateIdle)
	}
	if got := m.Mode(); got != ModeActive {
		t.Fatalf("mode=%s, want %s", got, ModeActive)
	}
}

func TestMachineTurnLifecycleActive(t *testing.T) {
	m := New()
	m.OnListenStart()
	m.OnThinkStart()
	m.OnSpeakStart()
	m.OnSpeakStop()

	if got := m.State(); got != StateListening {
		t.Fatalf("state=%s, want %s", got, StateListening)
	}
}

func TestMachineTurnLifecycleObserver(t *testing.T) {
	m := New()
	m.SetMode("observer")
	m.OnListenStart()
	m.OnSpeakStart()
	m.OnSpeakStop()

	if got := m.State(); got != StateIdle {
		t.Fatalf("state=%s, want %s", got, StateIdle)
	}
}

func TestMachineInterruptReturnsToIdle(t *testing.T) {
	m := New()
	m.OnSpeakStart()
	m.OnInterrupt()

	if got := m.State(); got != StateIdle {
		t.Fatalf("state=%s, want %s", got, StateIdle)
	}
}

func TestMachineInvalidForce(t *testing.T) {
	m := New()
	if err := m.Force(State("unknown")); err == nil {
		t.Fatal("Force(unknown) error=nil, want non-nil")
	}
}

func TestMachineSetModeNormalizes(t *testing.T) {
	m := New()
	m.SetMode("  Observer ")
	if got := m.Mode(); got != ModeObserver {
		t.Fatalf("mode=%s, want %s", got, ModeObserver)
	}
	m.SetMode("nonsense")
	if got := m.Mode(); got != ModeActive {
		t.Fatalf("mode=%s, want %s", got, ModeActive)
	}
}
