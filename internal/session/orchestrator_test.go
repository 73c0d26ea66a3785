package session

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/internal/realtime"
	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
	"github.com/aurelia-labs/voiceorb/internal/token"
)

type resolution struct {
	requestID string
	approved  bool
	reason    string
}

type fakeTransport struct {
	mu           sync.Mutex
	events       chan realtime.Event
	closeOnce    sync.Once
	blockConnect bool
	connectErr   error

	muteCalls  []bool
	interrupts int
	texts      []string
	resolved   []resolution
	audio      [][]byte
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan realtime.Event, 32)}
}

func (f *fakeTransport) Connect(ctx context.Context, ephemeralToken string) error {
	if f.blockConnect {
		<-ctx.Done()
		return &realtime.TransportError{Op: "dial", Err: ctx.Err()}
	}
	return f.connectErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeTransport) Events() <-chan realtime.Event { return f.events }

func (f *fakeTransport) SetMuted(ctx context.Context, muted bool) error {
	f.mu.Lock()
	f.muteCalls = append(f.muteCalls, muted)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	f.interrupts++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendText(ctx context.Context, text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ResolveApproval(ctx context.Context, requestID string, approved bool, reason string) error {
	f.mu.Lock()
	f.resolved = append(f.resolved, resolution{requestID, approved, reason})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendAudio(ctx context.Context, encoded []byte) error {
	f.mu.Lock()
	f.audio = append(f.audio, encoded)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) lastMute() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.muteCalls) == 0 {
		return false, false
	}
	return f.muteCalls[len(f.muteCalls)-1], true
}

type fakeMinter struct {
	err error
}

func (m *fakeMinter) Mint(ctx context.Context, apiKey string) (token.Ephemeral, error) {
	if m.err != nil {
		return token.Ephemeral{}, m.err
	}
	return token.Ephemeral{Token: "ephemeral", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func newTestOrchestrator(t *testing.T, mutate func(*Config)) (*Orchestrator, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	cfg := Config{
		ParticipantMode: "active",
		UnmuteDelay:     40 * time.Millisecond,
		NewTransport: func(realtime.Config, *zap.Logger) Transport {
			return transport
		},
		Minter: &fakeMinter{},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zap.NewNop()), transport
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectEstablishesSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !o.IsConnected() {
		t.Fatalf("IsConnected() = false, want true")
	}
	snap := o.Snapshot()
	if snap.ConnectionState != StateConnected {
		t.Fatalf("ConnectionState = %v, want %v", snap.ConnectionState, StateConnected)
	}
	if snap.TurnState != fsm.StateIdle {
		t.Fatalf("TurnState = %v, want %v", snap.TurnState, fsm.StateIdle)
	}
}

func TestConnectWhileConnectedFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := o.Connect(context.Background()); err == nil {
		t.Fatalf("second Connect() error = nil, want error")
	}
}

func TestConnectAuthError(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(cfg *Config) {
		cfg.Minter = &fakeMinter{err: &token.AuthError{Reason: "key rejected"}}
	})
	err := o.Connect(context.Background())
	var authErr *token.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Connect() error = %v, want AuthError", err)
	}
	if got := o.Snapshot().ConnectionState; got != StateDisconnected {
		t.Fatalf("ConnectionState = %v, want %v", got, StateDisconnected)
	}
}

func TestConnectDeviceError(t *testing.T) {
	o, _ := newTestOrchestrator(t, func(cfg *Config) {
		cfg.ProbeMic = func(ctx context.Context) error {
			return &DeviceError{Kind: DeviceNotAccessible}
		}
	})
	err := o.Connect(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Connect() error = %v, want DeviceError", err)
	}
	if devErr.Kind != DeviceNotAccessible {
		t.Fatalf("Kind = %v, want %v", devErr.Kind, DeviceNotAccessible)
	}
	if devErr.UserMessage() == (&DeviceError{Kind: DevicePermissionDenied}).UserMessage() {
		t.Fatalf("device error kinds share a user message")
	}
}

func TestConnectFailureAllowsRetry(t *testing.T) {
	minter := &fakeMinter{err: &token.AuthError{Reason: "key rejected"}}
	o, _ := newTestOrchestrator(t, func(cfg *Config) {
		cfg.Minter = minter
	})
	if err := o.Connect(context.Background()); err == nil {
		t.Fatalf("Connect() error = nil, want AuthError")
	}
	minter.err = nil
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("retry Connect() error = %v", err)
	}
}

func TestDisconnectCancelsInFlightConnect(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	transport.blockConnect = true

	errCh := make(chan error, 1)
	go func() { errCh <- o.Connect(context.Background()) }()
	waitFor(t, "connecting state", o.IsConnecting)

	if err := o.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := <-errCh; err == nil {
		t.Fatalf("Connect() error = nil, want canceled")
	}
	if got := o.Snapshot().ConnectionState; got != StateDisconnected {
		t.Fatalf("ConnectionState = %v, want %v", got, StateDisconnected)
	}
}

func TestSpeakingForcesMuteAndDelayedUnmute(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnSpeaking}
	waitFor(t, "forced mute", func() bool {
		snap := o.Snapshot()
		return snap.TurnState == fsm.StateSpeaking && snap.Muted
	})
	if muted, ok := transport.lastMute(); !ok || !muted {
		t.Fatalf("lastMute() = %v, %v, want true, true", muted, ok)
	}

	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnIdle}
	waitFor(t, "speaking ended", func() bool {
		return o.Snapshot().TurnState == fsm.StateIdle
	})
	if !o.Snapshot().Muted {
		t.Fatalf("Muted = false immediately after speaking, want true until quiet period elapses")
	}
	waitFor(t, "delayed unmute", func() bool {
		return !o.Snapshot().Muted
	})
}

func TestExplicitMuteSurvivesSpeakingCycle(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	o.SetMuted(true)

	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnSpeaking}
	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnListening}
	waitFor(t, "speaking ended", func() bool {
		return o.Snapshot().TurnState == fsm.StateListening
	})

	time.Sleep(120 * time.Millisecond)
	if !o.Snapshot().Muted {
		t.Fatalf("Muted = false, want explicit mute preserved after speaking")
	}
}

func TestMuteDuringQuietWindowCancelsRestore(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnSpeaking}
	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnIdle}
	waitFor(t, "speaking ended", func() bool {
		return o.Snapshot().TurnState == fsm.StateIdle
	})
	o.SetMuted(true)

	time.Sleep(120 * time.Millisecond)
	if !o.Snapshot().Muted {
		t.Fatalf("Muted = false, want mute during quiet window to persist")
	}
}

func TestInterimTranscriptUpdatedInPlace(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport.events <- realtime.Event{Type: realtime.EventTranscriptDelta, Role: "user", TurnID: "t1", Text: "hel"}
	transport.events <- realtime.Event{Type: realtime.EventTranscriptDelta, Role: "user", TurnID: "t1", Text: "hello"}
	transport.events <- realtime.Event{Type: realtime.EventTranscriptDelta, Role: "user", TurnID: "t1", Text: "hello there", Final: true}

	waitFor(t, "final transcript", func() bool {
		snap := o.Snapshot()
		return len(snap.Transcript) == 1 && snap.Transcript[0].Final
	})
	snap := o.Snapshot()
	if got := snap.Transcript[0].Text; got != "hello there" {
		t.Fatalf("Text = %q, want %q", got, "hello there")
	}

	// A fresh turn id appends a new line instead of touching the final one.
	transport.events <- realtime.Event{Type: realtime.EventTranscriptDelta, Role: "assistant", TurnID: "t2", Text: "hi"}
	waitFor(t, "second line", func() bool {
		return len(o.Snapshot().Transcript) == 2
	})
}

func TestSecondApprovalRejectedBusy(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport.events <- realtime.Event{Type: realtime.EventToolApprovalRequested, RequestID: "req-1", Tool: "search"}
	transport.events <- realtime.Event{Type: realtime.EventToolApprovalRequested, RequestID: "req-2", Tool: "search"}

	waitFor(t, "busy rejection", func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.resolved) == 1
	})
	transport.mu.Lock()
	got := transport.resolved[0]
	transport.mu.Unlock()
	if got.requestID != "req-2" || got.approved || got.reason != "busy" {
		t.Fatalf("resolved = %+v, want req-2 rejected busy", got)
	}

	snap := o.Snapshot()
	if snap.PendingApproval == nil || snap.PendingApproval.RequestID != "req-1" {
		t.Fatalf("PendingApproval = %+v, want req-1 still pending", snap.PendingApproval)
	}

	o.Approve("req-1")
	waitFor(t, "approval resolved", func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.resolved) == 2
	})
	transport.mu.Lock()
	got = transport.resolved[1]
	transport.mu.Unlock()
	if got.requestID != "req-1" || !got.approved {
		t.Fatalf("resolved = %+v, want req-1 approved", got)
	}
	if o.Snapshot().PendingApproval != nil {
		t.Fatalf("PendingApproval != nil after resolution")
	}
}

func TestApprovalWithStaleIDIgnored(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	transport.events <- realtime.Event{Type: realtime.EventToolApprovalRequested, RequestID: "req-1", Tool: "search"}
	waitFor(t, "pending approval", func() bool {
		return o.Snapshot().PendingApproval != nil
	})

	o.Reject("req-0")
	if o.Snapshot().PendingApproval == nil {
		t.Fatalf("PendingApproval cleared by mismatched request id")
	}
}

func TestInterruptOutsideSpeakingIgnored(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	o.Interrupt()

	transport.mu.Lock()
	got := transport.interrupts
	transport.mu.Unlock()
	if got != 0 {
		t.Fatalf("interrupts = %d, want 0", got)
	}
}

func TestInterruptWhileSpeaking(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	transport.events <- realtime.Event{Type: realtime.EventTurnChanged, TurnState: realtime.TurnSpeaking}
	waitFor(t, "speaking", func() bool {
		return o.Snapshot().TurnState == fsm.StateSpeaking
	})

	o.Interrupt()
	transport.mu.Lock()
	got := transport.interrupts
	transport.mu.Unlock()
	if got != 1 {
		t.Fatalf("interrupts = %d, want 1", got)
	}
	if o.Snapshot().TurnState == fsm.StateSpeaking {
		t.Fatalf("TurnState still speaking after interrupt")
	}
}

func TestGuardrailFlagsFinalAssistantLine(t *testing.T) {
	o, transport := newTestOrchestrator(t, func(cfg *Config) {
		cfg.Guardrail = func(ctx context.Context, text string) error {
			return errors.New("policy violation")
		}
	})
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport.events <- realtime.Event{Type: realtime.EventTranscriptDelta, Role: "assistant", TurnID: "t1", Text: "bad advice", Final: true}
	waitFor(t, "flagged line", func() bool {
		snap := o.Snapshot()
		return len(snap.Transcript) == 1 && snap.Transcript[0].Flagged
	})
}

func TestDisconnectArchivesAndResets(t *testing.T) {
	var (
		archiveMu sync.Mutex
		archived  []TranscriptLine
	)
	o, transport := newTestOrchestrator(t, func(cfg *Config) {
		cfg.ArchiveTranscript = func(lines []TranscriptLine) {
			archiveMu.Lock()
			archived = lines
			archiveMu.Unlock()
		}
	})
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	transport.events <- realtime.Event{Type: realtime.EventTranscriptDelta, Role: "user", TurnID: "t1", Text: "hello", Final: true}
	waitFor(t, "transcript line", func() bool {
		return len(o.Snapshot().Transcript) == 1
	})

	if err := o.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	archiveMu.Lock()
	n := len(archived)
	archiveMu.Unlock()
	if n != 1 {
		t.Fatalf("archived lines = %d, want 1", n)
	}

	snap := o.Snapshot()
	if snap.ConnectionState != StateDisconnected {
		t.Fatalf("ConnectionState = %v, want %v", snap.ConnectionState, StateDisconnected)
	}
	if len(snap.Transcript) != 0 || snap.PendingApproval != nil {
		t.Fatalf("session state not reset: %+v", snap)
	}
	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	if !closed {
		t.Fatalf("transport not closed on disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := o.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := o.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
}

func TestCloseStopsDispatchGoroutine(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		o, _ := newTestOrchestrator(t, nil)
		if err := o.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		o.Close()
		o.Close()
	}
	waitFor(t, "dispatch goroutines to exit", func() bool {
		return runtime.NumGoroutine() <= before+2
	})
}

func TestCloseTearsDownSession(t *testing.T) {
	released := false
	o, transport := newTestOrchestrator(t, func(cfg *Config) {
		cfg.ReleaseMic = func() { released = true }
	})
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	o.Close()
	if got := o.Snapshot().ConnectionState; got != StateDisconnected {
		t.Fatalf("ConnectionState = %q, want %q", got, StateDisconnected)
	}
	if !released {
		t.Fatalf("microphone not released on Close")
	}
	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	if !closed {
		t.Fatalf("transport not closed on Close")
	}
}

func TestSendAudioDroppedWhileMuted(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	o.SetMuted(true)
	if err := o.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	transport.mu.Lock()
	got := len(transport.audio)
	transport.mu.Unlock()
	if got != 0 {
		t.Fatalf("audio frames forwarded = %d, want 0 while muted", got)
	}
}

func TestSendMessageRequiresConnection(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	if err := o.SendMessage("hello"); err == nil {
		t.Fatalf("SendMessage() error = nil, want error while disconnected")
	}
}

func TestBackendDropEmitsErrorAndDisconnects(t *testing.T) {
	o, transport := newTestOrchestrator(t, nil)
	if err := o.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	o.Subscribe(func(evt Event, snap VoiceSession) {
		mu.Lock()
		kinds = append(kinds, evt.Kind)
		mu.Unlock()
	})

	transport.events <- realtime.Event{Type: realtime.EventDisconnected, Err: errors.New("connection reset")}
	waitFor(t, "disconnected", func() bool {
		return o.Snapshot().ConnectionState == StateDisconnected
	})

	waitFor(t, "error event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == KindError {
				return true
			}
		}
		return false
	})
}
