// Package session owns the voice conversation lifecycle: connect/disconnect,
// the turn-taking state machine, the echo-prevention automaton, the tool
// approval gate, and transcript assembly. Every backend event flows through
// one reducer so subscribers always observe a consistent VoiceSession
// snapshot.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/internal/metrics"
	"github.com/aurelia-labs/voiceorb/internal/rag"
	"github.com/aurelia-labs/voiceorb/internal/realtime"
	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
	"github.com/aurelia-labs/voiceorb/internal/token"
)

// Transport is the command surface the orchestrator drives on the backend
// connection. *realtime.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context, ephemeralToken string) error
	Close() error
	Events() <-chan realtime.Event
	SetMuted(ctx context.Context, muted bool) error
	Interrupt(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	ResolveApproval(ctx context.Context, requestID string, approved bool, reason string) error
	SendAudio(ctx context.Context, encoded []byte) error
}

// TokenMinter exchanges the long-lived API key for an ephemeral token.
type TokenMinter interface {
	Mint(ctx context.Context, apiKey string) (token.Ephemeral, error)
}

// Guardrail checks assistant output before a transcript line is finalized.
// A non-nil error flags the line; the output is still delivered.
type Guardrail func(ctx context.Context, text string) error

// Config wires the orchestrator's collaborators.
type Config struct {
	Backend         realtime.Config
	APIKey          string
	ParticipantMode string
	UnmuteDelay     time.Duration

	NewTransport func(cfg realtime.Config, logger *zap.Logger) Transport
	Minter       TokenMinter
	Indexer      rag.Indexer
	Guardrail    Guardrail

	// ProbeMic verifies microphone availability before the backend dial.
	// ReleaseMic is invoked on every teardown so the device is never left
	// open. Both are optional.
	ProbeMic   func(ctx context.Context) error
	ReleaseMic func()

	// ArchiveTranscript receives the finalized transcript on disconnect.
	ArchiveTranscript func(lines []TranscriptLine)
}

// Orchestrator mediates all backend events into a single VoiceSession.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	machine *fsm.Machine

	stateMu       sync.Mutex
	snap          VoiceSession
	transport     Transport
	connectCancel context.CancelFunc
	runCtx        context.Context
	runCancel     context.CancelFunc
	generation    int
	userMutedPref bool
	unmuteTimer   *time.Timer
	turnIndex     map[string]int
	docs          []rag.Document
	subscribers   []Subscriber

	notifyCh chan notification
	closed   bool
}

type notification struct {
	event Event
	snap  VoiceSession
}

// New creates a disconnected orchestrator.
func New(cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UnmuteDelay <= 0 {
		cfg.UnmuteDelay = 350 * time.Millisecond
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = func(cfg realtime.Config, logger *zap.Logger) Transport {
			return realtime.NewClient(cfg, logger)
		}
	}

	machine := fsm.New()
	machine.SetMode(cfg.ParticipantMode)

	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		machine: machine,
		snap: VoiceSession{
			ConnectionState: StateDisconnected,
			TurnState:       fsm.StateIdle,
			ParticipantMode: machine.Mode(),
		},
		turnIndex: make(map[string]int),
		notifyCh:  make(chan notification, 256),
	}
	go o.dispatchLoop()
	return o
}

// Subscribe registers fn for every orchestrator event. Not removable; the
// orchestrator lives as long as its subscribers.
func (o *Orchestrator) Subscribe(fn Subscriber) {
	o.stateMu.Lock()
	o.subscribers = append(o.subscribers, fn)
	o.stateMu.Unlock()
}

// Snapshot returns a value copy of the current session state.
func (o *Orchestrator) Snapshot() VoiceSession {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.snap.clone()
}

// TurnState returns the current turn phase without copying the transcript.
func (o *Orchestrator) TurnState() fsm.State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.snap.TurnState
}

// IsConnected reports whether the backend session is established.
func (o *Orchestrator) IsConnected() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.snap.ConnectionState == StateConnected
}

// IsConnecting reports whether a connect attempt is in flight.
func (o *Orchestrator) IsConnecting() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.snap.ConnectionState == StateConnecting
}

// SetParticipantMode updates the participant mode. Takes effect on the next
// connect for the backend, immediately for speak-stop policy.
func (o *Orchestrator) SetParticipantMode(mode string) {
	o.machine.SetMode(mode)
	o.stateMu.Lock()
	o.snap.ParticipantMode = o.machine.Mode()
	o.cfg.Backend.Session.ParticipantMode = string(o.machine.Mode())
	o.enqueueLocked(Event{Kind: KindStateChanged})
	o.stateMu.Unlock()
}

// SetContextDocuments stores documents handed to the indexer at connect.
func (o *Orchestrator) SetContextDocuments(docs []rag.Document) {
	o.stateMu.Lock()
	o.docs = append([]rag.Document(nil), docs...)
	o.stateMu.Unlock()
}

// Connect establishes the backend session: mic probe, token mint, dial and
// hello. On any failure the session reverts to disconnected with no partial
// state, and a later Connect is always possible.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.stateMu.Lock()
	if o.snap.ConnectionState == StateConnecting || o.snap.ConnectionState == StateConnected {
		o.stateMu.Unlock()
		return errors.New("session already connecting or connected")
	}
	cctx, cancel := context.WithCancel(ctx)
	o.connectCancel = cancel
	o.snap.ConnectionState = StateConnecting
	gen := o.generation
	docs := append([]rag.Document(nil), o.docs...)
	o.enqueueLocked(Event{Kind: KindStateChanged})
	o.stateMu.Unlock()
	defer cancel()

	fail := func(kind string, err error) error {
		metrics.ConnectFailuresTotal.WithLabelValues(kind).Inc()
		o.stateMu.Lock()
		if o.generation == gen && o.snap.ConnectionState == StateConnecting {
			o.snap.ConnectionState = StateDisconnected
			o.connectCancel = nil
			o.enqueueLocked(Event{Kind: KindStateChanged})
		}
		o.stateMu.Unlock()
		return err
	}

	if o.cfg.ProbeMic != nil {
		if err := o.cfg.ProbeMic(cctx); err != nil {
			var devErr *DeviceError
			if errors.As(err, &devErr) {
				return fail("device_"+string(devErr.Kind), err)
			}
			return fail("device", err)
		}
	}

	if o.cfg.Minter == nil {
		return fail("auth", &token.AuthError{Reason: "no token provider configured"})
	}
	minted, err := o.cfg.Minter.Mint(cctx, o.cfg.APIKey)
	if err != nil {
		var authErr *token.AuthError
		if errors.As(err, &authErr) {
			return fail("auth", err)
		}
		return fail("transport", &realtime.TransportError{Op: "token", Err: err})
	}

	transport := o.cfg.NewTransport(o.cfg.Backend, o.logger)
	if err := transport.Connect(cctx, minted.Token); err != nil {
		return fail("transport", err)
	}

	o.stateMu.Lock()
	if o.generation != gen || cctx.Err() != nil {
		// Disconnect raced the dial; land on a clean disconnected state.
		o.snap.ConnectionState = StateDisconnected
		o.connectCancel = nil
		o.stateMu.Unlock()
		_ = transport.Close()
		return &realtime.TransportError{Op: "connect", Err: context.Canceled}
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	o.transport = transport
	o.runCtx = runCtx
	o.runCancel = runCancel
	o.connectCancel = nil
	o.snap.ConnectionState = StateConnected
	o.snap.TurnState = fsm.StateIdle
	o.enqueueLocked(Event{Kind: KindConnected})
	o.stateMu.Unlock()

	// Indexing catches up in the background; connect success never waits
	// on it.
	if o.cfg.Indexer != nil {
		o.cfg.Indexer.Index(docs)
	}

	metrics.ConnectsTotal.Inc()
	go o.pump(transport, gen)
	return nil
}

// Disconnect tears the session down. Idempotent and safe during an
// in-flight Connect; the microphone is always released.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.stateMu.Lock()
	if cancel := o.connectCancel; cancel != nil {
		o.connectCancel = nil
		cancel()
	}
	after := o.teardownLocked(nil)
	o.stateMu.Unlock()
	if after != nil {
		after()
	}
	return nil
}

// Close tears the session down and stops the dispatch goroutine. The
// orchestrator must not be reused afterwards; call it when the owning
// connection goes away.
func (o *Orchestrator) Close() {
	o.stateMu.Lock()
	if o.closed {
		o.stateMu.Unlock()
		return
	}
	if cancel := o.connectCancel; cancel != nil {
		o.connectCancel = nil
		cancel()
	}
	after := o.teardownLocked(nil)
	o.closed = true
	o.stateMu.Unlock()

	close(o.notifyCh)
	if after != nil {
		after()
	}
}

// SetMuted records the user's mute preference and forwards it. An explicit
// mute cancels any pending delayed unmute.
func (o *Orchestrator) SetMuted(muted bool) {
	o.stateMu.Lock()
	o.userMutedPref = muted
	o.cancelUnmuteLocked()
	o.snap.Muted = muted
	transport := o.transport
	runCtx := o.runCtx
	o.enqueueLocked(Event{Kind: KindStateChanged})
	o.stateMu.Unlock()

	if transport != nil {
		if err := transport.SetMuted(runCtx, muted); err != nil {
			o.logger.Warn("set muted failed", zap.Error(err))
		}
	}
}

// Interrupt cancels agent speech. Valid only while speaking; otherwise a
// logged no-op.
func (o *Orchestrator) Interrupt() {
	o.stateMu.Lock()
	if o.snap.TurnState != fsm.StateSpeaking || o.transport == nil {
		o.stateMu.Unlock()
		o.logger.Debug("interrupt ignored outside speaking state")
		return
	}
	transport := o.transport
	runCtx := o.runCtx
	o.machine.OnInterrupt()
	o.snap.TurnState = o.machine.State()
	o.scheduleUnmuteLocked()
	o.enqueueLocked(Event{Kind: KindAudioInterrupted})
	o.stateMu.Unlock()

	if err := transport.Interrupt(runCtx); err != nil {
		o.logger.Warn("interrupt failed", zap.Error(err))
	}
}

// SendMessage injects a text turn as the fallback input modality.
func (o *Orchestrator) SendMessage(text string) error {
	o.stateMu.Lock()
	transport := o.transport
	runCtx := o.runCtx
	o.stateMu.Unlock()
	if transport == nil {
		return errors.New("session is not connected")
	}
	return transport.SendText(runCtx, text)
}

// SendAudio forwards one encoded input frame while listening and unmuted.
func (o *Orchestrator) SendAudio(encoded []byte) error {
	o.stateMu.Lock()
	transport := o.transport
	runCtx := o.runCtx
	muted := o.snap.Muted
	o.stateMu.Unlock()
	if transport == nil {
		return errors.New("session is not connected")
	}
	if muted {
		return nil
	}
	return transport.SendAudio(runCtx, encoded)
}

// Approve resolves the pending approval request if requestID matches.
func (o *Orchestrator) Approve(requestID string) {
	o.resolveApproval(requestID, true)
}

// Reject resolves the pending approval request if requestID matches.
func (o *Orchestrator) Reject(requestID string) {
	o.resolveApproval(requestID, false)
}

func (o *Orchestrator) resolveApproval(requestID string, approved bool) {
	o.stateMu.Lock()
	pending := o.snap.PendingApproval
	if pending == nil || pending.RequestID != requestID {
		o.stateMu.Unlock()
		o.logger.Warn("approval resolution ignored",
			zap.String("request_id", requestID),
			zap.Bool("approved", approved),
		)
		return
	}
	o.snap.PendingApproval = nil
	transport := o.transport
	runCtx := o.runCtx
	o.enqueueLocked(Event{Kind: KindStateChanged})
	o.stateMu.Unlock()

	if transport != nil {
		if err := transport.ResolveApproval(runCtx, requestID, approved, ""); err != nil {
			o.logger.Warn("approval resolution send failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) pump(transport Transport, gen int) {
	for evt := range transport.Events() {
		o.reduce(evt, gen)
	}
}

func (o *Orchestrator) reduce(evt realtime.Event, gen int) {
	o.stateMu.Lock()
	if o.generation != gen {
		o.stateMu.Unlock()
		return
	}

	var after func()
	switch evt.Type {
	case realtime.EventConnected:
		// Connect() already published the connected snapshot.
	case realtime.EventDisconnected:
		if evt.Err != nil {
			o.snap.ConnectionState = StateError
			o.enqueueLocked(Event{Kind: KindError, Err: evt.Err})
		}
		after = o.teardownLocked(evt.Err)
	case realtime.EventTurnChanged:
		after = o.applyTurnLocked(evt.TurnState)
	case realtime.EventTranscriptDelta:
		o.applyTranscriptLocked(evt)
	case realtime.EventToolApprovalRequested:
		after = o.applyApprovalRequestLocked(evt)
	case realtime.EventToolCallStarted:
		o.enqueueLocked(Event{Kind: KindToolCallStarted, Tool: evt.Tool})
	case realtime.EventToolCallCompleted:
		o.enqueueLocked(Event{Kind: KindToolCallCompleted, Tool: evt.Tool})
	case realtime.EventAgentSwitched:
		o.snap.AgentName = evt.Agent
		o.enqueueLocked(Event{Kind: KindAgentSwitched, Agent: evt.Agent})
	case realtime.EventAudioInterrupted:
		if o.snap.TurnState == fsm.StateSpeaking {
			o.machine.OnInterrupt()
			o.snap.TurnState = o.machine.State()
			o.scheduleUnmuteLocked()
		}
		o.enqueueLocked(Event{Kind: KindAudioInterrupted})
	case realtime.EventError:
		o.enqueueLocked(Event{Kind: KindError, Err: evt.Err})
	}
	o.stateMu.Unlock()

	if after != nil {
		after()
	}
}

// applyTurnLocked runs the echo-prevention automaton alongside the turn
// transition: entering speaking forces mute in the same reduction; leaving
// speaking schedules the delayed restore of the user's preference.
func (o *Orchestrator) applyTurnLocked(state realtime.TurnState) func() {
	prev := o.snap.TurnState
	if err := o.machine.Force(fsm.State(state)); err != nil {
		metrics.ProtocolViolationsTotal.Inc()
		o.logger.Warn("invalid turn state from backend", zap.String("state", string(state)))
		return nil
	}
	o.snap.TurnState = o.machine.State()

	var after func()
	if o.snap.TurnState == fsm.StateSpeaking && prev != fsm.StateSpeaking {
		o.cancelUnmuteLocked()
		o.snap.Muted = true
		transport := o.transport
		runCtx := o.runCtx
		if transport != nil {
			after = func() {
				if err := transport.SetMuted(runCtx, true); err != nil {
					o.logger.Warn("auto-mute failed", zap.Error(err))
				}
			}
		}
	} else if prev == fsm.StateSpeaking && o.snap.TurnState != fsm.StateSpeaking {
		o.scheduleUnmuteLocked()
	}

	o.enqueueLocked(Event{Kind: KindStateChanged})
	return after
}

func (o *Orchestrator) applyTranscriptLocked(evt realtime.Event) {
	now := time.Now()
	key := evt.TurnID
	if key == "" {
		key = "interim:" + evt.Role
	}

	var line TranscriptLine
	if idx, ok := o.turnIndex[key]; ok && !o.snap.Transcript[idx].Final {
		existing := &o.snap.Transcript[idx]
		existing.Text = evt.Text
		existing.Final = evt.Final
		existing.Timestamp = now
		line = *existing
	} else {
		line = TranscriptLine{
			ID:        lineID(evt.TurnID),
			Role:      evt.Role,
			Text:      evt.Text,
			Final:     evt.Final,
			Timestamp: now,
		}
		o.snap.Transcript = append(o.snap.Transcript, line)
		o.turnIndex[key] = len(o.snap.Transcript) - 1
	}

	if evt.Final && evt.Role == "assistant" && o.cfg.Guardrail != nil {
		if err := o.cfg.Guardrail(o.runCtx, evt.Text); err != nil {
			metrics.GuardrailTripsTotal.Inc()
			if idx, ok := o.turnIndex[key]; ok {
				o.snap.Transcript[idx].Flagged = true
				line = o.snap.Transcript[idx]
			}
			o.enqueueLocked(Event{Kind: KindGuardrailTripped, Line: &line, Err: err})
		}
	}
	if evt.Final {
		delete(o.turnIndex, key)
	}

	o.enqueueLocked(Event{Kind: KindTranscriptDelta, Line: &line})
}

func (o *Orchestrator) applyApprovalRequestLocked(evt realtime.Event) func() {
	if o.snap.PendingApproval != nil {
		// Protocol violation: only one approval may be outstanding. The
		// first request stays resolvable; the newcomer is refused.
		metrics.ProtocolViolationsTotal.Inc()
		o.logger.Warn("approval requested while one is pending",
			zap.String("pending_request_id", o.snap.PendingApproval.RequestID),
			zap.String("request_id", evt.RequestID),
		)
		transport := o.transport
		runCtx := o.runCtx
		requestID := evt.RequestID
		if transport == nil {
			return nil
		}
		return func() {
			if err := transport.ResolveApproval(runCtx, requestID, false, "busy"); err != nil {
				o.logger.Warn("busy rejection send failed", zap.Error(err))
			}
		}
	}

	pending := &ToolApprovalRequest{
		RequestID:  evt.RequestID,
		ToolName:   evt.Tool,
		Arguments:  evt.Arguments,
		ReceivedAt: time.Now(),
	}
	o.snap.PendingApproval = pending
	o.enqueueLocked(Event{Kind: KindToolApprovalRequested, Approval: pending})
	return nil
}

// scheduleUnmuteLocked arms the post-speaking quiet period. The restore is
// skipped if the user mutes explicitly before it fires.
func (o *Orchestrator) scheduleUnmuteLocked() {
	o.cancelUnmuteLocked()
	if o.userMutedPref {
		// Preference is already muted; nothing to restore.
		return
	}
	gen := o.generation
	o.unmuteTimer = time.AfterFunc(o.cfg.UnmuteDelay, func() {
		o.stateMu.Lock()
		if o.generation != gen {
			o.stateMu.Unlock()
			return
		}
		o.unmuteTimer = nil
		if o.userMutedPref || !o.snap.Muted {
			o.stateMu.Unlock()
			return
		}
		o.snap.Muted = false
		transport := o.transport
		runCtx := o.runCtx
		o.enqueueLocked(Event{Kind: KindStateChanged})
		o.stateMu.Unlock()

		if transport != nil {
			if err := transport.SetMuted(runCtx, false); err != nil {
				o.logger.Warn("delayed unmute failed", zap.Error(err))
			}
		}
	})
}

func (o *Orchestrator) cancelUnmuteLocked() {
	if o.unmuteTimer != nil {
		o.unmuteTimer.Stop()
		o.unmuteTimer = nil
	}
}

// teardownLocked resets the session under the state lock and returns the
// side effects (mic release, transport close, archive) to run after it is
// released; those hooks may call back into the orchestrator.
func (o *Orchestrator) teardownLocked(cause error) func() {
	if o.snap.ConnectionState == StateDisconnected && o.transport == nil {
		return nil
	}
	o.generation++
	o.cancelUnmuteLocked()
	if o.runCancel != nil {
		o.runCancel()
		o.runCancel = nil
		o.runCtx = nil
	}
	transport := o.transport
	o.transport = nil

	archived := o.snap.Transcript
	o.snap.Transcript = nil
	o.snap.PendingApproval = nil
	o.snap.AgentName = ""
	o.turnIndex = make(map[string]int)
	o.machine.Reset()
	o.snap.TurnState = o.machine.State()
	o.snap.Muted = o.userMutedPref
	o.snap.ConnectionState = StateDisconnected

	if cause != nil {
		o.logger.Info("session torn down", zap.Error(cause))
	}
	o.enqueueLocked(Event{Kind: KindDisconnected, Err: cause})

	return func() {
		if o.cfg.ReleaseMic != nil {
			o.cfg.ReleaseMic()
		}
		if transport != nil {
			_ = transport.Close()
		}
		if o.cfg.ArchiveTranscript != nil && len(archived) > 0 {
			o.cfg.ArchiveTranscript(archived)
		}
	}
}

// enqueueLocked records an event with the snapshot it produced; the
// dispatch loop delivers them in order outside the state lock.
func (o *Orchestrator) enqueueLocked(evt Event) {
	if o.closed {
		return
	}
	n := notification{event: evt, snap: o.snap.clone()}
	select {
	case o.notifyCh <- n:
	default:
		o.logger.Warn("subscriber queue full; event dropped", zap.String("kind", string(evt.Kind)))
	}
}

func (o *Orchestrator) dispatchLoop() {
	for n := range o.notifyCh {
		o.stateMu.Lock()
		subs := append([]Subscriber(nil), o.subscribers...)
		o.stateMu.Unlock()
		for _, fn := range subs {
			fn(n.event, n.snap)
		}
	}
}

func lineID(turnID string) string {
	if turnID != "" {
		return turnID
	}
	return uuid.NewString()
}
