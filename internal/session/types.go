package session

import (
	"encoding/json"
	"time"

	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
)

// ConnectionState describes the backend connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// TranscriptLine is one line of the conversation transcript. Interim lines
// mutate in place under the same ID until finalized; final lines are
// immutable.
type TranscriptLine struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Flagged   bool      `json:"flagged,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolApprovalRequest is the single outstanding approval gate entry.
type ToolApprovalRequest struct {
	RequestID  string          `json:"request_id"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// VoiceSession is the consistent state snapshot produced by the reducer.
// Subscribers receive value copies only.
type VoiceSession struct {
	ConnectionState ConnectionState      `json:"connection_state"`
	TurnState       fsm.State            `json:"turn_state"`
	Muted           bool                 `json:"muted"`
	ParticipantMode fsm.Mode             `json:"participant_mode"`
	AgentName       string               `json:"agent_name,omitempty"`
	Transcript      []TranscriptLine     `json:"transcript"`
	PendingApproval *ToolApprovalRequest `json:"pending_approval,omitempty"`
}

func (s VoiceSession) clone() VoiceSession {
	out := s
	out.Transcript = make([]TranscriptLine, len(s.Transcript))
	copy(out.Transcript, s.Transcript)
	if s.PendingApproval != nil {
		pending := *s.PendingApproval
		out.PendingApproval = &pending
	}
	return out
}

// EventKind enumerates orchestrator event notifications.
type EventKind string

const (
	KindConnected             EventKind = "connected"
	KindDisconnected          EventKind = "disconnected"
	KindStateChanged          EventKind = "state_changed"
	KindTranscriptDelta       EventKind = "transcript_delta"
	KindAgentSwitched         EventKind = "agent_switched"
	KindToolApprovalRequested EventKind = "tool_approval_requested"
	KindToolCallStarted       EventKind = "tool_call_started"
	KindToolCallCompleted     EventKind = "tool_call_completed"
	KindGuardrailTripped      EventKind = "guardrail_tripped"
	KindAudioInterrupted      EventKind = "audio_interrupted"
	KindError                 EventKind = "error"
)

// Event is one orchestrator notification. Every delivery carries the
// post-reduction session snapshot so handler order can never observe torn
// state.
type Event struct {
	Kind     EventKind
	Line     *TranscriptLine
	Approval *ToolApprovalRequest
	Tool     string
	Agent    string
	Err      error
}

// Subscriber receives every event with the snapshot it produced.
type Subscriber func(Event, VoiceSession)
