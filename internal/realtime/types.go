package realtime

import "encoding/json"

// TurnDetection tunes how eagerly the backend decides a user turn has
// ended. It is carried verbatim in the hello payload; the server never runs
// turn detection itself.
type TurnDetection struct {
	Mode                  string `json:"mode"`
	Sensitivity           string `json:"sensitivity"`
	SilenceThresholdMs    int    `json:"silence_threshold_ms"`
	InterruptOnUserSpeech bool   `json:"interrupt_on_user_speech"`
}

// ToolDescriptor announces a named tool the agent may invoke.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// SessionConfig is the negotiated session options sent with hello.
type SessionConfig struct {
	Voice                   string           `json:"voice,omitempty"`
	Language                string           `json:"language,omitempty"`
	InputTranscriptionModel string           `json:"input_transcription_model,omitempty"`
	NoiseReduction          string           `json:"noise_reduction,omitempty"`
	ParticipantMode         string           `json:"participant_mode,omitempty"`
	TurnDetection           TurnDetection    `json:"turn_detection"`
	Tools                   []ToolDescriptor `json:"tools,omitempty"`
}

// AudioParams describes the upstream PCM/opus format.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// Config holds dial parameters for the backend client.
type Config struct {
	BackendURL      string
	ProtocolVersion int
	AudioParams     AudioParams
	Session         SessionConfig
}

// TurnState mirrors the backend's turn phase vocabulary.
type TurnState string

const (
	TurnIdle      TurnState = "idle"
	TurnListening TurnState = "listening"
	TurnThinking  TurnState = "thinking"
	TurnSpeaking  TurnState = "speaking"
)

// EventType enumerates backend event kinds.
type EventType string

const (
	EventConnected             EventType = "connected"
	EventDisconnected          EventType = "disconnected"
	EventTranscriptDelta       EventType = "transcript_delta"
	EventTurnChanged           EventType = "turn_changed"
	EventToolApprovalRequested EventType = "tool_approval_requested"
	EventToolCallStarted       EventType = "tool_call_started"
	EventToolCallCompleted     EventType = "tool_call_completed"
	EventAgentSwitched         EventType = "agent_switched"
	EventAudioInterrupted      EventType = "audio_interrupted"
	EventError                 EventType = "error"
)

// Event is a single typed backend event. Fields are populated per type.
type Event struct {
	Type      EventType
	Role      string
	Text      string
	Final     bool
	TurnID    string
	TurnState TurnState
	RequestID string
	Tool      string
	Arguments json.RawMessage
	Agent     string
	Err       error
}
