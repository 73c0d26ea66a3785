package ws

import (
	"encoding/json"
	"time"

	core "github.com/aurelia-labs/voiceorb/internal/session"
)

type incomingMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Approved  *bool  `json:"approved,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	Mode      string `json:"mode,omitempty"`
	AudioPCM  string `json:"audio_pcm,omitempty"`
	AudioRate int    `json:"audio_rate,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Theme     string `json:"theme,omitempty"`
	UID       string `json:"uid,omitempty"`
	Query     string `json:"query,omitempty"`

	Documents []documentPayload `json:"documents,omitempty"`
}

type documentPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type transcriptLinePayload struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	Flagged   bool   `json:"flagged,omitempty"`
	Timestamp string `json:"timestamp"`
}

type approvalPayload struct {
	RequestID string          `json:"request_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type snapshotPayload struct {
	ConnectionState string                  `json:"connection_state"`
	TurnState       string                  `json:"turn_state"`
	Muted           bool                    `json:"muted"`
	ParticipantMode string                  `json:"participant_mode"`
	AgentName       string                  `json:"agent_name,omitempty"`
	Transcript      []transcriptLinePayload `json:"transcript"`
	PendingApproval *approvalPayload        `json:"pending_approval,omitempty"`
}

func snapshotToPayload(snap core.VoiceSession) snapshotPayload {
	payload := snapshotPayload{
		ConnectionState: string(snap.ConnectionState),
		TurnState:       string(snap.TurnState),
		Muted:           snap.Muted,
		ParticipantMode: string(snap.ParticipantMode),
		AgentName:       snap.AgentName,
		Transcript:      make([]transcriptLinePayload, 0, len(snap.Transcript)),
	}
	for _, line := range snap.Transcript {
		payload.Transcript = append(payload.Transcript, transcriptLinePayload{
			ID:        line.ID,
			Role:      line.Role,
			Text:      line.Text,
			Final:     line.Final,
			Flagged:   line.Flagged,
			Timestamp: line.Timestamp.Format(time.RFC3339),
		})
	}
	if snap.PendingApproval != nil {
		payload.PendingApproval = &approvalPayload{
			RequestID: snap.PendingApproval.RequestID,
			Tool:      snap.PendingApproval.ToolName,
			Arguments: snap.PendingApproval.Arguments,
		}
	}
	return payload
}
