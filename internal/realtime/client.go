// Package realtime implements the websocket client for the remote voice
// backend: hello handshake, typed event stream, and the command surface the
// orchestrator drives (mute, interrupt, text input, approval resolution,
// binary audio frames).
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/internal/realtime/codec"
)

const helloTimeout = 5 * time.Second

// TransportError indicates a signaling or network failure talking to the
// backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport: " + e.Op
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is a single-connection backend client. Unlike a resilient proxy it
// does not reconnect on its own; the orchestrator owns retry policy.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	closed     bool
	sessionID  string
	version    int
	helloAckCh chan struct{}
	helloOnce  sync.Once

	writeMu sync.Mutex

	events chan Event
}

// NewClient creates a client for one backend session.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ProtocolVersion = codec.NormalizeVersion(cfg.ProtocolVersion)
	return &Client{
		cfg:        cfg,
		logger:     logger,
		version:    cfg.ProtocolVersion,
		helloAckCh: make(chan struct{}),
		events:     make(chan Event, 64),
	}
}

// Events returns the backend event stream. The channel is closed after the
// connection ends and the final disconnected event has been delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect dials the backend with the ephemeral token, performs the hello
// handshake, and starts the read loop. It returns once the backend has
// acknowledged the session.
func (c *Client) Connect(ctx context.Context, ephemeralToken string) error {
	if strings.TrimSpace(c.cfg.BackendURL) == "" {
		return &TransportError{Op: "dial", Err: errors.New("backend url is empty")}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+ephemeralToken)
	headers.Set("Protocol-Version", strconv.Itoa(c.version))

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.cfg.BackendURL, headers)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return &TransportError{Op: "dial", Err: errors.New("client closed")}
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.sendHello(ctx); err != nil {
		c.Close()
		return &TransportError{Op: "hello", Err: err}
	}

	go c.readLoop(conn)

	select {
	case <-c.helloAckCh:
	case <-ctx.Done():
		c.Close()
		return &TransportError{Op: "hello", Err: ctx.Err()}
	case <-time.After(helloTimeout):
		c.Close()
		return &TransportError{Op: "hello", Err: errors.New("backend hello not acknowledged")}
	}
	return nil
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SetMuted tells the backend to stop or resume accepting input audio.
func (c *Client) SetMuted(ctx context.Context, muted bool) error {
	return c.sendCommand(ctx, map[string]any{"type": "mute", "muted": muted})
}

// Interrupt cancels in-flight agent audio output.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.sendCommand(ctx, map[string]any{"type": "abort", "reason": "user_interrupt"})
}

// SendText injects a text turn as if spoken.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.sendCommand(ctx, map[string]any{"type": "input", "text": text})
}

// ResolveApproval reports the user's decision for a pending tool call.
func (c *Client) ResolveApproval(ctx context.Context, requestID string, approved bool, reason string) error {
	payload := map[string]any{"type": "tool_approval_result", "request_id": requestID, "approved": approved}
	if reason != "" {
		payload["reason"] = reason
	}
	return c.sendCommand(ctx, payload)
}

// SendAudio writes one encoded input audio frame.
func (c *Client) SendAudio(ctx context.Context, encoded []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	version := c.version
	c.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "send audio", Err: errors.New("connection not ready")}
	}

	frame, err := codec.Pack(version, encoded)
	if err != nil {
		return &TransportError{Op: "send audio", Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return &TransportError{Op: "send audio", Err: err}
	}
	return nil
}

// SessionID returns the backend-assigned session id, if negotiated.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) sendHello(ctx context.Context) error {
	payload := map[string]any{
		"type":    "hello",
		"version": c.version,
		"audio_params": map[string]any{
			"format":         c.cfg.AudioParams.Format,
			"sample_rate":    c.cfg.AudioParams.SampleRate,
			"channels":       c.cfg.AudioParams.Channels,
			"frame_duration": c.cfg.AudioParams.FrameDuration,
		},
		"session": c.cfg.Session,
	}
	return c.sendJSON(ctx, payload)
}

func (c *Client) sendCommand(ctx context.Context, payload map[string]any) error {
	c.mu.Lock()
	if sessionID := c.sessionID; sessionID != "" {
		payload["session_id"] = sessionID
	}
	c.mu.Unlock()
	return c.sendJSON(ctx, payload)
}

func (c *Client) sendJSON(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "send", Err: errors.New("connection not ready")}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleMessage(data)
		case websocket.BinaryMessage:
			payload, kind, decodeErr := codec.Decode(c.getVersion(), data)
			if decodeErr != nil {
				c.emit(Event{Type: EventError, Err: decodeErr})
				continue
			}
			if kind == codec.PayloadKindCommand {
				c.handleMessage(payload)
			}
			// Output audio frames are not analyzed; the speaking-level
			// curve is synthesized downstream.
		}
	}

	c.mu.Lock()
	wasClosed := c.closed
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if wasClosed {
		c.emit(Event{Type: EventDisconnected})
	} else {
		c.emit(Event{Type: EventDisconnected, Err: readErr})
	}
	close(c.events)
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type      string          `json:"type"`
		SessionID string          `json:"session_id,omitempty"`
		Version   int             `json:"version,omitempty"`
		Role      string          `json:"role,omitempty"`
		Text      string          `json:"text,omitempty"`
		Final     bool            `json:"final,omitempty"`
		TurnID    string          `json:"turn_id,omitempty"`
		State     string          `json:"state,omitempty"`
		RequestID string          `json:"request_id,omitempty"`
		Tool      string          `json:"tool,omitempty"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
		Agent     string          `json:"agent,omitempty"`
		Message   string          `json:"message,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.emit(Event{Type: EventError, Err: err})
		return
	}
	if msg.SessionID != "" {
		c.setSessionID(msg.SessionID)
	}

	switch msg.Type {
	case "hello":
		if msg.Version > 0 {
			c.setVersion(msg.Version)
		}
		c.helloOnce.Do(func() {
			c.logger.Info("backend hello acknowledged",
				zap.String("session_id", c.SessionID()),
				zap.Int("protocol_version", c.getVersion()),
			)
			close(c.helloAckCh)
			c.emit(Event{Type: EventConnected})
		})
	case "transcript":
		c.emit(Event{
			Type:   EventTranscriptDelta,
			Role:   normalizeRole(msg.Role),
			Text:   msg.Text,
			Final:  msg.Final,
			TurnID: msg.TurnID,
		})
	case "turn":
		c.emit(Event{Type: EventTurnChanged, TurnState: normalizeTurnState(msg.State)})
	case "tool_approval":
		c.emit(Event{Type: EventToolApprovalRequested, RequestID: msg.RequestID, Tool: msg.Tool, Arguments: msg.Arguments})
	case "tool_call":
		switch msg.State {
		case "completed":
			c.emit(Event{Type: EventToolCallCompleted, RequestID: msg.RequestID, Tool: msg.Tool})
		default:
			c.emit(Event{Type: EventToolCallStarted, RequestID: msg.RequestID, Tool: msg.Tool})
		}
	case "agent":
		c.emit(Event{Type: EventAgentSwitched, Agent: msg.Agent})
	case "audio_interrupted":
		c.emit(Event{Type: EventAudioInterrupted})
	case "error":
		c.emit(Event{Type: EventError, Err: errors.New(msg.Message)})
	default:
		c.logger.Debug("backend unknown message type", zap.String("type", msg.Type))
	}
}

func (c *Client) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
		// A stalled consumer must not block the read loop; drop and count on
		// the consumer resyncing from the next snapshot.
		c.logger.Warn("backend event dropped", zap.String("type", string(evt.Type)))
	}
}

func (c *Client) setSessionID(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Client) getVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Client) setVersion(version int) {
	normalized := codec.NormalizeVersion(version)
	c.mu.Lock()
	changed := c.version != normalized
	c.version = normalized
	c.mu.Unlock()
	if changed {
		c.logger.Info("negotiated protocol version updated", zap.Int("protocol_version", normalized))
	}
}

func normalizeRole(role string) string {
	switch strings.TrimSpace(strings.ToLower(role)) {
	case "assistant", "agent":
		return "assistant"
	default:
		return "user"
	}
}

func normalizeTurnState(state string) TurnState {
	switch strings.TrimSpace(strings.ToLower(state)) {
	case string(TurnListening):
		return TurnListening
	case string(TurnThinking):
		return TurnThinking
	case string(TurnSpeaking):
		return TurnSpeaking
	default:
		return TurnIdle
	}
}
