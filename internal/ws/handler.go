// Package ws hosts the browser shell session: one websocket per client
// carrying intents in and snapshots, visualization frames and audio levels
// out.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/aurelia-labs/voiceorb/internal/config"
	"github.com/aurelia-labs/voiceorb/internal/metrics"
	"github.com/aurelia-labs/voiceorb/internal/rag"
	"github.com/aurelia-labs/voiceorb/internal/realtime"
	"github.com/aurelia-labs/voiceorb/internal/sampler"
	core "github.com/aurelia-labs/voiceorb/internal/session"
	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
	"github.com/aurelia-labs/voiceorb/internal/storage"
	"github.com/aurelia-labs/voiceorb/internal/token"
	"github.com/aurelia-labs/voiceorb/internal/tools"
	"github.com/aurelia-labs/voiceorb/internal/viz"
)

// Handler upgrades shell connections and owns the live session set.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	config   appconfig.Config
	archive  *storage.Archive
	registry *tools.Registry
	sessions map[string]*session
	mu       sync.Mutex
}

func NewHandler(cfg appconfig.Config, archive *storage.Archive, registry *tools.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		config:   cfg,
		archive:  archive,
		registry: registry,
		sessions: make(map[string]*session),
	}
}

type session struct {
	conn    *websocket.Conn
	sendMu  sync.Mutex
	logger  *zap.Logger
	handler *Handler

	clientUID string
	orch      *core.Orchestrator
	engine    *viz.Engine
	smp       *sampler.Sampler
	analyzer  *sampler.BandAnalyzer

	indexer *rag.Memory

	chainMu   sync.Mutex
	chain     *sampler.Chain
	deviceErr *core.DeviceError

	frameSeq uint64
}

// Handle runs one shell connection to completion.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{
		conn:      conn,
		logger:    h.logger,
		handler:   h,
		clientUID: uuid.NewString(),
		smp:       sampler.New(sampler.Config{}),
		analyzer:  sampler.NewBandAnalyzer(h.config.Audio.SampleRate),
	}

	theme := viz.LoadTheme(h.config.Viz.ThemeDir, h.config.Viz.Theme)
	sess.engine = viz.NewEngine(viz.Config{
		Width:     h.config.Viz.Width,
		Height:    h.config.Viz.Height,
		FrameRate: h.config.Viz.FrameRate,
		Quality:   h.config.Viz.QualityTier,
		Theme:     theme,
	}, func() fsm.State { return sess.orch.TurnState() }, sess.smp, h.logger)

	sess.orch = core.New(h.orchestratorConfig(sess), h.logger)
	sess.orch.Subscribe(sess.onSessionEvent)
	sess.engine.SetSink(sess.onVizFrame)

	sess.logger.Info("shell session opened", zap.String("session_id", sess.clientUID))
	h.registerSession(sess)
	sess.sendInit()

	go func() { _ = sess.engine.Run(ctx) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("shell connection closed", zap.Error(err))
			break
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendJSON(map[string]any{"type": "error", "message": "invalid json"})
			continue
		}
		if msg.Type != "heartbeat" && msg.Type != "mic-audio-data" {
			sess.logger.Debug("shell incoming message",
				zap.String("session_id", sess.clientUID),
				zap.String("type", msg.Type),
			)
		}
		sess.dispatchIncoming(ctx, msg)
	}

	cancel()
	sess.orch.Close()
	sess.closeChain()
	h.unregisterSession(sess.clientUID)
	sess.logger.Info("shell session closed", zap.String("session_id", sess.clientUID))
}

func (h *Handler) orchestratorConfig(sess *session) core.Config {
	cfg := h.config
	sess.indexer = rag.NewMemory(h.logger)
	return core.Config{
		Backend: realtime.Config{
			BackendURL:      cfg.Backend.URL,
			ProtocolVersion: 2,
			AudioParams: realtime.AudioParams{
				Format:        "opus",
				SampleRate:    cfg.Audio.SampleRate,
				Channels:      cfg.Audio.Channels,
				FrameDuration: cfg.Audio.FrameDuration,
			},
			Session: realtime.SessionConfig{
				Voice:                   cfg.Backend.Voice,
				Language:                cfg.Backend.Language,
				InputTranscriptionModel: cfg.Backend.InputTranscriptionModel,
				NoiseReduction:          cfg.Backend.NoiseReduction,
				ParticipantMode:         cfg.Session.ParticipantMode,
				TurnDetection: realtime.TurnDetection{
					Mode:                  cfg.TurnDetection.Mode,
					Sensitivity:           cfg.TurnDetection.Sensitivity,
					SilenceThresholdMs:    cfg.TurnDetection.SilenceThresholdMs,
					InterruptOnUserSpeech: cfg.TurnDetection.InterruptOnUserSpeech,
				},
				Tools: h.registry.List(),
			},
		},
		APIKey:            cfg.Backend.APIKey,
		ParticipantMode:   cfg.Session.ParticipantMode,
		UnmuteDelay:       time.Duration(cfg.Session.UnmuteDelayMs) * time.Millisecond,
		Minter:            token.NewProvider(cfg.Backend.TokenURL, h.logger),
		Indexer:           sess.indexer,
		ProbeMic:          sess.probeMic,
		ReleaseMic:        sess.closeChain,
		ArchiveTranscript: h.archiveTranscript,
	}
}

func (h *Handler) archiveTranscript(lines []core.TranscriptLine) {
	if h.archive == nil || len(lines) == 0 {
		return
	}
	archived := make([]storage.ArchivedLine, 0, len(lines))
	for _, line := range lines {
		archived = append(archived, storage.ArchivedLine{
			ID:        line.ID,
			Role:      line.Role,
			Text:      line.Text,
			Flagged:   line.Flagged,
			Timestamp: line.Timestamp.Format(time.RFC3339),
		})
	}
	uid, err := h.archive.Save(archived)
	if err != nil {
		h.logger.Warn("transcript archive failed", zap.Error(err))
		return
	}
	h.logger.Info("transcript archived", zap.String("uid", uid), zap.Int("lines", len(archived)))
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	h.sessions[sess.clientUID] = sess
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

func (h *Handler) unregisterSession(uid string) {
	h.mu.Lock()
	delete(h.sessions, uid)
	h.mu.Unlock()
	metrics.ActiveSessions.Dec()
}

func (s *session) sendInit() {
	s.sendJSON(map[string]any{
		"type":       "orb-config",
		"session_id": s.clientUID,
		"width":      s.handler.config.Viz.Width,
		"height":     s.handler.config.Viz.Height,
		"frame_rate": s.handler.config.Viz.FrameRate,
		"quality":    s.handler.config.Viz.QualityTier,
		"themes":     viz.ScanThemes(s.handler.config.Viz.ThemeDir),
	})
	s.sendSnapshot(s.orch.Snapshot())
}

func (s *session) onSessionEvent(evt core.Event, snap core.VoiceSession) {
	switch evt.Kind {
	case core.KindToolApprovalRequested:
		if evt.Approval != nil {
			s.sendJSON(map[string]any{
				"type": "approval-request",
				"request": approvalPayload{
					RequestID: evt.Approval.RequestID,
					Tool:      evt.Approval.ToolName,
					Arguments: evt.Approval.Arguments,
				},
			})
		}
	case core.KindGuardrailTripped:
		msg := "response flagged by guardrail"
		if evt.Err != nil {
			msg = evt.Err.Error()
		}
		s.sendJSON(map[string]any{"type": "guardrail", "message": msg})
	case core.KindError:
		if evt.Err != nil {
			s.sendJSON(map[string]any{"type": "error", "message": evt.Err.Error()})
		}
	case core.KindDisconnected:
		s.closeChain()
	}

	if snap.TurnState != fsm.StateListening {
		s.closeChain()
	}
	s.sendSnapshot(snap)
}

// onVizFrame forwards every rendered frame; the lighter audio-level message
// goes out at 10Hz and on every peak.
func (s *session) onVizFrame(frame viz.Frame) {
	s.sendJSON(map[string]any{"type": "viz-frame", "frame": frame})
	s.frameSeq++
	if frame.Peak || s.frameSeq%6 == 0 {
		s.sendJSON(map[string]any{"type": "audio-level", "level": frame.Level, "peak": frame.Peak})
	}
}

func (s *session) sendSnapshot(snap core.VoiceSession) {
	s.sendJSON(map[string]any{"type": "session-snapshot", "session": snapshotToPayload(snap)})
}

func (s *session) sendJSON(payload map[string]any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws send failed",
			zap.String("session_id", s.clientUID),
			zap.Error(err),
		)
	}
}
