package ws

import (
	"context"
	"encoding/base64"
	"errors"

	"go.uber.org/zap"

	"github.com/aurelia-labs/voiceorb/internal/rag"
	"github.com/aurelia-labs/voiceorb/internal/realtime"
	"github.com/aurelia-labs/voiceorb/internal/sampler"
	core "github.com/aurelia-labs/voiceorb/internal/session"
	"github.com/aurelia-labs/voiceorb/internal/session/fsm"
	"github.com/aurelia-labs/voiceorb/internal/token"
	"github.com/aurelia-labs/voiceorb/internal/viz"
)

type incomingHandler func(context.Context, incomingMessage)

func (s *session) dispatchIncoming(ctx context.Context, msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"connect":                s.onConnect,
		"disconnect":             s.onDisconnect,
		"set-mute":               s.onSetMute,
		"interrupt-signal":       s.onInterruptSignal,
		"text-input":             s.onTextInput,
		"tool-approval-response": s.onApprovalResponse,
		"mic-audio-data":         s.onMicAudioData,
		"mic-audio-end":          s.onMicAudioEnd,
		"set-participant-mode":   s.onSetParticipantMode,
		"report-device-error":    s.onReportDeviceError,
		"resize":                 s.onResize,
		"set-quality":            s.onSetQuality,
		"set-theme":              s.onSetTheme,
		"fetch-themes":           s.onFetchThemes,
		"set-context":            s.onSetContext,
		"search-context":         s.onSearchContext,
		"fetch-history-list":     s.onFetchHistoryList,
		"fetch-history":          s.onFetchHistory,
		"delete-history":         s.onDeleteHistory,
		"heartbeat":              s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("shell unknown message type",
		zap.String("session_id", s.clientUID),
		zap.String("type", msg.Type),
	)
}

func (s *session) onConnect(ctx context.Context, _ incomingMessage) {
	go func() {
		if err := s.orch.Connect(ctx); err != nil {
			s.sendJSON(map[string]any{"type": "error", "message": connectErrorMessage(err)})
		}
	}()
}

// connectErrorMessage maps the error taxonomy to what the shell displays.
func connectErrorMessage(err error) string {
	var devErr *core.DeviceError
	if errors.As(err, &devErr) {
		return devErr.UserMessage()
	}
	var authErr *token.AuthError
	if errors.As(err, &authErr) {
		return "Authentication failed: " + authErr.Reason
	}
	var transportErr *realtime.TransportError
	if errors.As(err, &transportErr) {
		return "Could not reach the voice service. Check your connection and try again."
	}
	return err.Error()
}

func (s *session) onDisconnect(ctx context.Context, _ incomingMessage) {
	if err := s.orch.Disconnect(ctx); err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
	}
}

func (s *session) onSetMute(_ context.Context, msg incomingMessage) {
	if msg.Muted == nil {
		return
	}
	s.orch.SetMuted(*msg.Muted)
}

func (s *session) onInterruptSignal(_ context.Context, _ incomingMessage) {
	s.orch.Interrupt()
}

func (s *session) onTextInput(_ context.Context, msg incomingMessage) {
	if msg.Text == "" {
		return
	}
	if err := s.orch.SendMessage(msg.Text); err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": err.Error()})
	}
}

func (s *session) onApprovalResponse(_ context.Context, msg incomingMessage) {
	if msg.RequestID == "" || msg.Approved == nil {
		return
	}
	if *msg.Approved {
		s.orch.Approve(msg.RequestID)
	} else {
		s.orch.Reject(msg.RequestID)
	}
}

func (s *session) onMicAudioData(_ context.Context, msg incomingMessage) {
	if msg.AudioPCM == "" {
		return
	}
	if s.orch.TurnState() != fsm.StateListening {
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.AudioPCM)
	if err != nil {
		s.logger.Debug("bad mic payload", zap.String("session_id", s.clientUID), zap.Error(err))
		return
	}
	chain, err := s.ensureChain(msg.AudioRate)
	if err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": "microphone pipeline failed: " + err.Error()})
		return
	}
	if err := chain.Push(data); err != nil {
		s.logger.Warn("mic chain push failed", zap.String("session_id", s.clientUID), zap.Error(err))
	}
}

func (s *session) onMicAudioEnd(_ context.Context, _ incomingMessage) {
	s.closeChain()
}

func (s *session) onSetParticipantMode(_ context.Context, msg incomingMessage) {
	if msg.Mode == "" {
		return
	}
	s.orch.SetParticipantMode(msg.Mode)
}

func (s *session) onReportDeviceError(_ context.Context, msg incomingMessage) {
	devErr := deviceErrorFromKind(msg.ErrorKind)
	s.chainMu.Lock()
	s.deviceErr = devErr
	s.chainMu.Unlock()
	if devErr != nil {
		s.sendJSON(map[string]any{"type": "error", "message": devErr.UserMessage()})
	}
}

func deviceErrorFromKind(kind string) *core.DeviceError {
	switch core.DeviceErrorKind(kind) {
	case core.DeviceNotFound, core.DeviceNotAccessible, core.DevicePermissionDenied:
		return &core.DeviceError{Kind: core.DeviceErrorKind(kind)}
	case "":
		return nil
	default:
		return &core.DeviceError{Kind: core.DeviceNotAccessible}
	}
}

func (s *session) onResize(_ context.Context, msg incomingMessage) {
	if msg.Width <= 0 || msg.Height <= 0 {
		return
	}
	s.engine.Resize(msg.Width, msg.Height)
}

func (s *session) onSetQuality(_ context.Context, msg incomingMessage) {
	if msg.Quality == "" {
		return
	}
	s.engine.SetQuality(msg.Quality)
}

func (s *session) onSetTheme(_ context.Context, msg incomingMessage) {
	if msg.Theme == "" {
		return
	}
	s.engine.SetTheme(viz.LoadTheme(s.handler.config.Viz.ThemeDir, msg.Theme))
}

func (s *session) onFetchThemes(_ context.Context, _ incomingMessage) {
	s.sendJSON(map[string]any{"type": "themes", "themes": viz.ScanThemes(s.handler.config.Viz.ThemeDir)})
}

func (s *session) onSetContext(_ context.Context, msg incomingMessage) {
	docs := make([]rag.Document, 0, len(msg.Documents))
	for _, doc := range msg.Documents {
		docs = append(docs, rag.Document{ID: doc.ID, Name: doc.Name, Content: doc.Content})
	}
	s.orch.SetContextDocuments(docs)
	// Index immediately as well so search works before the next connect.
	s.indexer.Index(docs)
}

func (s *session) onSearchContext(_ context.Context, msg incomingMessage) {
	if msg.Query == "" {
		return
	}
	s.sendJSON(map[string]any{
		"type":    "context-results",
		"query":   msg.Query,
		"results": s.indexer.Search(msg.Query, 5),
	})
}

func (s *session) onFetchHistoryList(_ context.Context, _ incomingMessage) {
	if s.handler.archive == nil {
		return
	}
	s.sendJSON(map[string]any{"type": "history-list", "histories": s.handler.archive.List()})
}

func (s *session) onFetchHistory(_ context.Context, msg incomingMessage) {
	if s.handler.archive == nil || msg.UID == "" {
		return
	}
	lines, err := s.handler.archive.Load(msg.UID)
	if err != nil {
		s.sendJSON(map[string]any{"type": "error", "message": "history not found"})
		return
	}
	s.sendJSON(map[string]any{"type": "history", "uid": msg.UID, "lines": lines})
}

func (s *session) onDeleteHistory(_ context.Context, msg incomingMessage) {
	if s.handler.archive == nil || msg.UID == "" {
		return
	}
	s.sendJSON(map[string]any{
		"type":    "history-deleted",
		"uid":     msg.UID,
		"deleted": s.handler.archive.Delete(msg.UID),
	})
}

func (s *session) onNoop(_ context.Context, _ incomingMessage) {}

// ensureChain builds the listening pipeline on first mic data. The chain is
// torn down whenever listening ends, so capture rate changes between turns
// are picked up naturally.
func (s *session) ensureChain(inputRate int) (*sampler.Chain, error) {
	if inputRate <= 0 {
		inputRate = 48000
	}
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.chain != nil {
		return s.chain, nil
	}

	cfg := s.handler.config.Audio
	chain, err := sampler.NewChain(sampler.ChainConfig{
		InputRate:       inputRate,
		OutputRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		FrameDurationMs: cfg.FrameDuration,
	}, s.analyzer, s.orch.SendAudio)
	if err != nil {
		return nil, err
	}
	s.chain = chain
	s.smp.Reset()
	s.engine.SetMicLevel(s.analyzer.Level)
	return chain, nil
}

func (s *session) closeChain() {
	s.chainMu.Lock()
	chain := s.chain
	s.chain = nil
	s.chainMu.Unlock()
	if chain == nil {
		return
	}
	s.engine.SetMicLevel(nil)
	if err := chain.Close(); err != nil {
		s.logger.Debug("mic chain close", zap.String("session_id", s.clientUID), zap.Error(err))
	}
}

func (s *session) probeMic(_ context.Context) error {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()
	if s.deviceErr != nil {
		return s.deviceErr
	}
	return nil
}
