// Package runtime assembles and runs the voiceorb server so it can be
// embedded by other programs as well as by the bundled binary.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	appconfig "github.com/aurelia-labs/voiceorb/internal/config"
	apphttp "github.com/aurelia-labs/voiceorb/internal/http"
	applogger "github.com/aurelia-labs/voiceorb/internal/logger"
	"github.com/aurelia-labs/voiceorb/internal/realtime"
	"github.com/aurelia-labs/voiceorb/internal/storage"
	"github.com/aurelia-labs/voiceorb/internal/tools"
	"github.com/aurelia-labs/voiceorb/internal/ws"
)

// Server wires configuration, logging, the shell handler and the HTTP
// listener.
type Server struct {
	cfg      appconfig.Config
	logger   *zap.Logger
	registry *tools.Registry
	server   *http.Server
}

// New loads configuration from configPath (empty for the default search
// path) and assembles a ready-to-run server.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load voiceorb config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("voiceorb config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("backend_url", cfg.Backend.URL),
		zap.String("participant_mode", cfg.Session.ParticipantMode),
		zap.String("quality_tier", cfg.Viz.QualityTier),
	)

	registry := tools.NewRegistry()
	archive := storage.NewArchive(cfg.Session.TranscriptDir)
	wsHandler := ws.NewHandler(cfg, archive, registry, logger)
	router := apphttp.NewRouter(cfg, wsHandler, logger)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		server: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
	}, nil
}

// RegisterTool announces a tool to subsequent backend sessions.
func (s *Server) RegisterTool(desc realtime.ToolDescriptor) error {
	return s.registry.Register(desc)
}

// Run serves until Shutdown; a clean shutdown returns nil.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	s.logger.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
