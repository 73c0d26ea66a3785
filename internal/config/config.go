package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appdefaults "github.com/aurelia-labs/voiceorb/config"

	"github.com/aurelia-labs/voiceorb/internal/logger"
	"github.com/spf13/viper"
)

// SystemConfig groups host-level listen settings.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BackendConfig describes the remote realtime voice backend.
type BackendConfig struct {
	URL                     string `mapstructure:"url"`
	TokenURL                string `mapstructure:"token_url"`
	APIKey                  string `mapstructure:"api_key"`
	Voice                   string `mapstructure:"voice"`
	Language                string `mapstructure:"language"`
	InputTranscriptionModel string `mapstructure:"input_transcription_model"`
	NoiseReduction          string `mapstructure:"noise_reduction"`
}

// TurnDetectionConfig is passed through to the backend unmodified; the
// server never runs turn detection itself.
type TurnDetectionConfig struct {
	Mode                  string `mapstructure:"mode" json:"mode"`
	Sensitivity           string `mapstructure:"sensitivity" json:"sensitivity"`
	SilenceThresholdMs    int    `mapstructure:"silence_threshold_ms" json:"silence_threshold_ms"`
	InterruptOnUserSpeech bool   `mapstructure:"interrupt_on_user_speech" json:"interrupt_on_user_speech"`
}

// SessionConfig tunes orchestrator behavior.
type SessionConfig struct {
	ParticipantMode string `mapstructure:"participant_mode"`
	UnmuteDelayMs   int    `mapstructure:"unmute_delay_ms"`
	TranscriptDir   string `mapstructure:"transcript_dir"`
}

// AudioConfig describes the PCM format sent upstream.
type AudioConfig struct {
	SampleRate    int `mapstructure:"sample_rate"`
	Channels      int `mapstructure:"channels"`
	FrameDuration int `mapstructure:"frame_duration"`
}

// VizConfig tunes the visualization engine.
type VizConfig struct {
	QualityTier string `mapstructure:"quality_tier"`
	FrameRate   int    `mapstructure:"frame_rate"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	Theme       string `mapstructure:"theme"`
	ThemeDir    string `mapstructure:"theme_dir"`
}

// Config is the resolved server configuration.
type Config struct {
	RootDir       string              `mapstructure:"-"`
	HTTPAddr      string              `mapstructure:"http_addr"`
	FrontendDir   string              `mapstructure:"frontend_dir"`
	SystemConfig  SystemConfig        `mapstructure:"system_config"`
	Backend       BackendConfig       `mapstructure:"backend"`
	TurnDetection TurnDetectionConfig `mapstructure:"turn_detection"`
	Session       SessionConfig       `mapstructure:"session"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Viz           VizConfig           `mapstructure:"viz"`
	Log           logger.Config       `mapstructure:"log"`
}

// Load resolves configuration from the embedded defaults, an optional
// conf.yaml near the working directory, and ORB_* environment variables.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finalize(v, rootDir)
}

// LoadConfig resolves configuration from an explicit file path.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("ORB_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finalize(v, rootDir)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("orb")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func finalize(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	normalize(&cfg)
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Backend.NoiseReduction = normalizeChoice(cfg.Backend.NoiseReduction, "near", "near", "far")
	cfg.TurnDetection.Mode = normalizeChoice(cfg.TurnDetection.Mode, "semantic", "semantic", "energy")
	cfg.TurnDetection.Sensitivity = normalizeChoice(cfg.TurnDetection.Sensitivity, "medium", "low", "medium", "high")
	if cfg.TurnDetection.SilenceThresholdMs <= 0 {
		cfg.TurnDetection.SilenceThresholdMs = 600
	}
	cfg.Session.ParticipantMode = normalizeChoice(cfg.Session.ParticipantMode, "active", "active", "observer")
	if cfg.Session.UnmuteDelayMs <= 0 {
		cfg.Session.UnmuteDelayMs = 350
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameDuration <= 0 {
		cfg.Audio.FrameDuration = 20
	}
	cfg.Viz.QualityTier = normalizeChoice(cfg.Viz.QualityTier, "full", "full", "lite")
	if cfg.Viz.FrameRate <= 0 {
		cfg.Viz.FrameRate = 60
	}
	if cfg.Viz.Width <= 0 {
		cfg.Viz.Width = 480
	}
	if cfg.Viz.Height <= 0 {
		cfg.Viz.Height = 480
	}
	if strings.TrimSpace(cfg.Viz.Theme) == "" {
		cfg.Viz.Theme = "aurora"
	}
}

func normalizeChoice(raw string, fallback string, allowed ...string) string {
	value := strings.TrimSpace(strings.ToLower(raw))
	for _, choice := range allowed {
		if value == choice {
			return value
		}
	}
	return fallback
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8210
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("ORB_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.Session.TranscriptDir = resolvePath(cfg.RootDir, cfg.Session.TranscriptDir, filepath.Join("data", "transcripts"))
	cfg.Viz.ThemeDir = resolvePath(cfg.RootDir, cfg.Viz.ThemeDir, "themes")
	cfg.FrontendDir = resolvePath(cfg.RootDir, cfg.FrontendDir, filepath.Join("webassets", "orb"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
