// Package config loads TutorChat configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (TUTORCHAT_DB, TUTORCHAT_LOG_DIR, TUTORCHAT_BASE_URL, TUTORCHAT_LISTEN)
// 2. Config file path specified via --config flag
// 3. ~/.config/tutorchat/config.yaml
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the OpenAI-compatible endpoint of the Gemini API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

//go:embed models.yaml
var modelsYAML []byte

// Model is a fallback candidate compiled into the binary.
type Model struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// Models returns the build-time model list in fallback priority order.
func Models() []Model {
	var models []Model
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		panic(fmt.Sprintf("config: embedded models.yaml: %v", err))
	}
	if len(models) == 0 {
		panic("config: embedded models.yaml is empty")
	}
	return models
}

// Mode is the pedagogical mode that decorates each outgoing message.
type Mode string

const (
	ModeHint  Mode = "hint"
	ModeGuide Mode = "guide"
	ModeSolve Mode = "solve"
)

// Modes lists the closed set of modes in display order.
func Modes() []Mode {
	return []Mode{ModeHint, ModeGuide, ModeSolve}
}

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (hint|guide|solve)", s)
}

// Generation holds the fixed generation parameters for chat sessions.
type Generation struct {
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// Bridge tunes per-connection flood control on the websocket bridge.
type Bridge struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Config holds application configuration
type Config struct {
	DBPath         string        `yaml:"db_path"`
	LogDir         string        `yaml:"log_dir"`
	BaseURL        string        `yaml:"base_url"`
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Generation     Generation    `yaml:"generation"`
	Bridge         Bridge        `yaml:"bridge"`
	Debug          bool          `yaml:"debug"`

	// ConversationID resumes a stored conversation in the chat shell.
	ConversationID string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".tutorchat")
	return Config{
		DBPath:         filepath.Join(dataDir, "tutorchat.db"),
		LogDir:         filepath.Join(dataDir, "logs"),
		BaseURL:        DefaultBaseURL,
		Listen:         "127.0.0.1:8787",
		RequestTimeout: 120 * time.Second,
		Generation: Generation{
			Temperature:     0.4,
			MaxOutputTokens: 65536,
		},
		Bridge: Bridge{RatePerSecond: 2, Burst: 5},
	}
}

// DefaultPath returns ~/.config/tutorchat/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tutorchat", "config.yaml")
}

// Load reads the config file at path (or the default path when empty) over
// the built-in defaults, then applies environment overrides. A missing file
// is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TUTORCHAT_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TUTORCHAT_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("TUTORCHAT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("TUTORCHAT_LISTEN"); v != "" {
		cfg.Listen = v
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be within [0, 2], got %v", c.Generation.Temperature)
	}
	if c.Generation.MaxOutputTokens <= 0 {
		return fmt.Errorf("generation.max_output_tokens must be positive, got %d", c.Generation.MaxOutputTokens)
	}
	if c.Bridge.RatePerSecond < 0 || c.Bridge.Burst < 0 {
		return fmt.Errorf("bridge rate limits must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	return nil
}
