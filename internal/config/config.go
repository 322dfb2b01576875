package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultExplicitThreshold     = 8
	DefaultEphemeralThreshold    = 4
	DefaultEphemeralHours        = 72
	DefaultSilentDays            = 30
	DefaultCleanupIntervalHours  = 24
	DefaultMinConversationLength = 10
	DefaultMinMessageCount       = 1
	DefaultTierName              = "silent"
	DefaultModelTimeoutSeconds   = 10
	DefaultModelMaxTokens        = 256
	DefaultModelTemperature      = 0.1
	DefaultHost                  = "127.0.0.1"
	DefaultPort                  = 18930
	DefaultStoreBackend          = "sqlite"
)

type Config struct {
	Scoring ScoringConfig `json:"scoring"`
	Model   ModelConfig   `json:"model"`
	Store   StoreConfig   `json:"store"`
	Gateway GatewayConfig `json:"gateway"`
}

// ScoringConfig drives tier classification and lifecycle timing.
// Threshold semantics: score >= ExplicitThreshold is explicit,
// score >= EphemeralThreshold is silent, everything below is ephemeral.
type ScoringConfig struct {
	Enabled               bool   `json:"enabled"`
	ExplicitThreshold     int    `json:"explicitThreshold"`
	EphemeralThreshold    int    `json:"ephemeralThreshold"`
	DefaultEphemeralHours int    `json:"defaultEphemeralHours"`
	DefaultSilentDays     int    `json:"defaultSilentDays"`
	CleanupIntervalHours  int    `json:"cleanupIntervalHours"`
	MinConversationLength int    `json:"minConversationLength"`
	MinMessageCount       int    `json:"minMessageCount"`
	DefaultTier           string `json:"defaultTier"`
}

// ModelConfig configures optional delegation of scoring to a
// chat-completions endpoint. When Enabled is false the heuristic
// pipeline always runs.
type ModelConfig struct {
	Enabled        bool    `json:"enabled"`
	APIKey         string  `json:"apiKey,omitempty"`
	BaseURL        string  `json:"baseUrl,omitempty"`
	Model          string  `json:"model,omitempty"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	TimeoutSeconds int     `json:"timeoutSeconds,omitempty"`
}

type StoreConfig struct {
	Backend string `json:"backend"`
	DBPath  string `json:"dbPath,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			Enabled:               true,
			ExplicitThreshold:     DefaultExplicitThreshold,
			EphemeralThreshold:    DefaultEphemeralThreshold,
			DefaultEphemeralHours: DefaultEphemeralHours,
			DefaultSilentDays:     DefaultSilentDays,
			CleanupIntervalHours:  DefaultCleanupIntervalHours,
			MinConversationLength: DefaultMinConversationLength,
			MinMessageCount:       DefaultMinMessageCount,
			DefaultTier:           DefaultTierName,
		},
		Model: ModelConfig{
			MaxTokens:      DefaultModelMaxTokens,
			Temperature:    DefaultModelTemperature,
			TimeoutSeconds: DefaultModelTimeoutSeconds,
		},
		Store: StoreConfig{
			Backend: DefaultStoreBackend,
			DBPath:  filepath.Join(ConfigDir(), "memories.db"),
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

// Validate checks the scoring contract. A violating threshold pair is a
// construction-time error: the engine must not start with thresholds that
// cannot produce all three tiers.
func (c ScoringConfig) Validate() error {
	if c.ExplicitThreshold < 1 || c.ExplicitThreshold > 10 {
		return fmt.Errorf("explicitThreshold %d out of range [1,10]", c.ExplicitThreshold)
	}
	if c.EphemeralThreshold < 0 || c.EphemeralThreshold > 9 {
		return fmt.Errorf("ephemeralThreshold %d out of range [0,9]", c.EphemeralThreshold)
	}
	if c.EphemeralThreshold >= c.ExplicitThreshold {
		return fmt.Errorf("ephemeralThreshold %d must be below explicitThreshold %d", c.EphemeralThreshold, c.ExplicitThreshold)
	}
	if c.DefaultEphemeralHours < 1 {
		return fmt.Errorf("defaultEphemeralHours %d must be >= 1", c.DefaultEphemeralHours)
	}
	if c.DefaultSilentDays < 1 {
		return fmt.Errorf("defaultSilentDays %d must be >= 1", c.DefaultSilentDays)
	}
	if c.CleanupIntervalHours < 1 {
		return fmt.Errorf("cleanupIntervalHours %d must be >= 1", c.CleanupIntervalHours)
	}
	switch c.DefaultTier {
	case "explicit", "silent", "ephemeral":
	default:
		return fmt.Errorf("defaultTier %q must be one of explicit/silent/ephemeral", c.DefaultTier)
	}
	return nil
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".retain")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("RETAIN_SCORING_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Scoring.Enabled = parsed
		}
	}
	if v := os.Getenv("RETAIN_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("RETAIN_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("RETAIN_MODEL_NAME"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("RETAIN_MODEL_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Model.Enabled = parsed
		}
	}
	if v := os.Getenv("RETAIN_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("RETAIN_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = parsed
		}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = DefaultConfig().Store.DBPath
	}
	if cfg.Model.TimeoutSeconds <= 0 {
		cfg.Model.TimeoutSeconds = DefaultModelTimeoutSeconds
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = DefaultModelMaxTokens
	}
	if cfg.Model.Temperature <= 0 {
		cfg.Model.Temperature = DefaultModelTemperature
	}

	if err := cfg.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
