// Package config loads and validates the dashboard configuration from a JSON
// file, with ${VAR} environment substitution and ~/ path expansion.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the dashboard client.
type Config struct {
	General GeneralConfig `json:"general"`
	Backend BackendConfig `json:"backend"`
	Sync    SyncConfig    `json:"sync"`
	Alerts  AlertsConfig  `json:"alerts"`
	Rooms   RoomsConfig   `json:"rooms"`
	Notify  NotifyConfig  `json:"notify"`
	Store   StoreConfig   `json:"store"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// BackendConfig points at the dashboard backend service.
type BackendConfig struct {
	BaseURL        string `json:"baseUrl"`
	WSURL          string `json:"wsUrl"` // push channel endpoint
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// SyncConfig tunes the push channel and the silent polling loop.
type SyncConfig struct {
	PollIntervalSeconds   int `json:"pollIntervalSeconds"`
	InitialDelaySeconds   int `json:"initialDelaySeconds"`
	ReconnectBaseDelayMs  int `json:"reconnectBaseDelayMs"`
	MaxReconnectAttempts  int `json:"maxReconnectAttempts"`
	LatestLimit           int `json:"latestLimit"`
}

// AlertsConfig tunes priority classification and escalation timing.
type AlertsConfig struct {
	HighPriorityThresholdMinutes int   `json:"highPriorityThresholdMinutes"`
	MediumPriorityThresholdHours int   `json:"mediumPriorityThresholdHours"`
	LowPriorityThresholdHours    int   `json:"lowPriorityThresholdHours"`
	EscalationIntervalsMinutes   []int `json:"escalationIntervalsMinutes"`
	MaxEscalationLevel           int   `json:"maxEscalationLevel"`
	CheckIntervalSeconds         int   `json:"checkIntervalSeconds"`
}

type RoomsConfig struct {
	Monitored FlexStringList `json:"monitored"`
	RulesFile string         `json:"rulesFile,omitempty"` // YAML category keyword rules
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chatId"`
}

// StoreConfig configures the local deleted-message log.
type StoreConfig struct {
	DBPath            string `json:"dbPath"`
	MaxDeletedPerRoom int    `json:"maxDeletedPerRoom"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.chatwork-dashboard).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatwork-dashboard"
	}
	return filepath.Join(home, ".chatwork-dashboard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Rooms.RulesFile = ExpandPath(cfg.Rooms.RulesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, "backend.baseUrl is required")
	}
	if cfg.Backend.TimeoutSeconds < 1 {
		errs = append(errs, "backend.timeoutSeconds must be >= 1")
	}

	if cfg.Sync.PollIntervalSeconds < 1 {
		errs = append(errs, "sync.pollIntervalSeconds must be >= 1")
	}
	if cfg.Sync.ReconnectBaseDelayMs < 1 {
		errs = append(errs, "sync.reconnectBaseDelayMs must be >= 1")
	}
	if cfg.Sync.MaxReconnectAttempts < 1 {
		errs = append(errs, "sync.maxReconnectAttempts must be >= 1")
	}
	if cfg.Sync.LatestLimit < 1 || cfg.Sync.LatestLimit > 500 {
		errs = append(errs, "sync.latestLimit must be between 1 and 500")
	}

	if cfg.Alerts.HighPriorityThresholdMinutes < 1 {
		errs = append(errs, "alerts.highPriorityThresholdMinutes must be >= 1")
	}
	if cfg.Alerts.MaxEscalationLevel < 1 {
		errs = append(errs, "alerts.maxEscalationLevel must be >= 1")
	}
	if len(cfg.Alerts.EscalationIntervalsMinutes) == 0 {
		errs = append(errs, "alerts.escalationIntervalsMinutes must not be empty")
	}
	for _, m := range cfg.Alerts.EscalationIntervalsMinutes {
		if m < 1 {
			errs = append(errs, "alerts.escalationIntervalsMinutes entries must be >= 1")
			break
		}
	}
	if cfg.Alerts.CheckIntervalSeconds < 1 {
		errs = append(errs, "alerts.checkIntervalSeconds must be >= 1")
	}

	if cfg.Store.MaxDeletedPerRoom < 1 {
		errs = append(errs, "store.maxDeletedPerRoom must be >= 1")
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required when telegram is enabled")
		}
		if cfg.Notify.Telegram.ChatID == "" {
			errs = append(errs, "notify.telegram.chatId is required when telegram is enabled")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
