package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultLogLevel is used when no level is configured.
const DefaultLogLevel = "info"

// Config holds application configuration.
type Config struct {
	// VaultRoot is the directory receiving exported Markdown (inbox/ and .trash/ live under it).
	// Empty means <baseDir>/vault. A leading "~/" expands to the home directory.
	VaultRoot string `json:"vault_root,omitempty"`

	// RetryMaxAttempts bounds attempts for transient export I/O failures.
	RetryMaxAttempts int `json:"retry_max_attempts"`

	// RetryBaseDelayMS is the first backoff delay; each retry doubles it.
	RetryBaseDelayMS int `json:"retry_base_delay_ms"`

	// RetryMaxDelayMS caps a single backoff delay.
	RetryMaxDelayMS int `json:"retry_max_delay_ms"`

	// ReplayWindowHours is how long re-delivery of an already staged upstream
	// item is considered normal. Re-deliveries beyond it are logged at the poll stage.
	ReplayWindowHours int `json:"replay_window_hours"`

	// ExportBatchSize limits how many transcribed captures one worker pass exports.
	ExportBatchSize int `json:"export_batch_size"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// LogLevel is the default slog level (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RetryMaxAttempts:  5,
		RetryBaseDelayMS:  100,
		RetryMaxDelayMS:   5000,
		ReplayWindowHours: 24,
		ExportBatchSize:   50,
		LogLevel:          DefaultLogLevel,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.stash.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// ResolveVaultRoot returns the absolute vault root for this config.
func (c *Config) ResolveVaultRoot(baseDir string) (string, error) {
	root := strings.TrimSpace(c.VaultRoot)
	if root == "" {
		return filepath.Join(baseDir, "vault"), nil
	}
	if strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		root = filepath.Join(home, root[2:])
	}
	return filepath.Abs(root)
}

// RetryBaseDelay returns RetryBaseDelayMS as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns RetryMaxDelayMS as a duration.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}

// ReplayWindow returns ReplayWindowHours as a duration.
func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowHours) * time.Hour
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.VaultRoot = firstString(overlay.VaultRoot, base.VaultRoot)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.RetryMaxAttempts = firstInt(overlay.RetryMaxAttempts, base.RetryMaxAttempts)
	result.RetryBaseDelayMS = firstInt(overlay.RetryBaseDelayMS, base.RetryBaseDelayMS)
	result.RetryMaxDelayMS = firstInt(overlay.RetryMaxDelayMS, base.RetryMaxDelayMS)
	result.ReplayWindowHours = firstInt(overlay.ReplayWindowHours, base.ReplayWindowHours)
	result.ExportBatchSize = firstInt(overlay.ExportBatchSize, base.ExportBatchSize)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func firstString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
