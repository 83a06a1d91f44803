package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
	"github.com/odvcencio/taskchat/pkg/logging"
)

// Config represents the complete taskchat configuration
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Thread        ThreadConfig        `yaml:"thread"`
	Sync          SyncConfig          `yaml:"sync"`
	Send          SendConfig          `yaml:"send"`
	Animation     AnimationConfig     `yaml:"animation"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BackendConfig configures the chat backend connection
type BackendConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// ThreadConfig selects the conversation a session starts on.
type ThreadConfig struct {
	// ID resumes an existing thread; empty creates one on first send.
	ID       string `yaml:"id"`
	SourceID string `yaml:"source_id"`
	Title    string `yaml:"title"`
	// Managed threads belong to an external context and are never recreated.
	Managed       bool   `yaml:"managed"`
	ForcedProject string `yaml:"forced_project"`
}

// SyncConfig controls polling and debouncing
type SyncConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	RefreshDebounce time.Duration `yaml:"refresh_debounce"`
	SuggestDebounce time.Duration `yaml:"suggest_debounce"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// SendConfig controls message delivery
type SendConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	TypingBase    time.Duration `yaml:"typing_base"`
	TypingPerWord time.Duration `yaml:"typing_per_word"`
	TypingMax     time.Duration `yaml:"typing_max"`
}

// AnimationConfig controls reply reveal pacing
type AnimationConfig struct {
	RevealInterval   time.Duration `yaml:"reveal_interval"`
	StartDelay       time.Duration `yaml:"start_delay"`
	MinTypingDisplay time.Duration `yaml:"min_typing_display"`
}

// LoggingConfig configures the event log
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// ObservabilityConfig configures tracing and metrics
type ObservabilityConfig struct {
	Tracing     bool   `yaml:"tracing"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultBaseURL is where `taskchat fake` listens by default.
const DefaultBaseURL = "http://127.0.0.1:8787"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   15 * time.Second,
			RateLimit: 10,
			Burst:     20,
		},
		Sync: SyncConfig{
			PollInterval:    5 * time.Second,
			RefreshDebounce: 500 * time.Millisecond,
			SuggestDebounce: 2500 * time.Millisecond,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Send: SendConfig{
			MaxRetries:    2,
			BaseBackoff:   100 * time.Millisecond,
			MaxBackoff:    500 * time.Millisecond,
			TypingBase:    500 * time.Millisecond,
			TypingPerWord: 50 * time.Millisecond,
			TypingMax:     2 * time.Second,
		},
		Animation: AnimationConfig{
			RevealInterval:   20 * time.Millisecond,
			StartDelay:       100 * time.Millisecond,
			MinTypingDisplay: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join("~", ".taskchat", "logs"),
			Level: string(logging.LevelInfo),
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// ~/.taskchat/config.yaml
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".taskchat", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, taskerrors.Wrap(err, taskerrors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userConfigPath)
		}
	}

	// ./.taskchat/config.yaml
	projectConfigPath := filepath.Join(".", ".taskchat", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, taskerrors.Wrap(err, taskerrors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", projectConfigPath)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, taskerrors.Wrap(err, taskerrors.ErrCodeConfigLoad, "loading config").
			WithContext("path", path)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies TASKCHAT_* environment variables. Values from
// ~/.taskchat/config.env only fill in secrets the environment leaves unset.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	if v := os.Getenv("TASKCHAT_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("TASKCHAT_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	} else if cfg.Backend.APIKey == "" && configEnv["TASKCHAT_API_KEY"] != "" {
		cfg.Backend.APIKey = configEnv["TASKCHAT_API_KEY"]
	}
	if v := os.Getenv("TASKCHAT_THREAD_ID"); v != "" {
		cfg.Thread.ID = v
	}
	if v := os.Getenv("TASKCHAT_SOURCE_ID"); v != "" {
		cfg.Thread.SourceID = v
	}
	if v := os.Getenv("TASKCHAT_FORCED_PROJECT"); v != "" {
		cfg.Thread.ForcedProject = v
	}
	if val, ok := envBool("TASKCHAT_MANAGED"); ok {
		cfg.Thread.Managed = val
	}
	if val, ok := envDuration("TASKCHAT_POLL_INTERVAL"); ok {
		cfg.Sync.PollInterval = val
	}
	if v := os.Getenv("TASKCHAT_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("TASKCHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if val, ok := envBool("TASKCHAT_TRACING"); ok {
		cfg.Observability.Tracing = val
	}
	if v := os.Getenv("TASKCHAT_METRICS_ADDR"); v != "" {
		cfg.Observability.MetricsAddr = v
	}
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	val, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return val, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return taskerrors.Newf(taskerrors.ErrCodeConfigInvalid, format, args...)
	}

	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return invalid("backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return invalid("backend.timeout must be positive, got %s", c.Backend.Timeout)
	}
	if c.Backend.RateLimit <= 0 || c.Backend.Burst <= 0 {
		return invalid("backend.rate_limit and backend.burst must be positive")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"sync.poll_interval", c.Sync.PollInterval},
		{"sync.refresh_debounce", c.Sync.RefreshDebounce},
		{"sync.suggest_debounce", c.Sync.SuggestDebounce},
		{"sync.breaker_cooldown", c.Sync.BreakerCooldown},
		{"send.base_backoff", c.Send.BaseBackoff},
		{"send.max_backoff", c.Send.MaxBackoff},
		{"send.typing_base", c.Send.TypingBase},
		{"send.typing_max", c.Send.TypingMax},
		{"animation.reveal_interval", c.Animation.RevealInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return invalid("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.Send.TypingPerWord < 0 || c.Animation.StartDelay < 0 || c.Animation.MinTypingDisplay < 0 {
		return invalid("typing and animation delays must not be negative")
	}
	if c.Send.MaxBackoff < c.Send.BaseBackoff {
		return invalid("send.max_backoff (%s) is below send.base_backoff (%s)", c.Send.MaxBackoff, c.Send.BaseBackoff)
	}
	if c.Send.MaxRetries < 0 || c.Send.MaxRetries > 10 {
		return invalid("send.max_retries must be between 0 and 10, got %d", c.Send.MaxRetries)
	}
	if c.Sync.BreakerFailures <= 0 {
		return invalid("sync.breaker_failures must be positive, got %d", c.Sync.BreakerFailures)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return taskerrors.Wrap(err, taskerrors.ErrCodeConfigInvalid, "logging.level")
	}
	return nil
}

// LogDir returns the logging directory with ~ expanded.
func (c *Config) LogDir() string {
	return expandHomeDir(c.Logging.Dir)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(home, ".taskchat", "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}

// String summarizes the effective settings without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("backend=%s thread=%q managed=%t poll=%s log_level=%s",
		c.Backend.BaseURL, c.Thread.ID, c.Thread.Managed, c.Sync.PollInterval, c.Logging.Level)
}
