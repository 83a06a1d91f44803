package config

import (
	"os"

	"gopkg.in/yaml.v3"

	taskerrors "github.com/odvcencio/taskchat/pkg/errors"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return taskerrors.Wrap(err, taskerrors.ErrCodeConfigParse, "parsing YAML")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return taskerrors.Wrap(err, taskerrors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values keep the base value
// except for booleans and counts explicitly present in raw.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Backend.BaseURL != "" {
		base.Backend.BaseURL = override.Backend.BaseURL
	}
	if override.Backend.APIKey != "" {
		base.Backend.APIKey = override.Backend.APIKey
	}
	if override.Backend.Timeout != 0 {
		base.Backend.Timeout = override.Backend.Timeout
	}
	if override.Backend.RateLimit != 0 {
		base.Backend.RateLimit = override.Backend.RateLimit
	}
	if override.Backend.Burst != 0 {
		base.Backend.Burst = override.Backend.Burst
	}

	if override.Thread.ID != "" {
		base.Thread.ID = override.Thread.ID
	}
	if override.Thread.SourceID != "" {
		base.Thread.SourceID = override.Thread.SourceID
	}
	if override.Thread.Title != "" {
		base.Thread.Title = override.Thread.Title
	}
	if boolFieldSet(raw, "thread", "managed") {
		base.Thread.Managed = override.Thread.Managed
	}
	if override.Thread.ForcedProject != "" {
		base.Thread.ForcedProject = override.Thread.ForcedProject
	}

	if override.Sync.PollInterval != 0 {
		base.Sync.PollInterval = override.Sync.PollInterval
	}
	if override.Sync.RefreshDebounce != 0 {
		base.Sync.RefreshDebounce = override.Sync.RefreshDebounce
	}
	if override.Sync.SuggestDebounce != 0 {
		base.Sync.SuggestDebounce = override.Sync.SuggestDebounce
	}
	if override.Sync.BreakerFailures != 0 {
		base.Sync.BreakerFailures = override.Sync.BreakerFailures
	}
	if override.Sync.BreakerCooldown != 0 {
		base.Sync.BreakerCooldown = override.Sync.BreakerCooldown
	}

	if boolFieldSet(raw, "send", "max_retries") {
		base.Send.MaxRetries = override.Send.MaxRetries
	}
	if override.Send.BaseBackoff != 0 {
		base.Send.BaseBackoff = override.Send.BaseBackoff
	}
	if override.Send.MaxBackoff != 0 {
		base.Send.MaxBackoff = override.Send.MaxBackoff
	}
	if override.Send.TypingBase != 0 {
		base.Send.TypingBase = override.Send.TypingBase
	}
	if boolFieldSet(raw, "send", "typing_per_word") {
		base.Send.TypingPerWord = override.Send.TypingPerWord
	}
	if override.Send.TypingMax != 0 {
		base.Send.TypingMax = override.Send.TypingMax
	}

	if override.Animation.RevealInterval != 0 {
		base.Animation.RevealInterval = override.Animation.RevealInterval
	}
	if boolFieldSet(raw, "animation", "start_delay") {
		base.Animation.StartDelay = override.Animation.StartDelay
	}
	if boolFieldSet(raw, "animation", "min_typing_display") {
		base.Animation.MinTypingDisplay = override.Animation.MinTypingDisplay
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if boolFieldSet(raw, "observability", "tracing") {
		base.Observability.Tracing = override.Observability.Tracing
	}
	if override.Observability.MetricsAddr != "" {
		base.Observability.MetricsAddr = override.Observability.MetricsAddr
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
