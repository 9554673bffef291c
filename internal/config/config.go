// Package config provides configuration loading for refacta.
//
// Configuration is layered: built-in defaults, then a YAML file, then
// REFACTA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the complete refacta configuration.
type Config struct {
	Specialists SpecialistsConfig `koanf:"specialists"`
	Router      RouterConfig      `koanf:"router"`
	Engine      EngineConfig      `koanf:"engine"`
	Claude      ClaudeConfig      `koanf:"claude"`
	Anthropic   AnthropicConfig   `koanf:"anthropic"`
	Ledger      LedgerConfig      `koanf:"ledger"`
	NATS        NATSConfig        `koanf:"nats"`
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// SpecialistsConfig locates specialist definitions and their skills.
type SpecialistsConfig struct {
	Dir           string `koanf:"dir"`
	SkillsDir     string `koanf:"skills_dir"`
	Watch         bool   `koanf:"watch"`
	ConciseSkills bool   `koanf:"concise_skills"`
}

// RouterConfig controls specialist selection.
type RouterConfig struct {
	DefaultSpecialist string        `koanf:"default_specialist"`
	Classifier        string        `koanf:"classifier"` // "cli", "api" or "keyword"
	Model             string        `koanf:"model"`
	CacheTTL          Duration      `koanf:"cache_ttl"`
	CacheSize         int64         `koanf:"cache_size"`
	Rules             []KeywordRule `koanf:"rules"`
}

// KeywordRule maps request keywords to a specialist for fallback routing.
type KeywordRule struct {
	Specialist string   `koanf:"specialist"`
	Keywords   []string `koanf:"keywords"`
}

// EngineConfig controls specialist execution.
type EngineConfig struct {
	Model          string   `koanf:"model"`
	MaxTurns       int      `koanf:"max_turns"`
	MaxTurnsDirect int      `koanf:"max_turns_direct"`
	MaxTurnsChat   int      `koanf:"max_turns_chat"`
	DefaultTools   []string `koanf:"default_tools"`
	EditTool       string   `koanf:"edit_tool"`
	DedupeEdits    bool     `koanf:"dedupe_edits"`
	UpdateBuffer   int      `koanf:"update_buffer"`
}

// ClaudeConfig configures the claude CLI transport.
type ClaudeConfig struct {
	Binary    string   `koanf:"binary"`
	ExtraArgs []string `koanf:"extra_args"`
	Timeout   Duration `koanf:"timeout"`
}

// AnthropicConfig configures the Messages API client used for classification.
type AnthropicConfig struct {
	APIKey     Secret   `koanf:"api_key"`
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	Timeout    Duration `koanf:"timeout"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
	MaxRetries int      `koanf:"max_retries"`
}

// LedgerConfig controls the edit ledger.
type LedgerConfig struct {
	Dir           string `koanf:"dir"`
	FileName      string `koanf:"file_name"`
	PreviewLimit  int    `koanf:"preview_limit"`
	Redact        bool   `koanf:"redact"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// NATSConfig controls run event fan-out.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds the user-facing logging knobs.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	SampleRate     float64 `koanf:"sample_rate"`
	MetricsEnabled bool    `koanf:"metrics_enabled"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Specialists.Dir == "" {
		errs = append(errs, errors.New("specialists.dir is required"))
	}
	if c.Router.DefaultSpecialist == "" {
		errs = append(errs, errors.New("router.default_specialist is required"))
	}
	switch c.Router.Classifier {
	case "cli", "api", "keyword":
	default:
		errs = append(errs, fmt.Errorf("router.classifier must be 'cli', 'api' or 'keyword', got %q", c.Router.Classifier))
	}
	if c.Router.Classifier == "api" && !c.Anthropic.APIKey.IsSet() {
		errs = append(errs, errors.New("anthropic.api_key is required when router.classifier is 'api'"))
	}
	for i, rule := range c.Router.Rules {
		if rule.Specialist == "" || len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("router.rules[%d] needs a specialist and at least one keyword", i))
		}
	}

	if c.Engine.MaxTurns < 1 || c.Engine.MaxTurnsDirect < 1 || c.Engine.MaxTurnsChat < 1 {
		errs = append(errs, errors.New("engine turn caps must be >= 1"))
	}
	if strings.TrimSpace(c.Engine.EditTool) == "" {
		errs = append(errs, errors.New("engine.edit_tool is required"))
	}
	if c.Engine.UpdateBuffer < 0 {
		errs = append(errs, fmt.Errorf("engine.update_buffer must be >= 0, got %d", c.Engine.UpdateBuffer))
	}

	if c.Ledger.FileName == "" || strings.ContainsAny(c.Ledger.FileName, `/\`) {
		errs = append(errs, fmt.Errorf("ledger.file_name must be a bare file name, got %q", c.Ledger.FileName))
	}
	if c.Ledger.PreviewLimit < 1 {
		errs = append(errs, fmt.Errorf("ledger.preview_limit must be >= 1, got %d", c.Ledger.PreviewLimit))
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be within [0,1], got %v", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}
