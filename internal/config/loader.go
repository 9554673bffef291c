package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is the prefix for environment overrides.
	EnvPrefix = "REFACTA_"

	// ProjectConfigPath is the project-local config file, relative to the project root.
	ProjectConfigPath = ".refacta/config.yaml"
)

// defaultsYAML is loaded before any file so that boolean defaults of true
// survive a partial YAML file.
const defaultsYAML = `
specialists:
  dir: .claude/agents
  skills_dir: .claude/skills
  watch: false
  concise_skills: true
router:
  default_specialist: python-refactorer
  classifier: cli
  model: claude-sonnet-4-5-20250929
  cache_ttl: 10m
  cache_size: 1024
  rules:
    - specialist: python-refactorer
      keywords: [".py", "python", "backend"]
    - specialist: nextjs-refactorer
      keywords: [".tsx", ".jsx", "react", "frontend"]
engine:
  model: claude-sonnet-4-5-20250929
  max_turns: 20
  max_turns_direct: 15
  max_turns_chat: 5
  default_tools: [Read, Edit, Glob]
  edit_tool: Edit
  dedupe_edits: true
  update_buffer: 64
claude:
  binary: claude
  timeout: 10m
anthropic:
  base_url: https://api.anthropic.com
  model: claude-3-5-haiku-latest
  timeout: 60s
  rate_limit: 2
  burst: 4
  max_retries: 3
ledger:
  dir: .refactor/reports
  file_name: changes.md
  preview_limit: 200
  redact: true
nats:
  enabled: false
  url: nats://127.0.0.1:4222
  subject_prefix: refacta
server:
  host: localhost
  port: 9191
  shutdown_timeout: 10s
log:
  level: info
  format: console
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  insecure: true
  sample_rate: 1.0
  metrics_enabled: true
`

// LoadOptions selects which configuration file to load.
type LoadOptions struct {
	// Path is an explicit config file. It must exist when set.
	Path string
	// ProjectDir is searched for .refacta/config.yaml when Path is empty.
	ProjectDir string
}

// Load builds the configuration from defaults, a YAML file, then environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (REFACTA_ROUTER_DEFAULT_SPECIALIST, REFACTA_SERVER_PORT, ...)
//  2. YAML config file (explicit path, <project>/.refacta/config.yaml, ~/.config/refacta/config.yaml)
//  3. Built-in defaults
//
// # Environment Variable Mapping
//
// The prefix is stripped and the remainder is split on the first underscore:
//
//	REFACTA_ROUTER_DEFAULT_SPECIALIST -> router.default_specialist
//	REFACTA_ENGINE_MAX_TURNS          -> engine.max_turns
//	REFACTA_ANTHROPIC_API_KEY         -> anthropic.api_key
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, err := resolveConfigPath(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps REFACTA_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// resolveConfigPath returns the file to load, or "" when none exists.
func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err != nil {
			return "", fmt.Errorf("config file %s: %w", opts.Path, err)
		}
		return opts.Path, nil
	}

	candidates := make([]string, 0, 2)
	if opts.ProjectDir != "" {
		candidates = append(candidates, filepath.Join(opts.ProjectDir, ProjectConfigPath))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "refacta", "config.yaml"))
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", nil
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}

	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o002 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (world-writable)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults fills values that a file or environment may have blanked.
func applyDefaults(cfg *Config) {
	if len(cfg.Engine.DefaultTools) == 0 {
		cfg.Engine.DefaultTools = []string{"Read", "Edit", "Glob"}
	}
	if cfg.Engine.EditTool == "" {
		cfg.Engine.EditTool = "Edit"
	}
	if cfg.Claude.Binary == "" {
		cfg.Claude.Binary = "claude"
	}
	if cfg.Ledger.Dir == "" {
		cfg.Ledger.Dir = filepath.Join(".refactor", "reports")
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "refacta"
	}
	if cfg.Anthropic.Burst < 1 {
		cfg.Anthropic.Burst = 1
	}
}
