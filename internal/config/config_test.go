package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points HOME at a temp dir so a developer's own config never leaks in.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeConfig(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

func TestLoad_Defaults(t *testing.T) {
	isolateHome(t)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, ".claude/agents", cfg.Specialists.Dir)
	assert.Equal(t, "python-refactorer", cfg.Router.DefaultSpecialist)
	assert.Equal(t, "cli", cfg.Router.Classifier)
	assert.Equal(t, 10*time.Minute, cfg.Router.CacheTTL.Duration())
	require.Len(t, cfg.Router.Rules, 2)
	assert.Equal(t, "nextjs-refactorer", cfg.Router.Rules[1].Specialist)
	assert.Contains(t, cfg.Router.Rules[1].Keywords, ".tsx")

	assert.Equal(t, 20, cfg.Engine.MaxTurns)
	assert.Equal(t, 15, cfg.Engine.MaxTurnsDirect)
	assert.Equal(t, 5, cfg.Engine.MaxTurnsChat)
	assert.Equal(t, []string{"Read", "Edit", "Glob"}, cfg.Engine.DefaultTools)
	assert.True(t, cfg.Engine.DedupeEdits)

	assert.Equal(t, filepath.Join(".refactor", "reports"), filepath.Clean(cfg.Ledger.Dir))
	assert.Equal(t, "changes.md", cfg.Ledger.FileName)
	assert.Equal(t, 200, cfg.Ledger.PreviewLimit)
	assert.True(t, cfg.Ledger.Redact)

	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	isolateHome(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, ProjectConfigPath), `
router:
  default_specialist: go-refactorer
engine:
  max_turns: 8
ledger:
  redact: false
`, 0o600)

	cfg, err := Load(LoadOptions{ProjectDir: project})
	require.NoError(t, err)

	assert.Equal(t, "go-refactorer", cfg.Router.DefaultSpecialist)
	assert.Equal(t, 8, cfg.Engine.MaxTurns)
	assert.False(t, cfg.Ledger.Redact)
	// untouched keys keep their defaults
	assert.True(t, cfg.Engine.DedupeEdits)
	assert.Equal(t, 15, cfg.Engine.MaxTurnsDirect)
}

func TestLoad_UserFileUsedWithoutProjectFile(t *testing.T) {
	home := isolateHome(t)
	writeConfig(t, filepath.Join(home, ".config", "refacta", "config.yaml"), `
server:
  port: 7070
`, 0o600)

	cfg, err := Load(LoadOptions{ProjectDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "refacta.yaml")
	writeConfig(t, path, `
server:
  port: 7070
router:
  default_specialist: yaml-specialist
`, 0o600)

	t.Setenv("REFACTA_SERVER_PORT", "7777")
	t.Setenv("REFACTA_ROUTER_DEFAULT_SPECIALIST", "env-specialist")

	cfg, err := Load(LoadOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-specialist", cfg.Router.DefaultSpecialist)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	isolateHome(t)
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "server:\n  port: [unterminated\n", 0o600)

	_, err := Load(LoadOptions{Path: path})
	require.Error(t, err)
}

func TestLoad_RejectsWorldWritableFile(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "open.yaml")
	writeConfig(t, path, "server:\n  port: 7070\n", 0o600)
	require.NoError(t, os.Chmod(path, 0o666))

	_, err := Load(LoadOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-writable")
}

func TestLoad_APIClassifierRequiresKey(t *testing.T) {
	isolateHome(t)
	t.Setenv("REFACTA_ROUTER_CLASSIFIER", "api")

	_, err := Load(LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.api_key")

	t.Setenv("REFACTA_ANTHROPIC_API_KEY", "sk-ant-test")
	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Anthropic.APIKey.String())
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"REFACTA_SERVER_PORT":               "server.port",
		"REFACTA_ROUTER_DEFAULT_SPECIALIST": "router.default_specialist",
		"REFACTA_LOG":                       "log",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestConfig_Validate(t *testing.T) {
	isolateHome(t)
	base, err := Load(LoadOptions{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero turn cap", func(c *Config) { c.Engine.MaxTurns = 0 }, "turn caps"},
		{"bad classifier", func(c *Config) { c.Router.Classifier = "magic" }, "router.classifier"},
		{"ledger file with separator", func(c *Config) { c.Ledger.FileName = "a/b.md" }, "ledger.file_name"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"rule without keywords", func(c *Config) {
			c.Router.Rules = append(c.Router.Rules, KeywordRule{Specialist: "x"})
		}, "router.rules[2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			cfg.Router.Rules = append([]KeywordRule(nil), base.Router.Rules...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.ErrorContains(t, d.UnmarshalText([]byte("-5s")), "negative")
	assert.ErrorContains(t, d.UnmarshalText([]byte("soon")), "parsing duration")
}
