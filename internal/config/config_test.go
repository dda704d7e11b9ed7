package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Empty(t, cfg.Server.APIKey)
	require.Equal(t, "sonnet", cfg.Claude.Model)
	require.Equal(t, 600, cfg.Claude.TimeoutSeconds)
	require.Equal(t, DefaultMaxOutputBytes, cfg.Claude.MaxOutputBytes)
	require.False(t, cfg.Tracing.Enabled)
	require.True(t, cfg.Flags["session-reuse"])
	require.False(t, cfg.Flags["stdin-probe"])
}

func TestClaudeConfig_Timeout(t *testing.T) {
	require.Equal(t, 30*time.Second, ClaudeConfig{TimeoutSeconds: 30}.Timeout())
	require.Equal(t, DefaultTimeout, ClaudeConfig{}.Timeout())
	require.Equal(t, DefaultTimeout, ClaudeConfig{TimeoutSeconds: -1}.Timeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Claude.TimeoutSeconds = -5 },
			wantErr: "timeout_seconds",
		},
		{
			name:    "negative output cap",
			mutate:  func(c *Config) { c.Claude.MaxOutputBytes = -1 },
			wantErr: "max_output_bytes",
		},
		{
			name:    "unknown tracing exporter",
			mutate:  func(c *Config) { c.Tracing.Exporter = "kafka" },
			wantErr: "tracing.exporter",
		},
		{
			name:   "empty exporter allowed",
			mutate: func(c *Config) { c.Tracing.Exporter = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

// TestDefaultConfigTemplate_ParsesAndMatchesDefaults guards against the
// commented template drifting from the coded defaults.
func TestDefaultConfigTemplate_ParsesAndMatchesDefaults(t *testing.T) {
	var parsed struct {
		Server struct {
			Host string `yaml:"host"`
			Port int    `yaml:"port"`
		} `yaml:"server"`
		Claude struct {
			Model          string `yaml:"model"`
			TimeoutSeconds int    `yaml:"timeout_seconds"`
		} `yaml:"claude"`
		Flags map[string]bool `yaml:"flags"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &parsed))

	defaults := Defaults()
	require.Equal(t, defaults.Server.Host, parsed.Server.Host)
	require.Equal(t, defaults.Server.Port, parsed.Server.Port)
	require.Equal(t, defaults.Claude.Model, parsed.Claude.Model)
	require.Equal(t, defaults.Claude.TimeoutSeconds, parsed.Claude.TimeoutSeconds)
	require.Equal(t, defaults.Flags, parsed.Flags)
}

func TestWriteDefaultConfig_CreatesFileAndDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/config.yaml"
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "claude-wrapper configuration")
}
