// Package config provides configuration types and defaults for claude-wrapper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
)

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// APIKey enables bearer-token auth on /v1 routes when non-empty.
	// Overridable via the API_KEY environment variable.
	APIKey string `mapstructure:"api_key"`
}

// ClaudeConfig holds settings for the wrapped Claude Code CLI.
type ClaudeConfig struct {
	// Path is an explicit invocation override, checked after the
	// CLAUDE_PATH / CLAUDE_CLI_PATH environment variables.
	Path string `mapstructure:"path"`

	// DockerImage runs claude inside a container when set.
	DockerImage string `mapstructure:"docker_image"`

	// Model is the default model when the request doesn't name one.
	Model string `mapstructure:"model"` // sonnet (default), opus, haiku

	// WorkDir is the working directory for spawned processes.
	// Default: the wrapper's own working directory.
	WorkDir string `mapstructure:"work_dir"`

	// TimeoutSeconds bounds a single synchronous execution.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// MaxOutputBytes bounds the captured stdout of a sync execution.
	MaxOutputBytes int `mapstructure:"max_output_bytes"`

	// SkipPermissions passes --dangerously-skip-permissions.
	SkipPermissions bool `mapstructure:"skip_permissions"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/claude-wrapper/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// 1.0 = all traces, 0.1 = 10% of traces
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Config holds all configuration options for claude-wrapper.
type Config struct {
	Server  ServerConfig    `mapstructure:"server"`
	Claude  ClaudeConfig    `mapstructure:"claude"`
	Tracing TracingConfig   `mapstructure:"tracing"`
	Flags   map[string]bool `mapstructure:"flags"`
}

// Timeout returns the sync execution bound as a duration.
func (c ClaudeConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

const (
	// DefaultTimeout bounds sync executions when the config is silent.
	DefaultTimeout = 10 * time.Minute

	// DefaultMaxOutputBytes bounds captured stdout (10 MiB).
	DefaultMaxOutputBytes = 10 * 1024 * 1024
)

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Claude: ClaudeConfig{
			Model:          "sonnet",
			TimeoutSeconds: int(DefaultTimeout / time.Second),
			MaxOutputBytes: DefaultMaxOutputBytes,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Flags: map[string]bool{
			"session-reuse": true,
			"stdin-probe":   false,
		},
	}
}

// Dir returns the per-user config directory (~/.config/claude-wrapper).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".claude-wrapper")
	}
	return filepath.Join(home, ".config", "claude-wrapper")
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Claude.TimeoutSeconds < 0 {
		return fmt.Errorf("claude.timeout_seconds must not be negative")
	}
	if c.Claude.MaxOutputBytes < 0 {
		return fmt.Errorf("claude.max_output_bytes must not be negative")
	}
	switch c.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q not supported", c.Tracing.Exporter)
	}
	return nil
}

// DefaultConfigTemplate returns the commented YAML written on first run.
func DefaultConfigTemplate() string {
	return `# claude-wrapper configuration
#
# An OpenAI-compatible HTTP front for the Claude Code CLI.

server:
  host: 0.0.0.0
  port: 8000
  # api_key: ""   # set to require "Authorization: Bearer <key>" on /v1 routes

claude:
  # path: /usr/local/bin/claude   # explicit CLI override
  # docker_image: my/claude       # run claude via "docker run --rm -i <image>"
  model: sonnet
  timeout_seconds: 600
  # skip_permissions: true

# Feature flags
flags:
  session-reuse: true   # reuse native CLI sessions across turns
  stdin-probe: false    # probe stdin piping support at startup

# Distributed tracing (disabled by default)
# tracing:
#   enabled: true
#   exporter: file
#   file_path: ~/.config/claude-wrapper/traces/traces.jsonl
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
