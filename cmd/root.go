package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/api"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/claude"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/config"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/flags"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/session"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tempfiles"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "claude-wrapper",
	Short:   "An OpenAI-compatible HTTP front for the claude CLI",
	Long:    `Serves an OpenAI chat-completion-shaped API backed by headless claude CLI processes, with executable discovery, prompt-size-aware input strategies, and native session reuse.`,
	Version: version,
	RunE:    runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/claude-wrapper/config.yaml)")
	rootCmd.Flags().IntP("port", "p", 0,
		"port to listen on (overrides config)")
	rootCmd.Flags().Bool("debug", false,
		"log to stderr at debug level instead of the log file")
	rootCmd.Flags().Bool("write-config", false,
		"write the default config file and exit")

	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.api_key", defaults.Server.APIKey)
	viper.SetDefault("claude.path", defaults.Claude.Path)
	viper.SetDefault("claude.docker_image", defaults.Claude.DockerImage)
	viper.SetDefault("claude.model", defaults.Claude.Model)
	viper.SetDefault("claude.work_dir", defaults.Claude.WorkDir)
	viper.SetDefault("claude.timeout_seconds", defaults.Claude.TimeoutSeconds)
	viper.SetDefault("claude.max_output_bytes", defaults.Claude.MaxOutputBytes)
	viper.SetDefault("claude.skip_permissions", defaults.Claude.SkipPermissions)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("flags", defaults.Flags)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .claude-wrapper/config.yaml (current directory)
		// 2. ~/.config/claude-wrapper/config.yaml (user config)
		if _, err := os.Stat(".claude-wrapper/config.yaml"); err == nil {
			viper.SetConfigFile(".claude-wrapper/config.yaml")
		} else {
			viper.AddConfigPath(config.Dir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create the commented default so
		// operators have something to edit.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(config.Dir(), "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	if writeConfig, _ := cmd.Flags().GetBool("write-config"); writeConfig {
		path := filepath.Join(config.Dir(), "config.yaml")
		if cfgFile != "" {
			path = cfgFile
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		log.InitStderr()
	} else {
		closeLog, err := log.Init(filepath.Join(config.Dir(), "claude-wrapper.log"))
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer closeLog()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	registry := flags.New(cfg.Flags)
	locator := claude.NewLocator(
		claude.WithConfigPath(cfg.Claude.Path),
		claude.WithDockerImage(cfg.Claude.DockerImage),
	)
	tmp := tempfiles.NewService()
	executor := claude.NewExecutor(locator, tmp, claude.ExecutorConfig{
		Timeout:         cfg.Claude.Timeout(),
		MaxOutputBytes:  cfg.Claude.MaxOutputBytes,
		WorkDir:         cfg.Claude.WorkDir,
		SkipPermissions: cfg.Claude.SkipPermissions,
	})

	if registry.Enabled(flags.FlagStdinProbe) {
		if !executor.IsFileInputSupported(ctx) {
			log.Warn(log.CatExec, "stdin piping probe failed; large prompts may not work")
		}
	}

	manager := session.NewManager(executor, tmp, registry)

	apiKey := cfg.Server.APIKey
	if env := os.Getenv("API_KEY"); env != "" {
		apiKey = env
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(addr, manager, apiKey, cfg.Claude.Model)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info(log.CatAPI, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
