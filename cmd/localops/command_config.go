package main

import (
	"github.com/spf13/cobra"

	"localops/internal/config"
)

type configOutput struct {
	ConfigPath string                   `json:"config_path,omitempty" toml:"config_path,omitempty" yaml:"config_path,omitempty"`
	UILogPath  string                   `json:"ui_log_path,omitempty" toml:"ui_log_path,omitempty" yaml:"ui_log_path,omitempty"`
	API        effectiveAPIConfig       `json:"api" toml:"api" yaml:"api"`
	Poll       effectivePollConfig      `json:"poll" toml:"poll" yaml:"poll"`
	Stream     effectiveStreamConfig    `json:"stream" toml:"stream" yaml:"stream"`
	Logging    effectiveLoggingConfig   `json:"logging" toml:"logging" yaml:"logging"`
	UI         effectiveUIDisplayConfig `json:"ui" toml:"ui" yaml:"ui"`
}

type effectiveAPIConfig struct {
	BaseURL string `json:"base_url" toml:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" toml:"api_key" yaml:"api_key"`
	Timeout string `json:"timeout" toml:"timeout" yaml:"timeout"`
}

type effectivePollConfig struct {
	Interval string `json:"interval" toml:"interval" yaml:"interval"`
}

type effectiveStreamConfig struct {
	MaxReconnects  int    `json:"max_reconnects" toml:"max_reconnects" yaml:"max_reconnects"`
	InitialBackoff string `json:"initial_backoff" toml:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     string `json:"max_backoff" toml:"max_backoff" yaml:"max_backoff"`
	StopOnTerminal bool   `json:"stop_on_terminal" toml:"stop_on_terminal" yaml:"stop_on_terminal"`
}

type effectiveLoggingConfig struct {
	Level string `json:"level" toml:"level" yaml:"level"`
}

type effectiveUIDisplayConfig struct {
	LogLines int `json:"log_lines" toml:"log_lines" yaml:"log_lines"`
}

func newConfigCommand(state *cliState) *cobra.Command {
	var (
		defaults bool
		format   string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveFormat(format, formatTOML, formatJSON, formatYAML)
			if err != nil {
				return err
			}
			cfg := config.DefaultCoreConfig()
			if !defaults {
				cfg, err = state.config()
				if err != nil {
					return err
				}
			}
			return writeStructured(state.wiring.stdout, resolved, buildConfigOutput(cfg))
		},
	}
	cmd.Flags().BoolVar(&defaults, "default", false, "Print default config values")
	cmd.Flags().StringVar(&format, "format", formatTOML, "Output format: toml|json|yaml")
	return cmd
}

func buildConfigOutput(cfg config.CoreConfig) configOutput {
	out := configOutput{
		API: effectiveAPIConfig{
			BaseURL: cfg.APIBaseURL(),
			APIKey:  maskSecret(cfg.APIKey()),
			Timeout: cfg.APITimeout().String(),
		},
		Poll: effectivePollConfig{
			Interval: cfg.PollInterval().String(),
		},
		Stream: effectiveStreamConfig{
			MaxReconnects:  cfg.StreamMaxReconnects(),
			InitialBackoff: cfg.StreamInitialBackoff().String(),
			MaxBackoff:     cfg.StreamMaxBackoff().String(),
			StopOnTerminal: cfg.StopOnTerminal(),
		},
		Logging: effectiveLoggingConfig{
			Level: cfg.LogLevel(),
		},
		UI: effectiveUIDisplayConfig{
			LogLines: cfg.UILogLines(),
		},
	}
	if path, err := config.CoreConfigPath(); err == nil {
		out.ConfigPath = path
	}
	if path, err := config.UILogPath(); err == nil {
		out.UILogPath = path
	}
	return out
}

func maskSecret(secret string) string {
	runes := []rune(secret)
	if len(runes) <= 4 {
		return "****"
	}
	return string(runes[:4]) + "****"
}
