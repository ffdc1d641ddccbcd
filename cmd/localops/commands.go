package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"localops/internal/app"
	"localops/internal/client"
	"localops/internal/config"
	"localops/internal/logging"
	"localops/internal/runwatch"
)

type apiFactory func(cfg config.CoreConfig, logger logging.Logger) runwatch.API

type commandWiring struct {
	stdout             io.Writer
	stderr             io.Writer
	loadConfig         func() (config.CoreConfig, error)
	newAPI             apiFactory
	configureUILogging func(cfg config.CoreConfig) (logging.Logger, func())
	runUI              func(session app.RunSession, opts app.Options) error
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:             stdout,
		stderr:             stderr,
		loadConfig:         config.LoadCoreConfig,
		newAPI:             newClientAPI,
		configureUILogging: configureUILogging,
		runUI:              app.Run,
	}
}

func newClientAPI(cfg config.CoreConfig, logger logging.Logger) runwatch.API {
	return runwatch.NewClientAPI(client.New(cfg, logger), client.StreamOptions{
		MaxReconnects:  cfg.StreamMaxReconnects(),
		InitialBackoff: cfg.StreamInitialBackoff(),
		MaxBackoff:     cfg.StreamMaxBackoff(),
	})
}

// cliState is shared by all subcommands of one invocation.
type cliState struct {
	wiring commandWiring
	debug  bool
	logger logging.Logger

	cfg    *config.CoreConfig
	cfgErr error
}

func (s *cliState) config() (config.CoreConfig, error) {
	if s.cfg == nil && s.cfgErr == nil {
		cfg, err := s.wiring.loadConfig()
		if err != nil {
			s.cfgErr = fmt.Errorf("load config: %w", err)
		} else {
			s.cfg = &cfg
		}
	}
	if s.cfgErr != nil {
		return config.CoreConfig{}, s.cfgErr
	}
	return *s.cfg, nil
}

func (s *cliState) api(logger logging.Logger) (runwatch.API, config.CoreConfig, error) {
	cfg, err := s.config()
	if err != nil {
		return nil, config.CoreConfig{}, err
	}
	return s.wiring.newAPI(cfg, logger), cfg, nil
}

func newRootCommand(wiring commandWiring) *cobra.Command {
	state := &cliState{wiring: wiring, logger: logging.Nop()}
	root := &cobra.Command{
		Use:           "localops",
		Short:         "Follow and control LocalOps runs",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.Warn
			if state.debug {
				level = logging.Debug
			}
			state.logger = logging.New(wiring.stderr, level).With(logging.F("command", cmd.Name()))
			return nil
		},
	}
	root.SetOut(wiring.stdout)
	root.SetErr(wiring.stderr)
	root.PersistentFlags().BoolVar(&state.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newShowCommand(state))
	root.AddCommand(newWatchCommand(state))
	root.AddCommand(newActionCommand(state, runwatch.CommandApprove, "Approve a run that is awaiting review"))
	root.AddCommand(newActionCommand(state, runwatch.CommandCancel, "Cancel a run"))
	root.AddCommand(newUICommand(state))
	root.AddCommand(newConfigCommand(state))
	return root
}

func parseRunID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q: must be a positive integer", raw)
	}
	return id, nil
}

const (
	formatTable = "table"
	formatJSON  = "json"
	formatTOML  = "toml"
	formatYAML  = "yaml"
)

func resolveFormat(raw string, allowed ...string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	if format == "yml" {
		format = formatYAML
	}
	for _, candidate := range allowed {
		if format == candidate {
			return format, nil
		}
	}
	return "", fmt.Errorf("invalid format %q: must be one of %s", raw, strings.Join(allowed, ", "))
}
