package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"localops/internal/app"
	"localops/internal/config"
	"localops/internal/logging"
	"localops/internal/runwatch"
)

func newUICommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "ui <run-id>",
		Short: "Open the interactive run view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			cfg, err := state.config()
			if err != nil {
				return err
			}
			// The terminal belongs to the UI; logs go to a file instead.
			logger, closeLog := state.wiring.configureUILogging(cfg)
			defer closeLog()

			api, _, err := state.api(logger)
			if err != nil {
				return err
			}
			session, err := runwatch.Open(cmd.Context(), api, runID, runwatch.Options{
				PollInterval:   cfg.PollInterval(),
				StopOnTerminal: cfg.StopOnTerminal(),
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			defer session.Close()
			return state.wiring.runUI(session, app.Options{
				LogLines: cfg.UILogLines(),
				Logger:   logger,
			})
		},
	}
}

func configureUILogging(cfg config.CoreConfig) (logging.Logger, func()) {
	noop := func() {}
	path, err := config.UILogPath()
	if err != nil {
		return logging.Nop(), noop
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return logging.Nop(), noop
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return logging.Nop(), noop
	}
	logger := logging.New(file, logging.ParseLevel(cfg.LogLevel())).With(logging.F("component", "ui"))
	return logger, func() { _ = file.Close() }
}
