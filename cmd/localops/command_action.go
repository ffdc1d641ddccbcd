package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"localops/internal/logging"
	"localops/internal/runwatch"
)

func newActionCommand(state *cliState, command runwatch.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(command) + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			api, _, err := state.api(state.logger)
			if err != nil {
				return err
			}

			refresh := false
			dispatcher := runwatch.NewDispatcher(api, runID, func() { refresh = true }, nil, state.logger)
			var dispatchErr error
			switch command {
			case runwatch.CommandApprove:
				dispatchErr = dispatcher.Approve(cmd.Context())
			case runwatch.CommandCancel:
				dispatchErr = dispatcher.Cancel(cmd.Context())
			default:
				return fmt.Errorf("unsupported command %q", command)
			}
			if dispatchErr == nil {
				fmt.Fprintf(state.wiring.stdout, "%s accepted for run %d\n", command, runID)
			}
			if !refresh {
				return dispatchErr
			}

			run, err := api.GetRun(cmd.Context(), runID)
			if err != nil {
				state.logger.Warn("run_refresh_failed", logging.F("run_id", runID), logging.Err(err))
				if dispatchErr != nil {
					return dispatchErr
				}
				return fmt.Errorf("refresh run %d: %w", runID, err)
			}
			fmt.Fprintf(state.wiring.stdout, "run %d status: %s\n", runID, run.Status)
			return dispatchErr
		},
	}
}
