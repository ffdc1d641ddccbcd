package main

import (
	"github.com/spf13/cobra"
)

func newShowCommand(state *cliState) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the current state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			format, err := resolveFormat(output, formatTable, formatJSON, formatYAML)
			if err != nil {
				return err
			}
			api, _, err := state.api(state.logger)
			if err != nil {
				return err
			}
			run, err := api.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if format == formatTable {
				printRun(state.wiring.stdout, run)
				return nil
			}
			return writeStructured(state.wiring.stdout, format, run)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table|json|yaml")
	return cmd
}
