package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"localops/internal/runwatch"
	"localops/internal/types"
)

func newWatchCommand(state *cliState) *cobra.Command {
	var noLogs bool
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			api, cfg, err := state.api(state.logger)
			if err != nil {
				return err
			}
			session, err := runwatch.Open(cmd.Context(), api, runID, runwatch.Options{
				PollInterval:   cfg.PollInterval(),
				StopOnTerminal: cfg.StopOnTerminal(),
				Logger:         state.logger,
			})
			if err != nil {
				return err
			}
			return followSession(cmd.Context(), session, newWatchPrinter(state.wiring.stdout, state.wiring.stderr, !noLogs))
		},
	}
	cmd.Flags().BoolVar(&noLogs, "no-logs", false, "Print status transitions only")
	return cmd
}

type watchedSession interface {
	Updates() <-chan runwatch.View
	View() runwatch.View
	Settled() <-chan struct{}
	Close()
}

// followSession prints views until the session settles or ctx ends. The
// session is closed on return.
func followSession(ctx context.Context, session watchedSession, printer *watchPrinter) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for view := range session.Updates() {
			printer.print(view)
		}
		return nil
	})
	g.Go(func() error {
		defer session.Close()
		select {
		case <-session.Settled():
		case <-gctx.Done():
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	final := session.View()
	printer.print(final)
	select {
	case <-session.Settled():
		printer.settled(final)
	default:
		printer.stopped(final)
	}
	return nil
}

type watchPrinter struct {
	stdout   io.Writer
	stderr   io.Writer
	showLogs bool

	logs   int
	status types.RunStatus
	err    string
}

func newWatchPrinter(stdout, stderr io.Writer, showLogs bool) *watchPrinter {
	return &watchPrinter{stdout: stdout, stderr: stderr, showLogs: showLogs}
}

func (p *watchPrinter) print(view runwatch.View) {
	if p.showLogs {
		for _, line := range view.Logs[min(p.logs, len(view.Logs)):] {
			fmt.Fprintln(p.stdout, lineSanitizer.Sanitize(line))
		}
	}
	p.logs = max(p.logs, len(view.Logs))

	if status := view.Status(); status != "" && status != p.status {
		p.status = status
		fmt.Fprintf(p.stdout, "==> run %d %s\n", view.RunID, status)
	}
	if view.Err != p.err {
		p.err = view.Err
		if p.err != "" {
			fmt.Fprintf(p.stderr, "warning: %s\n", lineSanitizer.Sanitize(p.err))
		}
	}
}

func (p *watchPrinter) settled(view runwatch.View) {
	fmt.Fprintf(p.stdout, "run %d settled: %s\n", view.RunID, view.Status())
}

func (p *watchPrinter) stopped(view runwatch.View) {
	status := view.Status()
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(p.stdout, "stopped following run %d (%s)\n", view.RunID, status)
}
