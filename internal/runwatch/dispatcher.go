package runwatch

import (
	"context"

	"localops/internal/logging"
	"localops/internal/types"
)

type CommandAPI interface {
	ApproveRun(ctx context.Context, runID int64) (*types.RunActionResponse, error)
	CancelRun(ctx context.Context, runID int64) (*types.RunActionResponse, error)
}

// Dispatcher sends approve and cancel for one run. It never touches the view
// itself: outcomes go through report, and any answer from the server is
// followed by refresh so the next snapshot carries the real status.
type Dispatcher struct {
	api     CommandAPI
	runID   int64
	refresh func()
	report  func(error)
	logger  logging.Logger
}

func NewDispatcher(api CommandAPI, runID int64, refresh func(), report func(error), logger logging.Logger) *Dispatcher {
	if refresh == nil {
		refresh = func() {}
	}
	if report == nil {
		report = func(error) {}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{api: api, runID: runID, refresh: refresh, report: report, logger: logger}
}

func (d *Dispatcher) Approve(ctx context.Context) error {
	return d.dispatch(ctx, CommandApprove, d.api.ApproveRun)
}

func (d *Dispatcher) Cancel(ctx context.Context) error {
	return d.dispatch(ctx, CommandCancel, d.api.CancelRun)
}

func (d *Dispatcher) dispatch(ctx context.Context, command Command, send func(context.Context, int64) (*types.RunActionResponse, error)) error {
	resp, err := send(ctx, d.runID)
	if err != nil {
		cmdErr := newCommandError(command, d.runID, err)
		d.logger.Warn("run_command_failed",
			logging.F("command", string(command)),
			logging.F("run_id", d.runID),
			logging.F("kind", string(cmdErr.Kind)),
			logging.Err(err),
		)
		d.report(cmdErr)
		if cmdErr.Kind == CommandErrorRejected {
			d.refresh()
		}
		return cmdErr
	}
	fields := []logging.Field{
		logging.F("command", string(command)),
		logging.F("run_id", d.runID),
	}
	if resp != nil && resp.Status != "" {
		fields = append(fields, logging.F("status", string(resp.Status)))
	}
	d.logger.Info("run_command_accepted", fields...)
	d.report(nil)
	d.refresh()
	return nil
}
