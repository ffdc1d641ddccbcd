package runwatch

import (
	"errors"
	"fmt"

	"localops/internal/client"
)

var ErrSessionClosed = errors.New("session closed")

type FetchError struct {
	RunID int64
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch run %d: %v", e.RunID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type StreamError struct {
	RunID int64
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("event stream for run %d: %v", e.RunID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

type Command string

const (
	CommandApprove Command = "approve"
	CommandCancel  Command = "cancel"
)

type CommandErrorKind string

const (
	// CommandErrorNetwork means the request never got an answer.
	CommandErrorNetwork CommandErrorKind = "network"
	// CommandErrorRejected means the server answered with a non-success status.
	CommandErrorRejected CommandErrorKind = "rejected"
)

type CommandError struct {
	Command Command
	RunID   int64
	Kind    CommandErrorKind
	Err     error
}

func (e *CommandError) Error() string {
	if e.Kind == CommandErrorRejected {
		return fmt.Sprintf("%s run %d rejected: %v", e.Command, e.RunID, e.Err)
	}
	return fmt.Sprintf("%s run %d failed: %v", e.Command, e.RunID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func newCommandError(command Command, runID int64, err error) *CommandError {
	kind := CommandErrorNetwork
	if client.AsAPIError(err) != nil {
		kind = CommandErrorRejected
	}
	return &CommandError{Command: command, RunID: runID, Kind: kind, Err: err}
}

func AsCommandError(err error) *CommandError {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}
	return nil
}
