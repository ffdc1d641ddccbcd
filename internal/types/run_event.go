package types

const (
	RunEventStepLog      = "step.log"
	RunEventRunStatus    = "run.status"
	RunEventRunCompleted = "run.completed"
	// RunEventStreamResumed is produced locally after the push channel
	// reconnects; it never arrives from the server.
	RunEventStreamResumed = "stream.resumed"
)

// RunEvent is one push message for a run. Only Event is required; the other
// fields are present depending on the event.
type RunEvent struct {
	Event  string  `json:"event"`
	Line   *string `json:"line,omitempty"`
	Status *string `json:"status,omitempty"`
}

// LogLine returns the log text of a step.log event.
func (e RunEvent) LogLine() (string, bool) {
	if e.Event != RunEventStepLog || e.Line == nil {
		return "", false
	}
	return *e.Line, true
}

// Invalidates reports whether the event signals that the last snapshot is
// stale. Such events carry too little state to be applied directly.
func (e RunEvent) Invalidates() bool {
	switch e.Event {
	case RunEventRunStatus, RunEventRunCompleted, RunEventStreamResumed:
		return true
	default:
		return false
	}
}
