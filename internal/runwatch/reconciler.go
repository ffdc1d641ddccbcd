package runwatch

import (
	"sync/atomic"

	"localops/internal/types"
)

type Phase int

const (
	// PhaseSyncing is the state before the first snapshot lands.
	PhaseSyncing Phase = iota
	PhaseLive
	// PhaseFinalizing means a terminal status was seen and one last
	// snapshot is being fetched.
	PhaseFinalizing
	PhaseSettled
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseSyncing:
		return "syncing"
	case PhaseLive:
		return "live"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseSettled:
		return "settled"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type StreamState int

const (
	StreamConnecting StreamState = iota
	StreamLive
	StreamRetrying
	StreamDown
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamLive:
		return "live"
	case StreamRetrying:
		return "retrying"
	case StreamDown:
		return "down"
	case StreamStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Effect is the follow-up work the owner of a Reconciler must carry out.
type Effect int

const (
	EffectNone Effect = iota
	// EffectRefetch asks for an out-of-band snapshot fetch.
	EffectRefetch
	// EffectFinalize asks to stop polling and streaming, then fetch once more.
	EffectFinalize
	// EffectSettle reports that the final snapshot is in.
	EffectSettle
)

type errorSource int

const (
	errorSourceNone errorSource = iota
	errorSourceFetch
	errorSourceStream
	errorSourceCommand
)

// View is an immutable picture of a run as seen by one session.
type View struct {
	RunID  int64
	Run    *types.RunDetail
	Logs   []string
	Err    string
	Phase  Phase
	Stream StreamState
}

func (v View) Status() types.RunStatus {
	if v.Run == nil {
		return ""
	}
	return v.Run.Status
}

// FetchTicket tags one snapshot request so its response can be matched to
// the session and ordering it was issued under.
type FetchTicket struct {
	RunID int64
	Owner uint64
	Seq   uint64
}

var reconcilerOwners atomic.Uint64

// Reconciler merges snapshots and stream events into one canonical view. It
// is not safe for concurrent use; one goroutine owns it.
type Reconciler struct {
	runID          int64
	owner          uint64
	stopOnTerminal bool

	issued     uint64
	applied    uint64
	finalAfter uint64

	run       *types.RunDetail
	logs      LogBuffer
	err       string
	errSource errorSource
	phase     Phase
	stream    StreamState
	version   uint64
}

func NewReconciler(runID int64, stopOnTerminal bool) *Reconciler {
	return &Reconciler{
		runID:          runID,
		owner:          reconcilerOwners.Add(1),
		stopOnTerminal: stopOnTerminal,
	}
}

func (r *Reconciler) RunID() int64 { return r.runID }

func (r *Reconciler) Phase() Phase { return r.phase }

// Version increases on every change to the view.
func (r *Reconciler) Version() uint64 { return r.version }

// AppliedSeq is the sequence number of the snapshot currently in the view.
func (r *Reconciler) AppliedSeq() uint64 { return r.applied }

func (r *Reconciler) BeginFetch() FetchTicket {
	r.issued++
	return FetchTicket{RunID: r.runID, Owner: r.owner, Seq: r.issued}
}

// ApplySnapshot replaces every snapshot-carried field of the view. Responses
// for another session, and responses older than the one already applied, are
// discarded.
func (r *Reconciler) ApplySnapshot(ticket FetchTicket, run *types.RunDetail) (bool, Effect) {
	if !r.accepts(ticket) || run == nil {
		return false, EffectNone
	}
	r.applied = ticket.Seq
	r.run = run
	if r.errSource == errorSourceFetch {
		r.clearError()
	}
	if r.phase == PhaseSyncing {
		r.phase = PhaseLive
	}
	r.touch()
	return true, r.afterSnapshot(ticket)
}

// FetchFailed records a failed snapshot request.
func (r *Reconciler) FetchFailed(ticket FetchTicket, err error) Effect {
	if r.phase == PhaseClosed || ticket.RunID != r.runID || ticket.Owner != r.owner {
		return EffectNone
	}
	if ticket.Seq < r.applied {
		return EffectNone
	}
	r.setError(errorSourceFetch, &FetchError{RunID: r.runID, Err: err})
	if r.phase == PhaseFinalizing && ticket.Seq > r.finalAfter {
		return r.settle()
	}
	return EffectNone
}

func (r *Reconciler) accepts(ticket FetchTicket) bool {
	if r.phase == PhaseClosed {
		return false
	}
	if ticket.RunID != r.runID || ticket.Owner != r.owner {
		return false
	}
	return ticket.Seq > r.applied
}

func (r *Reconciler) afterSnapshot(ticket FetchTicket) Effect {
	switch r.phase {
	case PhaseFinalizing:
		if ticket.Seq > r.finalAfter {
			return r.settle()
		}
	case PhaseLive:
		if r.stopOnTerminal && r.run.Status.Terminal() {
			r.phase = PhaseFinalizing
			r.finalAfter = r.issued
			r.touch()
			return EffectFinalize
		}
	}
	return EffectNone
}

func (r *Reconciler) settle() Effect {
	r.phase = PhaseSettled
	r.stream = StreamStopped
	r.touch()
	return EffectSettle
}

// HandleEvent applies one push event. Log lines are appended; status events
// only ask for a fresh snapshot and never change the status themselves.
func (r *Reconciler) HandleEvent(event types.RunEvent) Effect {
	if r.phase == PhaseClosed {
		return EffectNone
	}
	if r.stream != StreamLive && r.stream != StreamStopped {
		r.stream = StreamLive
		r.touch()
	}
	if line, ok := event.LogLine(); ok {
		r.logs.Append(line)
		r.touch()
		return EffectNone
	}
	if event.Event == types.RunEventStreamResumed && r.errSource == errorSourceStream {
		r.clearError()
		r.touch()
	}
	if !event.Invalidates() {
		return EffectNone
	}
	if r.phase == PhaseFinalizing || r.phase == PhaseSettled {
		return EffectNone
	}
	return EffectRefetch
}

func (r *Reconciler) StreamFailed(err error) {
	if r.phase == PhaseClosed {
		return
	}
	r.setError(errorSourceStream, &StreamError{RunID: r.runID, Err: err})
	if r.stream != StreamDown && r.stream != StreamStopped {
		r.stream = StreamRetrying
	}
}

// StreamEnded marks the push channel as gone for the rest of the session.
func (r *Reconciler) StreamEnded() {
	if r.phase == PhaseClosed || r.stream == StreamStopped {
		return
	}
	r.stream = StreamDown
	r.touch()
}

// StreamStopped marks the push channel as deliberately closed.
func (r *Reconciler) StreamStopped() {
	if r.phase == PhaseClosed {
		return
	}
	r.stream = StreamStopped
	r.touch()
}

// CommandFinished records the outcome of approve or cancel. A nil error
// clears an earlier command error.
func (r *Reconciler) CommandFinished(err error) {
	if r.phase == PhaseClosed {
		return
	}
	if err != nil {
		r.setError(errorSourceCommand, err)
		return
	}
	if r.errSource == errorSourceCommand {
		r.clearError()
		r.touch()
	}
}

// Close freezes the view; nothing mutates it afterwards.
func (r *Reconciler) Close() {
	if r.phase == PhaseClosed {
		return
	}
	r.phase = PhaseClosed
	r.stream = StreamStopped
	r.touch()
}

func (r *Reconciler) View() View {
	return View{
		RunID:  r.runID,
		Run:    r.run,
		Logs:   r.logs.Lines(),
		Err:    r.err,
		Phase:  r.phase,
		Stream: r.stream,
	}
}

func (r *Reconciler) setError(source errorSource, err error) {
	if err == nil {
		return
	}
	r.err = err.Error()
	r.errSource = source
	r.touch()
}

func (r *Reconciler) clearError() {
	r.err = ""
	r.errSource = errorSourceNone
}

func (r *Reconciler) touch() {
	r.version++
}
