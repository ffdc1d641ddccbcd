package runwatch

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"localops/internal/client"
	"localops/internal/types"
)

func runWithStatus(id int64, status types.RunStatus) *types.RunDetail {
	return &types.RunDetail{
		ID:     id,
		Status: status,
		Steps: []types.Step{
			{ID: 1, StepNo: 1, Type: "execute", Command: "ls", Status: types.StepStatusQueued},
		},
	}
}

func logEvent(line string) types.RunEvent {
	return types.RunEvent{Event: types.RunEventStepLog, Line: &line}
}

func statusEvent(status string) types.RunEvent {
	return types.RunEvent{Event: types.RunEventRunStatus, Status: &status}
}

func TestApplySnapshotTwiceIsIdempotent(t *testing.T) {
	once := NewReconciler(42, false)
	once.HandleEvent(logEvent("hello"))
	if applied, _ := once.ApplySnapshot(once.BeginFetch(), runWithStatus(42, types.RunStatusRunning)); !applied {
		t.Fatalf("expected snapshot to apply")
	}

	twice := NewReconciler(42, false)
	twice.HandleEvent(logEvent("hello"))
	twice.ApplySnapshot(twice.BeginFetch(), runWithStatus(42, types.RunStatusRunning))
	twice.ApplySnapshot(twice.BeginFetch(), runWithStatus(42, types.RunStatusRunning))

	if !reflect.DeepEqual(once.View(), twice.View()) {
		t.Fatalf("views differ:\nonce=%#v\ntwice=%#v", once.View(), twice.View())
	}
}

func TestSnapshotAndLogOrderCommute(t *testing.T) {
	snapshot := runWithStatus(42, types.RunStatusAwaitingReview)

	snapshotFirst := NewReconciler(42, false)
	snapshotFirst.ApplySnapshot(snapshotFirst.BeginFetch(), snapshot)
	snapshotFirst.HandleEvent(logEvent("a"))
	snapshotFirst.HandleEvent(logEvent("b"))

	logsFirst := NewReconciler(42, false)
	logsFirst.HandleEvent(logEvent("a"))
	logsFirst.HandleEvent(logEvent("b"))
	logsFirst.ApplySnapshot(logsFirst.BeginFetch(), snapshot)

	if !reflect.DeepEqual(snapshotFirst.View(), logsFirst.View()) {
		t.Fatalf("views differ:\nsnapshot first=%#v\nlogs first=%#v", snapshotFirst.View(), logsFirst.View())
	}
	if got := strings.Join(logsFirst.View().Logs, ","); got != "a,b" {
		t.Fatalf("unexpected logs: %q", got)
	}
}

func TestOlderSnapshotIsDiscarded(t *testing.T) {
	r := NewReconciler(42, false)
	older := r.BeginFetch()
	newer := r.BeginFetch()

	if applied, _ := r.ApplySnapshot(newer, runWithStatus(42, types.RunStatusRunning)); !applied {
		t.Fatalf("expected newer snapshot to apply")
	}
	if applied, _ := r.ApplySnapshot(older, runWithStatus(42, types.RunStatusAwaitingReview)); applied {
		t.Fatalf("expected older snapshot to be discarded")
	}
	if got := r.View().Status(); got != types.RunStatusRunning {
		t.Fatalf("expected RUNNING to survive, got %q", got)
	}
	if r.AppliedSeq() != newer.Seq {
		t.Fatalf("unexpected applied seq %d", r.AppliedSeq())
	}
}

func TestSnapshotFromAnotherSessionIsDiscarded(t *testing.T) {
	current := NewReconciler(42, false)
	previous := NewReconciler(42, false)
	foreign := previous.BeginFetch()
	current.BeginFetch()

	if applied, _ := current.ApplySnapshot(foreign, runWithStatus(42, types.RunStatusFailed)); applied {
		t.Fatalf("expected foreign ticket to be rejected")
	}
	if current.View().Run != nil {
		t.Fatalf("expected no snapshot, got %#v", current.View().Run)
	}
	if effect := current.FetchFailed(foreign, errors.New("boom")); effect != EffectNone || current.View().Err != "" {
		t.Fatalf("expected foreign failure to be ignored, effect=%v err=%q", effect, current.View().Err)
	}
}

func TestStatusEventsRequestRefetchWithoutChangingStatus(t *testing.T) {
	r := NewReconciler(42, false)
	r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusAwaitingReview))

	if effect := r.HandleEvent(statusEvent("RUNNING")); effect != EffectRefetch {
		t.Fatalf("expected refetch for run.status, got %v", effect)
	}
	if effect := r.HandleEvent(types.RunEvent{Event: types.RunEventRunCompleted}); effect != EffectRefetch {
		t.Fatalf("expected refetch for run.completed, got %v", effect)
	}
	if got := r.View().Status(); got != types.RunStatusAwaitingReview {
		t.Fatalf("status must only change through snapshots, got %q", got)
	}
	if effect := r.HandleEvent(logEvent("x")); effect != EffectNone {
		t.Fatalf("expected no effect for step.log, got %v", effect)
	}
}

func TestTerminalSnapshotFinalizesThenSettles(t *testing.T) {
	r := NewReconciler(42, true)
	r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusRunning))
	inFlight := r.BeginFetch()

	applied, effect := r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusSucceeded))
	if !applied || effect != EffectFinalize || r.Phase() != PhaseFinalizing {
		t.Fatalf("expected finalize, applied=%v effect=%v phase=%v", applied, effect, r.Phase())
	}
	if effect := r.HandleEvent(types.RunEvent{Event: types.RunEventRunCompleted}); effect != EffectNone {
		t.Fatalf("expected no refetch while finalizing, got %v", effect)
	}
	if applied, _ := r.ApplySnapshot(inFlight, runWithStatus(42, types.RunStatusRunning)); applied {
		t.Fatalf("expected in-flight older snapshot to be discarded")
	}

	final := r.BeginFetch()
	done := runWithStatus(42, types.RunStatusSucceeded)
	done.ReportContent = stringPtr("# report")
	applied, effect = r.ApplySnapshot(final, done)
	if !applied || effect != EffectSettle || r.Phase() != PhaseSettled {
		t.Fatalf("expected settle, applied=%v effect=%v phase=%v", applied, effect, r.Phase())
	}
	if r.View().Run.ReportContent == nil || r.View().Stream != StreamStopped {
		t.Fatalf("unexpected settled view: %#v", r.View())
	}
}

func TestFinalFetchFailureStillSettles(t *testing.T) {
	r := NewReconciler(42, true)
	if _, effect := r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusCancelled)); effect != EffectFinalize {
		t.Fatalf("expected finalize for a run that is already terminal, got %v", effect)
	}
	if effect := r.FetchFailed(r.BeginFetch(), errors.New("connection refused")); effect != EffectSettle {
		t.Fatalf("expected settle after failed final fetch, got %v", effect)
	}
	if got := r.View().Status(); got != types.RunStatusCancelled {
		t.Fatalf("expected last good snapshot to stay, got %q", got)
	}
	if !strings.Contains(r.View().Err, "connection refused") {
		t.Fatalf("expected fetch error in view, got %q", r.View().Err)
	}
}

func TestTerminalSnapshotWithoutStopKeepsLive(t *testing.T) {
	r := NewReconciler(42, false)
	if _, effect := r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusFailed)); effect != EffectNone {
		t.Fatalf("expected no finalize, got %v", effect)
	}
	if r.Phase() != PhaseLive {
		t.Fatalf("expected live phase, got %v", r.Phase())
	}
}

func TestErrorSourcesClearIndependently(t *testing.T) {
	r := NewReconciler(42, false)

	r.FetchFailed(r.BeginFetch(), errors.New("timeout"))
	if !strings.HasPrefix(r.View().Err, "fetch run 42") {
		t.Fatalf("expected fetch error, got %q", r.View().Err)
	}
	r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusAwaitingReview))
	if r.View().Err != "" {
		t.Fatalf("expected snapshot to clear fetch error, got %q", r.View().Err)
	}

	rejected := newCommandError(CommandCancel, 42, &client.APIError{StatusCode: 400, Message: "invalid transition"})
	r.CommandFinished(rejected)
	r.ApplySnapshot(r.BeginFetch(), runWithStatus(42, types.RunStatusAwaitingReview))
	if !strings.Contains(r.View().Err, "rejected") {
		t.Fatalf("expected command rejection to survive a snapshot, got %q", r.View().Err)
	}
	r.CommandFinished(nil)
	if r.View().Err != "" {
		t.Fatalf("expected successful command to clear command error, got %q", r.View().Err)
	}
}

func TestStreamResumeClearsStreamError(t *testing.T) {
	r := NewReconciler(42, false)
	r.HandleEvent(logEvent("a"))
	r.StreamFailed(errors.New("connection reset"))
	if r.View().Stream != StreamRetrying || r.View().Err == "" {
		t.Fatalf("expected retrying stream with error, got %#v", r.View())
	}
	if effect := r.HandleEvent(types.RunEvent{Event: types.RunEventStreamResumed}); effect != EffectRefetch {
		t.Fatalf("expected refetch after resume, got %v", effect)
	}
	if r.View().Stream != StreamLive || r.View().Err != "" {
		t.Fatalf("expected live stream without error, got %#v", r.View())
	}
	if got := strings.Join(r.View().Logs, ","); got != "a" {
		t.Fatalf("resume must not touch logs, got %q", got)
	}
}

func TestClosedReconcilerIgnoresInput(t *testing.T) {
	r := NewReconciler(42, false)
	ticket := r.BeginFetch()
	r.HandleEvent(logEvent("before"))
	r.Close()
	frozen := r.View()
	version := r.Version()

	r.ApplySnapshot(ticket, runWithStatus(42, types.RunStatusRunning))
	r.HandleEvent(logEvent("after"))
	r.FetchFailed(ticket, errors.New("late"))
	r.StreamFailed(errors.New("late"))
	r.CommandFinished(errors.New("late"))

	if !reflect.DeepEqual(frozen, r.View()) || version != r.Version() {
		t.Fatalf("closed reconciler changed: before=%#v after=%#v", frozen, r.View())
	}
	if frozen.Phase != PhaseClosed {
		t.Fatalf("unexpected phase %v", frozen.Phase)
	}
}

func stringPtr(value string) *string {
	return &value
}
