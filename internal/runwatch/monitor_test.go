package runwatch

import (
	"context"
	"testing"
	"time"

	"localops/internal/types"
)

func TestMonitorWatchClosesPreviousSession(t *testing.T) {
	first := newFakeStream()
	api := &fakeAPI{status: types.RunStatusRunning, stream: first}
	monitor := NewMonitor(api, testOptions(newManualTicker()))
	defer monitor.Close()

	previous, err := monitor.Watch(context.Background(), 41)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	waitForView(t, previous, "first snapshot", func(v View) bool { return v.Run != nil })

	api.stream = newFakeStream()
	next, err := monitor.Watch(context.Background(), 42)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	select {
	case <-previous.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("previous session still running")
	}
	if !first.isClosed() {
		t.Fatalf("expected previous stream to be closed")
	}
	if monitor.Current() != next || next.RunID() != 42 {
		t.Fatalf("unexpected current session")
	}

	first.events <- logEvent("late line for 41")
	view := waitForView(t, next, "second snapshot", func(v View) bool { return v.Run != nil })
	if view.RunID != 42 || view.Run.ID != 42 || len(view.Logs) != 0 {
		t.Fatalf("view leaked state from previous run: %#v", view)
	}
	if previous.View().Phase != PhaseClosed {
		t.Fatalf("expected previous view to be frozen, got %v", previous.View().Phase)
	}
}
