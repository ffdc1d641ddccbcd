package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"localops/internal/types"
)

func acceptSubscriber(t *testing.T, w http.ResponseWriter, r *http.Request) *websocket.Conn {
	t.Helper()
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.Errorf("accept: %v", err)
		return nil
	}
	typ, data, err := conn.Read(r.Context())
	if err != nil {
		t.Errorf("read handshake: %v", err)
		conn.CloseNow()
		return nil
	}
	if typ != websocket.MessageText || string(data) != "subscribe" {
		t.Errorf("unexpected handshake: %v %q", typ, data)
	}
	return conn
}

func writeFrames(ctx context.Context, conn *websocket.Conn, frames ...string) error {
	for _, frame := range frames {
		if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			return err
		}
	}
	return nil
}

// waitClosed blocks until the client goes away.
func waitClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
	}
}

func receiveEvent(t *testing.T, stream *EventStream) types.RunEvent {
	t.Helper()
	select {
	case event, ok := <-stream.Events():
		if !ok {
			t.Fatalf("event stream closed early: %v", stream.Err())
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return types.RunEvent{}
}

func TestStreamRunEventsSubscribesAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ws/runs/42" || r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn := acceptSubscriber(t, w, r)
		if conn == nil {
			return
		}
		defer conn.CloseNow()
		_ = writeFrames(r.Context(), conn,
			`{"event":"step.log","line":"hello"}`,
			`{"event":"step.started","step_no":1}`,
			`not json`,
			`{"event":"step.log","line":7}`,
			`{"event":"run.status","status":"RUNNING"}`,
		)
		waitClosed(conn)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, "test-key")
	stream, err := c.StreamRunEvents(context.Background(), 42, StreamOptions{})
	if err != nil {
		t.Fatalf("StreamRunEvents: %v", err)
	}
	defer stream.Close()

	first := receiveEvent(t, stream)
	if line, ok := first.LogLine(); !ok || line != "hello" {
		t.Fatalf("unexpected first event: %#v", first)
	}
	second := receiveEvent(t, stream)
	if second.Event != types.RunEventRunStatus || second.Status == nil || *second.Status != "RUNNING" {
		t.Fatalf("unexpected second event: %#v", second)
	}
}

func TestStreamRunEventsReconnectsAndResubscribes(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := acceptSubscriber(t, w, r)
		if conn == nil {
			return
		}
		defer conn.CloseNow()
		switch connections.Add(1) {
		case 1:
			_ = writeFrames(r.Context(), conn, `{"event":"step.log","line":"a"}`)
			return
		default:
			_ = writeFrames(r.Context(), conn, `{"event":"step.log","line":"b"}`)
			waitClosed(conn)
		}
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, "test-key")
	stream, err := c.StreamRunEvents(context.Background(), 42, StreamOptions{
		MaxReconnects:  3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("StreamRunEvents: %v", err)
	}
	defer stream.Close()

	var got []string
	for len(got) < 3 {
		event := receiveEvent(t, stream)
		if line, ok := event.LogLine(); ok {
			got = append(got, line)
			continue
		}
		got = append(got, event.Event)
	}
	want := []string{"a", types.RunEventStreamResumed, "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected event order: %v", got)
		}
	}
	select {
	case err := <-stream.Errors():
		if err == nil {
			t.Fatalf("expected the dropped connection to be reported")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for connection error")
	}
	if connections.Load() != 2 {
		t.Fatalf("expected two subscriptions, got %d", connections.Load())
	}
}

func TestStreamRunEventsGivesUpAfterRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, "wrong-key")
	stream, err := c.StreamRunEvents(context.Background(), 42, StreamOptions{
		MaxReconnects:  1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("StreamRunEvents: %v", err)
	}
	defer stream.Close()

	reported := 0
	for done := false; !done; {
		select {
		case <-stream.Errors():
			reported++
		case _, ok := <-stream.Events():
			if !ok {
				done = true
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for stream to give up")
		}
	}
drain:
	for {
		select {
		case <-stream.Errors():
			reported++
		default:
			break drain
		}
	}
	if reported != 2 || attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts and 2 reported errors, got attempts=%d reported=%d", attempts.Load(), reported)
	}
	apiErr := AsAPIError(stream.Err())
	if apiErr == nil || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected terminal 403 error, got %v", stream.Err())
	}
}

func TestEventStreamCloseIsSynchronous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := acceptSubscriber(t, w, r)
		if conn == nil {
			return
		}
		defer conn.CloseNow()
		waitClosed(conn)
	}))
	defer server.Close()

	c := NewWithBaseURL(server.URL, "test-key")
	stream, err := c.StreamRunEvents(context.Background(), 42, StreamOptions{})
	if err != nil {
		t.Fatalf("StreamRunEvents: %v", err)
	}
	stream.Close()
	if _, ok := <-stream.Events(); ok {
		t.Fatalf("expected events channel to be closed after Close")
	}
	if stream.Err() != nil {
		t.Fatalf("closing must not record an error: %v", stream.Err())
	}
	stream.Close()
}

func TestStreamURLFollowsScheme(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":    "ws://localhost:8000/v1/ws/runs/5",
		"https://ops.example.com/": "wss://ops.example.com/v1/ws/runs/5",
	}
	for base, want := range cases {
		got, err := NewWithBaseURL(base, "").streamURL(5)
		if err != nil || got != want {
			t.Fatalf("streamURL(%q)=%q err=%v want %q", base, got, err, want)
		}
	}
	if _, err := NewWithBaseURL("localhost:8000", "").streamURL(5); err == nil {
		t.Fatalf("expected error for base url without scheme")
	}
}
