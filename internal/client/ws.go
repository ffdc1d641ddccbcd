package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"localops/internal/logging"
	"localops/internal/types"
)

const (
	subscribeMessage = "subscribe"
	streamReadLimit  = 1 << 20

	defaultStreamInitialBackoff = 500 * time.Millisecond
	defaultStreamMaxBackoff     = 10 * time.Second
	defaultStreamStableAfter    = 10 * time.Second
)

// StreamOptions controls reconnection of a run event stream. MaxReconnects
// of zero disables reconnection: the first connection failure ends the stream.
type StreamOptions struct {
	MaxReconnects  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StableAfter is how long a connection must stay up before the retry
	// budget is restored.
	StableAfter time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.MaxReconnects < 0 {
		o.MaxReconnects = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultStreamInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(o.InitialBackoff, defaultStreamMaxBackoff)
	}
	if o.StableAfter <= 0 {
		o.StableAfter = defaultStreamStableAfter
	}
	return o
}

func (o StreamOptions) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(o.InitialBackoff),
		backoff.WithMaxInterval(o.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithMaxRetries(exp, uint64(o.MaxReconnects))
}

type dialFunc func(ctx context.Context) (*websocket.Conn, error)

// EventStream is a live push subscription for one run. Events are delivered
// in arrival order and never dropped; connection failures are reported on
// Errors. Events closes once the stream gives up or is closed.
type EventStream struct {
	runID  int64
	opts   StreamOptions
	dial   dialFunc
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan types.RunEvent
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// StreamRunEvents subscribes to the push channel of a run. Connecting happens
// in the background; failures surface on the returned stream's Errors.
func (c *Client) StreamRunEvents(ctx context.Context, runID int64, opts StreamOptions) (*EventStream, error) {
	target, err := c.streamURL(runID)
	if err != nil {
		return nil, err
	}
	dialTimeout := c.http.Timeout
	header := http.Header{}
	header.Set(apiKeyHeader, c.apiKey)
	dial := func(ctx context.Context) (*websocket.Conn, error) {
		if dialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, dialTimeout)
			defer cancel()
		}
		conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			if resp != nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) && resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
			}
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		conn.SetReadLimit(streamReadLimit)
		return conn, nil
	}
	return newEventStream(ctx, runID, opts, dial, c.logger), nil
}

func newEventStream(ctx context.Context, runID int64, opts StreamOptions, dial dialFunc, logger logging.Logger) *EventStream {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		runID:  runID,
		opts:   opts.withDefaults(),
		dial:   dial,
		logger: logger.With(logging.F("run_id", runID)),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan types.RunEvent, 256),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *EventStream) Events() <-chan types.RunEvent {
	return s.events
}

func (s *EventStream) Errors() <-chan error {
	return s.errs
}

// Err returns the error that ended the stream, or nil if it was closed.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the connection down and waits for the reader to exit.
func (s *EventStream) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *EventStream) run() {
	defer close(s.done)
	defer close(s.events)

	policy := s.opts.newBackOff()
	failures := 0
	for {
		conn, err := s.dial(s.ctx)
		if err == nil {
			if failures > 0 {
				s.logger.Info("event stream reconnected", logging.F("failures", failures))
				if !s.emit(types.RunEvent{Event: types.RunEventStreamResumed}) {
					conn.CloseNow()
					return
				}
			}
			connectedAt := time.Now()
			err = s.consume(conn)
			if time.Since(connectedAt) >= s.opts.StableAfter {
				policy.Reset()
			}
		}
		if s.ctx.Err() != nil {
			return
		}
		failures++
		s.logger.Warn("event stream failed", logging.Err(err), logging.F("failures", failures))
		s.report(err)

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *EventStream) consume(conn *websocket.Conn) error {
	defer conn.CloseNow()
	if err := conn.Write(s.ctx, websocket.MessageText, []byte(subscribeMessage)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		event, ok := decodeRunEvent(data)
		if !ok {
			if s.logger.Enabled(logging.Debug) {
				s.logger.Debug("event stream message ignored", logging.F("payload", string(data)))
			}
			continue
		}
		if !s.emit(event) {
			return s.ctx.Err()
		}
	}
}

func (s *EventStream) emit(event types.RunEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *EventStream) report(err error) {
	select {
	case s.errs <- err:
	case <-s.ctx.Done():
	}
}

// decodeRunEvent accepts only the recognized event shapes. Unknown events,
// malformed frames, and step.log frames without a string line are dropped.
func decodeRunEvent(data []byte) (types.RunEvent, bool) {
	var raw struct {
		Event  string          `json:"event"`
		Line   json.RawMessage `json:"line"`
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.RunEvent{}, false
	}
	event := types.RunEvent{Event: raw.Event}
	if line, ok := rawString(raw.Line); ok {
		event.Line = &line
	}
	if status, ok := rawString(raw.Status); ok {
		event.Status = &status
	}
	switch event.Event {
	case types.RunEventStepLog:
		return event, event.Line != nil
	case types.RunEventRunStatus, types.RunEventRunCompleted:
		return event, true
	default:
		return types.RunEvent{}, false
	}
}

func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func (c *Client) streamURL(runID int64) (string, error) {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "", errors.New("base url must start with http:// or https://")
	}
	return fmt.Sprintf("%s/v1/ws/runs/%d", base, runID), nil
}
