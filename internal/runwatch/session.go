package runwatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"localops/internal/client"
	"localops/internal/logging"
	"localops/internal/types"
)

const DefaultPollInterval = 2 * time.Second

// Stream is a push subscription for one run. Events closes when the stream
// gives up; Close must stop delivery before it returns.
type Stream interface {
	Events() <-chan types.RunEvent
	Errors() <-chan error
	Close()
}

type API interface {
	CommandAPI
	GetRun(ctx context.Context, runID int64) (*types.RunDetail, error)
	OpenStream(ctx context.Context, runID int64) (Stream, error)
}

type ClientAPI struct {
	client *client.Client
	stream client.StreamOptions
}

func NewClientAPI(c *client.Client, stream client.StreamOptions) *ClientAPI {
	return &ClientAPI{client: c, stream: stream}
}

func (a *ClientAPI) GetRun(ctx context.Context, runID int64) (*types.RunDetail, error) {
	return a.client.GetRun(ctx, runID)
}

func (a *ClientAPI) ApproveRun(ctx context.Context, runID int64) (*types.RunActionResponse, error) {
	return a.client.ApproveRun(ctx, runID)
}

func (a *ClientAPI) CancelRun(ctx context.Context, runID int64) (*types.RunActionResponse, error) {
	return a.client.CancelRun(ctx, runID)
}

func (a *ClientAPI) OpenStream(ctx context.Context, runID int64) (Stream, error) {
	stream, err := a.client.StreamRunEvents(ctx, runID, a.stream)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(interval time.Duration) ticker {
	return timeTicker{t: time.NewTicker(interval)}
}

type Options struct {
	PollInterval time.Duration
	// StopOnTerminal ends polling and streaming once the run reaches a
	// terminal status, after one final snapshot.
	StopOnTerminal bool
	Logger         logging.Logger

	newTicker func(time.Duration) ticker
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.newTicker == nil {
		o.newTicker = newTimeTicker
	}
	return o
}

type fetchResultMsg struct {
	ticket FetchTicket
	run    *types.RunDetail
	err    error
}

type refreshMsg struct{}

type commandResultMsg struct {
	err error
}

// Session keeps the view of one run in sync. All state changes happen on a
// single loop goroutine; callers observe them through Updates and View.
type Session struct {
	id     string
	runID  int64
	api    API
	opts   Options
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox      chan any
	updates    chan View
	latest     atomic.Pointer[View]
	settled    chan struct{}
	settleOnce sync.Once
	done       chan struct{}
	closeOnce  sync.Once

	dispatcher *Dispatcher
}

// Open starts syncing runID: an immediate snapshot fetch, periodic polling,
// and a push subscription. A stream that cannot be opened is reported in the
// view and the session continues on polling alone.
func Open(ctx context.Context, api API, runID int64, opts Options) (*Session, error) {
	if api == nil {
		return nil, errors.New("api is required")
	}
	if runID <= 0 {
		return nil, errors.New("run id must be positive")
	}
	opts = opts.withDefaults()
	sessionID := logging.NewSessionID()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:      sessionID,
		runID:   runID,
		api:     api,
		opts:    opts,
		logger:  opts.Logger.With(logging.F("session_id", sessionID), logging.F("run_id", runID)),
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan any, 16),
		updates: make(chan View, 1),
		settled: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.dispatcher = NewDispatcher(api, runID, s.Refresh, s.reportCommand, s.logger)

	rec := NewReconciler(runID, opts.StopOnTerminal)
	loop := &sessionLoop{session: s, rec: rec}
	stream, err := api.OpenStream(ctx, runID)
	if err != nil {
		s.logger.Warn("event stream unavailable", logging.Err(err))
		rec.StreamFailed(err)
		rec.StreamEnded()
	} else if stream != nil {
		loop.attach(stream)
	}
	loop.tick = opts.newTicker(opts.PollInterval)
	loop.tickC = loop.tick.C()
	initial := rec.View()
	s.latest.Store(&initial)
	s.logger.Info("run session opened", logging.F("poll_interval", opts.PollInterval.String()))
	go loop.run()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) RunID() int64 { return s.runID }

// Updates delivers the latest view after every change. Intermediate views
// may be skipped when the reader falls behind. The channel is closed when
// the session is closed.
func (s *Session) Updates() <-chan View {
	return s.updates
}

func (s *Session) View() View {
	return *s.latest.Load()
}

// Settled is closed once a terminal run has received its final snapshot.
func (s *Session) Settled() <-chan struct{} {
	return s.settled
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Refresh asks for an immediate snapshot fetch.
func (s *Session) Refresh() {
	s.post(refreshMsg{})
}

func (s *Session) Approve(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	return s.dispatcher.Approve(ctx)
}

func (s *Session) Cancel(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	return s.dispatcher.Cancel(ctx)
}

// Close stops polling and streaming and waits for the loop to exit. Fetches
// still in flight are abandoned and their results discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.logger.Info("run session closed")
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return s.ctx.Err() != nil
	}
}

func (s *Session) reportCommand(err error) {
	s.post(commandResultMsg{err: err})
}

func (s *Session) post(msg any) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
	}
}

func (s *Session) publish(view View) {
	s.latest.Store(&view)
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- view:
	default:
	}
}

func (s *Session) markSettled() {
	s.settleOnce.Do(func() {
		close(s.settled)
	})
}

type sessionLoop struct {
	session *Session
	rec     *Reconciler

	stream Stream
	events <-chan types.RunEvent
	errs   <-chan error

	tick  ticker
	tickC <-chan time.Time

	published uint64
}

func (l *sessionLoop) attach(stream Stream) {
	l.stream = stream
	l.events = stream.Events()
	l.errs = stream.Errors()
}

func (l *sessionLoop) run() {
	s := l.session
	defer close(s.done)
	defer close(s.updates)
	defer l.stop()

	l.fetch()
	l.published = l.rec.Version()
	s.publish(l.rec.View())
	for {
		select {
		case <-s.ctx.Done():
			l.rec.Close()
			view := l.rec.View()
			s.latest.Store(&view)
			return
		case <-l.tickC:
			l.fetch()
		case event, ok := <-l.events:
			if !ok {
				l.events = nil
				l.rec.StreamEnded()
				s.logger.Warn("event stream ended")
				break
			}
			l.apply(l.rec.HandleEvent(event))
		case err := <-l.errs:
			l.rec.StreamFailed(err)
		case msg := <-s.inbox:
			l.handle(msg)
		}
		l.publish()
	}
}

func (l *sessionLoop) handle(msg any) {
	s := l.session
	switch msg := msg.(type) {
	case fetchResultMsg:
		if msg.err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("run fetch failed", logging.F("seq", msg.ticket.Seq), logging.Err(msg.err))
			l.apply(l.rec.FetchFailed(msg.ticket, msg.err))
			return
		}
		applied, effect := l.rec.ApplySnapshot(msg.ticket, msg.run)
		if !applied {
			s.logger.Debug("stale snapshot discarded", logging.F("seq", msg.ticket.Seq), logging.F("applied_seq", l.rec.AppliedSeq()))
			return
		}
		l.apply(effect)
	case refreshMsg:
		l.fetch()
	case commandResultMsg:
		l.rec.CommandFinished(msg.err)
	}
}

func (l *sessionLoop) apply(effect Effect) {
	s := l.session
	switch effect {
	case EffectRefetch:
		l.fetch()
	case EffectFinalize:
		s.logger.Info("run reached terminal status", logging.F("status", string(l.rec.View().Status())))
		l.stop()
		l.rec.StreamStopped()
		l.fetch()
	case EffectSettle:
		s.logger.Info("run session settled")
		s.markSettled()
	}
}

func (l *sessionLoop) fetch() {
	s := l.session
	ticket := l.rec.BeginFetch()
	go func() {
		run, err := s.api.GetRun(s.ctx, ticket.RunID)
		select {
		case s.inbox <- fetchResultMsg{ticket: ticket, run: run, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

// stop halts polling and the push subscription. Safe to call repeatedly.
func (l *sessionLoop) stop() {
	if l.tick != nil {
		l.tick.Stop()
		l.tick = nil
		l.tickC = nil
	}
	if l.stream != nil {
		l.stream.Close()
		l.stream = nil
		l.events = nil
		l.errs = nil
	}
}

func (l *sessionLoop) publish() {
	if version := l.rec.Version(); version != l.published {
		l.published = version
		l.session.publish(l.rec.View())
	}
}
