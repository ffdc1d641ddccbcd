package runwatch

import (
	"context"
	"sync"
)

// Monitor holds at most one live session. Watching another run closes the
// previous session first, so nothing from it can reach the new view.
type Monitor struct {
	api  API
	opts Options

	mu      sync.Mutex
	current *Session
}

func NewMonitor(api API, opts Options) *Monitor {
	return &Monitor{api: api, opts: opts}
}

func (m *Monitor) Watch(ctx context.Context, runID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
	session, err := Open(ctx, m.api, runID, m.opts)
	if err != nil {
		return nil, err
	}
	m.current = session
	return session, nil
}

func (m *Monitor) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
