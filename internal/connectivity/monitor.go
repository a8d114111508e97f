// Package connectivity reports whether the backend is reachable.
// A long-lived websocket to the backend's health endpoint serves as the
// signal: an open socket means online, a failed dial or dropped socket
// means offline. Transitions to online are published on a channel so the
// sync orchestrator can trigger a catch-up cycle on reconnect.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Reconnect backoff bounds.
const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 2 * time.Minute
)

// Monitor maintains the health socket and tracks online state.
type Monitor struct {
	url    string
	online atomic.Bool
	events chan struct{}
	logger *slog.Logger

	// dialFunc is injectable for tests; defaults to websocket.Dial.
	dialFunc func(ctx context.Context, url string) (conn, error)
}

// conn is the subset of *websocket.Conn the monitor uses.
type conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// NewMonitor creates a Monitor for the given websocket health URL.
func NewMonitor(url string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		url:    url,
		events: make(chan struct{}, 1),
		logger: logger,
		dialFunc: func(ctx context.Context, url string) (conn, error) {
			c, _, err := websocket.Dial(ctx, url, nil)
			if err != nil {
				return nil, err
			}

			return c, nil
		},
	}
}

// Online reports the last known connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Events returns a channel that receives a value on each offline-to-online
// transition. Capacity one: a pending, unconsumed event already means
// "reconnected since you last looked".
func (m *Monitor) Events() <-chan struct{} {
	return m.events
}

// Run dials the health endpoint and holds the socket open, redialing with
// exponential backoff after failures. Returns nil when ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		c, err := m.dialFunc(ctx, m.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			m.markOffline()
			m.logger.Debug("health dial failed", "url", m.url, "backoff", backoff, "error", err.Error())

			if !sleep(ctx, backoff) {
				return nil
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = initialBackoff
		m.markOnline()

		// Hold the socket until it drops; payloads are ignored.
		for {
			if _, _, readErr := c.Read(ctx); readErr != nil {
				break
			}
		}

		_ = c.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return nil
		}

		m.markOffline()
	}
}

// markOnline flips state and publishes a transition event.
func (m *Monitor) markOnline() {
	if m.online.Swap(true) {
		return
	}

	m.logger.Info("backend reachable")

	select {
	case m.events <- struct{}{}:
	default:
	}
}

func (m *Monitor) markOffline() {
	if m.online.Swap(false) {
		m.logger.Warn("backend unreachable")
	}
}

// sleep waits for d or until ctx is canceled; reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
