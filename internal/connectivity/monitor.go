// Package connectivity tracks whether the remote store is reachable.
//
// Monitor polls a Pinger on a ticker and keeps the last answer. Listeners are
// told about every change; the app uses the offline to online transition to
// start a reconciliation.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/logging"
)

// Pinger performs a minimal remote read. connected is true whenever the server
// answered, even with an error.
type Pinger interface {
	Ping(ctx context.Context) (connected bool, err error)
}

// Listener is called with the new state after each transition.
type Listener func(ctx context.Context, online bool)

type Monitor struct {
	pinger  Pinger
	timeout time.Duration
	log     logging.Logger

	online atomic.Bool

	mu        sync.Mutex
	listeners []Listener
}

// New returns a monitor in the offline state. pinger may be nil, in which
// case the monitor never goes online.
func New(pinger Pinger, timeout time.Duration, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{pinger: pinger, timeout: timeout, log: log.With("module", "connectivity")}
}

func (m *Monitor) Online() bool { return m.online.Load() }

// OnChange registers l for future transitions.
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Check pings once, updates the state and notifies listeners on change.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.pinger == nil {
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	connected, err := m.pinger.Ping(pctx)
	cancel()
	if err != nil && connected {
		m.log.Debug(ctx, "remote answered with an error", "error", err)
	}

	if m.online.Swap(connected) != connected {
		if connected {
			m.log.Info(ctx, "remote store reachable")
		} else {
			m.log.Warn(ctx, "remote store unreachable", "error", err)
		}
		m.notify(ctx, connected)
	}
	return connected
}

func (m *Monitor) notify(ctx context.Context, online bool) {
	m.mu.Lock()
	ls := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range ls {
		l(ctx, online)
	}
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
