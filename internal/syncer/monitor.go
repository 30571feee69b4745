package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	applog "offlinepos/internal/log"
)

// Probe checks whether the remote answers. A nil error means reachable.
type Probe func(ctx context.Context) error

// Monitor turns reachability checks into online/offline transitions. It
// never retries anything itself.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration

	online atomic.Bool
	mu     sync.Mutex
	out    chan bool
}

// NewMonitor starts offline. A nil probe leaves the state to Set.
func NewMonitor(probe Probe, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{probe: probe, interval: interval, timeout: timeout, out: make(chan bool, 1)}
}

func (m *Monitor) Online() bool { return m.online.Load() }

// Transitions delivers the new state after each change. Only the latest
// undelivered state is kept.
func (m *Monitor) Transitions() <-chan bool { return m.out }

// Set records a reachability observation and publishes it if it changes
// the state.
func (m *Monitor) Set(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online.CompareAndSwap(!up, up) {
		return
	}
	applog.Info(nil, "connectivity.change", map[string]any{"component": "monitor", "online": up})
	select {
	case <-m.out:
	default:
	}
	m.out <- up
}

// Check probes once.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.probe == nil {
		return m.Online()
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.probe(pctx)
	if err != nil && ctx.Err() == nil && m.Online() {
		applog.Warn(nil, "connectivity.probe.fail", err, map[string]any{"component": "monitor"})
	}
	up := err == nil
	if ctx.Err() == nil {
		m.Set(up)
	}
	return up
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.probe == nil {
		<-ctx.Done()
		return
	}
	m.Check(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
