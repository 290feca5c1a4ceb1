package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/aethermesh/aethermesh/core/clock"
)

// Manager runs the periodic routing-table sweeps: route timeout expiry
// (every DefaultTimeout) and the expected-hello decay/hello-trigger signal
// (every HelloInterval), per spec.md §4.2.4.
//
// Grounded on the teacher's device/connection/manager.go ticker-loop
// Start(ctx)/Stop() shape.
type Manager struct {
	table *Table
	clock clock.Source
	log   *slog.Logger

	defaultTimeoutMs uint64
	helloInterval    time.Duration

	onHelloDue func()

	cancel context.CancelFunc
}

// ManagerConfig configures a routing Manager.
type ManagerConfig struct {
	Table            *Table
	Clock            clock.Source
	Logger           *slog.Logger
	DefaultTimeoutMs uint64        // route/sequence default timeout
	HelloInterval    time.Duration // HELLO_PACKETS_DELAY, default 120s
	OnHelloDue       func()        // called after UpdateExpectedHellos, before assembly
}

// NewManager creates a routing-table manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.HelloInterval
	if interval <= 0 {
		interval = 120 * time.Second
	}
	timeout := cfg.DefaultTimeoutMs
	if timeout == 0 {
		timeout = uint64(5 * interval.Milliseconds())
	}
	return &Manager{
		table:            cfg.Table,
		clock:            cfg.Clock,
		log:              logger.WithGroup("routing-manager"),
		defaultTimeoutMs: timeout,
		helloInterval:    interval,
		onHelloDue:       cfg.OnHelloDue,
	}
}

// Start begins the timeout-sweep and hello-schedule loops. Blocks until ctx
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	timeoutTicker := time.NewTicker(time.Duration(m.defaultTimeoutMs) * time.Millisecond)
	defer timeoutTicker.Stop()

	helloTicker := time.NewTicker(m.helloInterval)
	defer helloTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeoutTicker.C:
			expired := m.table.ManageTimeouts(m.clock.NowMs())
			if len(expired) > 0 {
				m.log.Debug("timeout sweep", "expired", len(expired))
			}
		case <-helloTicker.C:
			m.table.UpdateExpectedHellos()
			if m.onHelloDue != nil {
				m.onHelloDue()
			}
		}
	}
}

// Stop cancels the manager's loops.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
