package routing

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aethermesh/aethermesh/core/clock"
)

func TestManagerFiresOnHelloDue(t *testing.T) {
	tbl := New(Config{LocalAddress: 1, MaxSize: 8})
	var fired atomic.Bool

	mgr := NewManager(ManagerConfig{
		Table:            tbl,
		Clock:            clock.New(),
		HelloInterval:    20 * time.Millisecond,
		DefaultTimeoutMs: 10_000,
		OnHelloDue:       func() { fired.Store(true) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Start(ctx)
	defer mgr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fired.Load() {
			cancel()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("expected OnHelloDue to fire within 2s")
}

func TestManagerSweepsExpiredRoutes(t *testing.T) {
	tbl := New(Config{LocalAddress: 1, MaxSize: 8})
	clk := clock.New()
	tbl.EnsureDirectNeighbor(2, clk.NowMs(), 1) // expires almost immediately

	mgr := NewManager(ManagerConfig{
		Table:            tbl,
		Clock:            clk,
		HelloInterval:    time.Hour,
		DefaultTimeoutMs: 20,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Start(ctx)
	defer mgr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tbl.Size() == 0 {
			cancel()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("expected expired route to be swept within 2s")
}
