package trigger

import (
	"testing"

	"github.com/aethermesh/aethermesh/core"
)

func TestAllowFirstUpdatePasses(t *testing.T) {
	c := New(Config{MaxSize: 10})
	if !c.Allow(1, 0) {
		t.Error("first triggered update should be allowed")
	}
}

func TestPerRouteCooldownSuppressesRapidRepeat(t *testing.T) {
	// Scenario 6 from spec.md §8: route flaps twice within 5s; second
	// change is suppressed by the 10s per-route cooldown.
	c := New(Config{MaxSize: 10})
	if !c.Allow(1, 0) {
		t.Fatal("first update should pass")
	}
	if c.Allow(1, 5000) {
		t.Error("second update within 10s route cooldown should be suppressed")
	}
	if c.UpdatesSuppressed != 1 {
		t.Errorf("updates_suppressed = %d, want 1", c.UpdatesSuppressed)
	}
}

func TestPerRouteCooldownAllowsAfterWindow(t *testing.T) {
	c := New(Config{MaxSize: 10})
	c.Allow(1, 0)
	if !c.Allow(1, 11000) {
		t.Error("update after 10s route cooldown should be allowed")
	}
}

func TestGlobalStormControlSuppressesDifferentRoutes(t *testing.T) {
	c := New(Config{MaxSize: 10})
	c.Allow(1, 0)
	// Different route, but within the 5s global min_interval.
	if c.Allow(2, 1000) {
		t.Error("second update within global min_interval should be suppressed")
	}
}

func TestGlobalCounterIncrementsOnRapidUpdates(t *testing.T) {
	c := New(Config{MaxSize: 10})
	c.Allow(1, 0)
	// Gap of 6s (< 2*min_interval = 10s) passes the min_interval gate
	// (effective min_interval still 5s) but should increment the counter.
	if !c.Allow(2, 6000) {
		t.Fatal("expected this update to pass the gate")
	}
	if c.counter != 1 {
		t.Errorf("counter = %d, want 1", c.counter)
	}
}

func TestGlobalCounterDecrementsOnSlowUpdates(t *testing.T) {
	c := New(Config{MaxSize: 10})
	c.Allow(1, 0)
	c.Allow(2, 6000) // counter -> 1
	// Long gap (> 2*min_interval) should decrement back to 0.
	if !c.Allow(3, 6000+30000) {
		t.Fatal("expected update to pass")
	}
	if c.counter != 0 {
		t.Errorf("counter = %d, want 0", c.counter)
	}
}

func TestCounterCapsAtMax(t *testing.T) {
	c := New(Config{MaxSize: 10})
	nowMs := int64(0)
	c.Allow(1, nowMs)
	for i := 0; i < 10; i++ {
		nowMs += 6000
		c.Allow(core.Address(i+2), nowMs)
	}
	if c.counter > MaxCounter {
		t.Errorf("counter = %d, should never exceed %d", c.counter, MaxCounter)
	}
}
