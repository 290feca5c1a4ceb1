// Package trigger implements loop prevention for triggered routing
// updates: a per-route cooldown and a global storm-control backoff
// (spec.md §4.5).
//
// Grounded on the teacher's device/connection/manager.go peer-bookkeeping
// shape (map of address to last-seen state), generalized to a cooldown
// gate instead of a disconnect timeout.
package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aethermesh/aethermesh/core"
)

const (
	// RouteCooldown is the minimum spacing between triggered updates from
	// the same route (spec.md §4.5).
	RouteCooldown = 10 * time.Second

	// MinInterval is the starting global minimum spacing between triggered
	// updates (spec.md §4.5).
	MinInterval = 5 * time.Second

	// MaxInterval is the ceiling the doubling backoff saturates at.
	MaxInterval = 60 * time.Second

	// MaxCounter bounds the doubling exponent (min_interval × 2^counter).
	MaxCounter = 4
)

// routeState is a RouteCooldown entry (spec.md §3.1).
type routeState struct {
	lastUpdateMs int64
}

// Controller gates triggered hello emission: per-route cooldown plus
// global exponential-backoff storm control.
type Controller struct {
	mu      sync.Mutex
	log     *slog.Logger
	maxSize int

	routes map[core.Address]*routeState
	order  []core.Address // LRU order for eviction under capacity

	counter        int
	lastGlobalMs   int64
	haveLastGlobal bool

	TriggeredUpdatesSent uint32
	UpdatesSuppressed    uint32
}

// Config configures a Controller.
type Config struct {
	Logger  *slog.Logger
	MaxSize int // capacity = routing-table max, per spec.md §3.1
}

// New creates a Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	max := cfg.MaxSize
	if max <= 0 {
		max = 256
	}
	return &Controller{
		log:     logger.WithGroup("trigger"),
		maxSize: max,
		routes:  make(map[core.Address]*routeState),
	}
}

// effectiveMinInterval returns min_interval × 2^counter, capped at MaxInterval.
func (c *Controller) effectiveMinInterval() time.Duration {
	d := MinInterval
	for i := 0; i < c.counter; i++ {
		d *= 2
		if d >= MaxInterval {
			return MaxInterval
		}
	}
	return d
}

// Allow reports whether a triggered update for addr is permitted at nowMs,
// applying both gates and recording the emission if allowed. Every route
// change (new route, strict improvement, deletion on timeout) should call
// this before scheduling an out-of-phase hello (spec.md §4.5).
func (c *Controller) Allow(addr core.Address, nowMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rs, ok := c.routes[addr]; ok {
		if nowMs-rs.lastUpdateMs < int64(RouteCooldown/time.Millisecond) {
			c.UpdatesSuppressed++
			c.log.Debug("suppressed: route cooldown", "addr", addr)
			return false
		}
	}

	minInterval := int64(c.effectiveMinInterval() / time.Millisecond)
	if c.haveLastGlobal {
		gap := nowMs - c.lastGlobalMs
		if gap < minInterval {
			c.UpdatesSuppressed++
			c.log.Debug("suppressed: global storm control", "addr", addr)
			return false
		}
		if gap < 2*int64(MinInterval/time.Millisecond) {
			if c.counter < MaxCounter {
				c.counter++
			}
		} else if c.counter > 0 {
			c.counter--
		}
	}

	c.touchRouteLocked(addr, nowMs)
	c.lastGlobalMs = nowMs
	c.haveLastGlobal = true
	c.TriggeredUpdatesSent++
	return true
}

func (c *Controller) touchRouteLocked(addr core.Address, nowMs int64) {
	if rs, ok := c.routes[addr]; ok {
		rs.lastUpdateMs = nowMs
		for i, a := range c.order {
			if a == addr {
				c.order = append(append(c.order[:i:i], c.order[i+1:]...), addr)
				break
			}
		}
		return
	}
	if len(c.routes) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.routes, oldest)
	}
	c.routes[addr] = &routeState{lastUpdateMs: nowMs}
	c.order = append(c.order, addr)
}
