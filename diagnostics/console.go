// Package diagnostics provides an optional serial diagnostics console: a
// periodic, human-readable dump of node statistics over a serial line, for
// field debugging where a Prometheus scrape endpoint isn't reachable.
//
// Grounded on the teacher's transport/serial.Transport (Config+New,
// Start(ctx) error/Stop() error, mutex-guarded connection state, a
// context-cancelled background goroutine signaling completion over a done
// channel).
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/aethermesh/aethermesh/metrics"
)

// DefaultBaudRate matches the teacher's transport/serial default.
const DefaultBaudRate = 115200

// DefaultInterval is how often the console prints a stats line when Config
// doesn't override it.
const DefaultInterval = 30 * time.Second

// Config holds the configuration for a diagnostics console.
type Config struct {
	// Port is the serial port path (e.g. "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to DefaultBaudRate.
	BaudRate int
	// Interval is how often a stats line is printed. Defaults to
	// DefaultInterval.
	Interval time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Console periodically writes a node's spec.md §6.4 counters and queue
// sizes to a serial port as a single human-readable line.
type Console struct {
	cfg Config
	src metrics.Source
	log *slog.Logger

	mu        sync.RWMutex
	port      serial.Port
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a diagnostics console reading from src.
func New(cfg Config, src metrics.Source) *Console {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		cfg: cfg,
		src: src,
		log: cfg.Logger.WithGroup("diagnostics"),
	}
}

// Start opens the serial port and begins the periodic print loop.
func (c *Console) Start(ctx context.Context) error {
	if c.cfg.Port == "" {
		return errors.New("diagnostics: serial port is required")
	}

	port, err := serial.Open(c.cfg.Port, &serial.Mode{BaudRate: c.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("diagnostics: opening serial port: %w", err)
	}

	c.mu.Lock()
	c.port = port
	c.connected = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	printCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.printLoop(printCtx)

	c.log.Info("diagnostics console connected", "port", c.cfg.Port, "baud", c.cfg.BaudRate)
	return nil
}

// Stop closes the serial port and stops the print loop.
func (c *Console) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	c.connected = false
	port := c.port
	c.port = nil
	done := c.done
	c.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// IsConnected reports whether the serial port is open.
func (c *Console) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Console) printLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.printOnce()
		}
	}
}

func (c *Console) printOnce() {
	c.mu.RLock()
	port := c.port
	c.mu.RUnlock()
	if port == nil {
		return
	}
	if _, err := port.Write([]byte(c.line() + "\n")); err != nil {
		c.log.Error("diagnostics write error", "error", err)
	}
}

// line formats a single stats dump, e.g.:
//
//	rt=4 send_q=0 recv_q=0 wsp=1 wrp=0 sent=12 recv=9 dup=0 unreachable=0 errs=0
func (c *Console) line() string {
	s := c.src.Counters()
	return fmt.Sprintf(
		"rt=%d send_q=%d recv_q=%d wsp=%d wrp=%d sent=%d recv=%d dup=%d unreachable=%d errs=%d",
		c.src.RoutingTableSize(),
		c.src.SendQueueSize(),
		c.src.ReceivedQueueSize(),
		c.src.OutboundSequences(),
		c.src.InboundSequences(),
		s.SentPackets,
		s.ReceivedDataPackets,
		s.DuplicatesDetected,
		s.DestinyUnreachable,
		s.SendErrors,
	)
}
