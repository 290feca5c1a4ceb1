// Package engine wires every core-engine package (routing, reliable,
// dedupe, trigger, queue, counters, radio) into the running node: the six
// cooperating scheduler tasks of spec.md §4.4, and the application-facing
// façade of spec.md §6.3.
//
// Grounded on the teacher's device/router.Router Config+New+Start(ctx)/Stop()
// lifecycle (device/router/router.go), generalized from one drain goroutine
// to the spec's six cooperating tasks supervised by an errgroup.Group.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/config"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/core/clock"
	"github.com/aethermesh/aethermesh/counters"
	"github.com/aethermesh/aethermesh/dedupe"
	"github.com/aethermesh/aethermesh/packet"
	"github.com/aethermesh/aethermesh/queue"
	"github.com/aethermesh/aethermesh/radio"
	"github.com/aethermesh/aethermesh/reliable"
	"github.com/aethermesh/aethermesh/routing"
	"github.com/aethermesh/aethermesh/trigger"
)

// State describes the node's run-state, supplementing spec.md with the
// LM_State-style lifecycle flag the original firmware tracks (SPEC_FULL.md
// §5): Stopped, Starting, Running, Standby.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Standby
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Standby:
		return "standby"
	default:
		return "unknown"
	}
}

// Config configures an Engine.
type Config struct {
	Local  core.Address
	Radio  radio.Radio
	Config config.Config
	Clock  clock.Source
	Logger *slog.Logger
}

// Engine owns every mutable piece of per-node state: the routing table, the
// reliable-transport sequences, the dedup/trigger guards, the three queues,
// the counters, and the radio handle, and drives them via the six tasks in
// tasks.go.
type Engine struct {
	cfg   config.Config
	local core.Address
	radio radio.Radio
	clock clock.Source
	log   *slog.Logger

	table      *routing.Table
	routingMgr *routing.Manager
	dedup      *dedupe.Cache
	trig       *trigger.Controller
	reliable   *reliable.Transport
	counters   *counters.Counters

	toSend      *queue.Queue[*codec.Packet]
	received    *queue.Queue[*codec.Packet]
	receivedApp *queue.Queue[*packet.AppPacket]

	nextPktID atomic.Uint32 // local 8-bit wrapping packet.id counter

	state atomic.Int32

	notifyReceive chan struct{}
	notifyProcess chan struct{}
	notifySend    chan struct{}
	notifyQueue   chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New constructs an Engine. All tasks start suspended; call Start to resume
// them (spec.md §4.4: "All tasks start suspended; a start() call resumes
// them and triggers the first receive.").
func New(cfg Config) *Engine {
	c := cfg.Config
	if c.MaxPacketSize == 0 {
		c = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("engine")

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	e := &Engine{
		cfg:   c,
		local: cfg.Local,
		radio: cfg.Radio,
		clock: clk,
		log:   logger,

		dedup:    dedupe.New(),
		counters: &counters.Counters{},

		toSend:      queue.New[*codec.Packet](0),
		received:    queue.New[*codec.Packet](0),
		receivedApp: queue.New[*packet.AppPacket](0),

		notifyReceive: make(chan struct{}, 1),
		notifyProcess: make(chan struct{}, 1),
		notifySend:    make(chan struct{}, 1),
		notifyQueue:   make(chan struct{}, 1),
	}

	e.trig = trigger.New(trigger.Config{Logger: logger, MaxSize: c.RTMaxSize})
	e.table = routing.New(routing.Config{
		Logger:       logger,
		LocalAddress: cfg.Local,
		MaxSize:      c.RTMaxSize,
		OnChange:     e.onRouteChange,
	})
	e.routingMgr = routing.NewManager(routing.ManagerConfig{
		Table:            e.table,
		Clock:            clk,
		Logger:           logger,
		DefaultTimeoutMs: uint64(c.DefaultTimeout.Milliseconds()),
		HelloInterval:    c.HelloInterval,
		OnHelloDue:       e.scheduleHello,
	})
	e.reliable = reliable.New(reliable.Config{
		Local:           cfg.Local,
		Table:           e.table,
		Clock:           clk,
		Logger:          logger,
		MaxPacketSize:   c.MaxPacketSize,
		DefaultTimeoutS: uint32(c.DefaultTimeout.Seconds()),
		Send:            e.enqueueSend,
		Deliver:         e.deliverApp,
		OnDestinyUnreachable: func() {
			e.counters.DestinyUnreachable.Add(1)
		},
	})

	if e.radio != nil {
		e.radio.OnReceiveDone(func() {
			select {
			case e.notifyReceive <- struct{}{}:
			default:
			}
		})
	}

	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// LocalAddress returns the node's own address (spec.md §6.3, local_address).
func (e *Engine) LocalAddress() core.Address {
	return e.local
}

// RoutingTableSize returns the number of known routes (spec.md §6.3,
// routing_table_size).
func (e *Engine) RoutingTableSize() int {
	return e.table.Size()
}

// SendQueueSize returns the number of entries in ToSendQueue (spec.md §6.3,
// send_queue_size).
func (e *Engine) SendQueueSize() int {
	return e.toSend.Len()
}

// ReceivedQueueSize returns the number of entries in ReceivedAppQueue
// (spec.md §6.3, received_queue_size).
func (e *Engine) ReceivedQueueSize() int {
	return e.receivedApp.Len()
}

// Counters returns a point-in-time snapshot of the engine's statistics
// (spec.md §6.4).
func (e *Engine) Counters() counters.Snapshot {
	return e.counters.Snapshot()
}

// NextAppPacket pops the oldest fully-received application payload, if any
// (spec.md §6.3, next_app_packet).
func (e *Engine) NextAppPacket() (*packet.AppPacket, bool) {
	return e.receivedApp.Pop()
}

// OutboundSequences returns the number of active outbound reliable-transport
// sequences (Q_WSP size), for the metrics collector and diagnostics console.
func (e *Engine) OutboundSequences() int {
	return e.reliable.WSPSize()
}

// InboundSequences returns the number of active inbound reliable-transport
// sequences (Q_WRP size), for the metrics collector and diagnostics console.
func (e *Engine) InboundSequences() int {
	return e.reliable.WRPSize()
}

func (e *Engine) nextPacketID() uint8 {
	return uint8(e.nextPktID.Add(1))
}

func (e *Engine) enqueueSend(p *codec.Packet, priority uint8) {
	if _, evicted := e.toSend.Push(p, priority); evicted {
		e.log.Warn("to_send_queue full, dropped lowest-priority entry")
	}
	select {
	case e.notifySend <- struct{}{}:
	default:
	}
}

func (e *Engine) deliverApp(app *packet.AppPacket) {
	e.receivedApp.Push(app, 0)
}

// onRouteChange is the routing table's TriggerHook: every route change
// consults the trigger controller and, if allowed, schedules an
// out-of-phase hello (spec.md §4.5).
func (e *Engine) onRouteChange(addr core.Address) {
	if !e.trig.Allow(addr, int64(e.clock.NowMs())) {
		e.counters.UpdatesSuppressed.Add(1)
		return
	}
	e.counters.TriggeredUpdatesSent.Add(1)
	e.scheduleHello()
}

func (e *Engine) scheduleHello() {
	hello := packet.NewHello(e.log, e.cfg.MaxPacketSize, e.local, e.nextPacketID(), e.table.AllNetworkNodes())
	e.counters.SentHelloPackets.Add(1)
	e.enqueueSend(hello, reliable.DefaultPriority+reliable.HelloPriorityDelta)
}
