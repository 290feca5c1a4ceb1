package engine

import (
	"context"
	"testing"
	"time"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/config"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/core/clock"
	"github.com/aethermesh/aethermesh/radio"
)

const (
	nodeA core.Address = 1
	nodeB core.Address = 2
)

func newTestEngine(t *testing.T, local core.Address, r radio.Radio) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.HelloInterval = 50 * time.Millisecond
	cfg.DefaultTimeout = 5 * cfg.HelloInterval
	return New(Config{
		Local:  local,
		Radio:  r,
		Config: cfg,
		Clock:  clock.NewFixed(),
	})
}

func TestNewEngineStartsStopped(t *testing.T) {
	e := newTestEngine(t, nodeA, radio.NewMock(0))
	if e.State() != Stopped {
		t.Fatalf("state = %v, want Stopped", e.State())
	}
	if e.LocalAddress() != nodeA {
		t.Fatalf("local address = %v, want %v", e.LocalAddress(), nodeA)
	}
	if e.RoutingTableSize() != 0 {
		t.Fatalf("routing table size = %d, want 0", e.RoutingTableSize())
	}
}

func TestSendDataNoRouteIncrementsDestinyUnreachable(t *testing.T) {
	e := newTestEngine(t, nodeA, radio.NewMock(0))
	if err := e.SendData(99, []byte("hi")); err == nil {
		t.Fatal("expected error sending to unknown destination")
	}
	if e.Counters().DestinyUnreachable != 1 {
		t.Fatalf("destiny_unreachable = %d, want 1", e.Counters().DestinyUnreachable)
	}
}

func TestSendDataBroadcastEnqueuesWithoutRoute(t *testing.T) {
	e := newTestEngine(t, nodeA, radio.NewMock(0))
	if err := e.SendData(core.Broadcast, []byte("hi")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if e.SendQueueSize() != 1 {
		t.Fatalf("send_queue_size = %d, want 1", e.SendQueueSize())
	}
}

func TestSendDataEmptyPayloadRejected(t *testing.T) {
	e := newTestEngine(t, nodeA, radio.NewMock(0))
	if err := e.SendData(nodeB, nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestHandleHelloBootstrapsDirectNeighbor(t *testing.T) {
	e := newTestEngine(t, nodeA, radio.NewMock(0))
	hello := &codec.Packet{
		Dst:  core.Broadcast,
		Src:  nodeB,
		Type: codec.Hello,
		ID:   1,
	}
	e.handleHello(hello, 1000)

	if e.RoutingTableSize() != 1 {
		t.Fatalf("routing table size = %d, want 1", e.RoutingTableSize())
	}
	r, ok := e.table.Find(nodeB)
	if !ok || !r.IsDirect() {
		t.Fatalf("expected direct route to %v, got %+v (ok=%v)", nodeB, r, ok)
	}
}

func TestHandleHelloDuplicateSuppressed(t *testing.T) {
	e := newTestEngine(t, nodeA, radio.NewMock(0))
	hello := &codec.Packet{Dst: core.Broadcast, Src: nodeB, Type: codec.Hello, ID: 7}
	e.handleHello(hello, 1000)
	e.handleHello(hello, 1100) // same (src, id) within TTL
	if e.Counters().DuplicatesDetected != 1 {
		t.Fatalf("duplicates_detected = %d, want 1", e.Counters().DuplicatesDetected)
	}
}

// TestHandleDataFamilyGatesOnDestinationBeforeType verifies a relay forwards
// an in-transit ACK (dst elsewhere, via==local) instead of consuming it via
// its own reliable.Transport (spec.md §8 scenario 4/5; guards against
// dispatching by packet type before checking dst/via).
func TestHandleDataFamilyGatesOnDestinationBeforeType(t *testing.T) {
	const nodeC core.Address = 3
	e := newTestEngine(t, nodeB, radio.NewMock(0))
	e.table.EnsureDirectNeighbor(nodeA, 0, 60_000) // B's next hop toward A

	ack := &codec.Packet{
		Dst:  nodeA,
		Src:  nodeC,
		Type: codec.Ack,
		Data: codec.DataSub{Via: nodeB},
	}
	e.handleDataFamily(ack, 1000)

	if e.Counters().ReceivedIAmVia != 1 {
		t.Fatalf("received_i_am_via = %d, want 1", e.Counters().ReceivedIAmVia)
	}
	if e.Counters().ForwardedPackets != 1 {
		t.Fatalf("forwarded_packets = %d, want 1", e.Counters().ForwardedPackets)
	}
	if e.SendQueueSize() != 1 {
		t.Fatalf("send_queue_size = %d, want 1 (ack re-queued for forwarding, not consumed locally)", e.SendQueueSize())
	}
}

// TestHandleDataFamilyDropsPacketNotForMe verifies a data-family packet
// addressed elsewhere, whose via doesn't name this node, is dropped as
// received_not_for_me rather than forwarded (no forwarding storms on
// overheard broadcast-medium traffic).
func TestHandleDataFamilyDropsPacketNotForMe(t *testing.T) {
	e := newTestEngine(t, nodeB, radio.NewMock(0))
	p := &codec.Packet{
		Dst:  core.Address(42),
		Src:  core.Address(7),
		Type: codec.Data,
		Data: codec.DataSub{Via: core.Address(8)},
	}
	e.handleDataFamily(p, 1000)

	if e.Counters().ReceivedNotForMe != 1 {
		t.Fatalf("received_not_for_me = %d, want 1", e.Counters().ReceivedNotForMe)
	}
	if e.SendQueueSize() != 0 {
		t.Fatalf("send_queue_size = %d, want 0 (overheard packet must not be forwarded)", e.SendQueueSize())
	}
}

// TestTwoEngineHandshakeAndDataDelivery wires two engines over a paired
// mock radio and exercises hello convergence followed by a one-hop
// SendData delivery (spec.md §8 scenario 1/2).
func TestTwoEngineHandshakeAndDataDelivery(t *testing.T) {
	radioA := radio.NewMock(0)
	radioB := radio.NewMock(0)
	radio.Pair(radioA, radioB)

	a := newTestEngine(t, nodeA, radioA)
	b := newTestEngine(t, nodeB, radioB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = a.Start(ctx) }()
	go func() { _ = b.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.RoutingTableSize() > 0 && b.RoutingTableSize() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a.RoutingTableSize() == 0 || b.RoutingTableSize() == 0 {
		t.Fatal("expected both engines to learn a direct route to each other")
	}

	if err := a.SendData(nodeB, []byte("hello mesh")); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	var payload string
	var received bool
	for time.Now().Before(deadline) {
		if got, ok := b.NextAppPacket(); ok {
			payload = string(got.Payload)
			received = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !received {
		t.Fatal("expected node B to receive the application payload")
	}
	if payload != "hello mesh" {
		t.Fatalf("payload = %q, want %q", payload, "hello mesh")
	}

	cancel()
	a.Stop()
	b.Stop()
}
