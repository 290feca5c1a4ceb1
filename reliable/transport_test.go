package reliable

import (
	"testing"
	"time"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
	"github.com/aethermesh/aethermesh/core/clock"
	"github.com/aethermesh/aethermesh/packet"
	"github.com/aethermesh/aethermesh/routing"
)

const (
	localAddr core.Address = 1
	peerAddr  core.Address = 2
)

func newTestTransport(t *testing.T) (*Transport, *routing.Table, *clock.Clock, *[]*codec.Packet) {
	t.Helper()
	tbl := routing.New(routing.Config{LocalAddress: localAddr, MaxSize: 8})
	tbl.EnsureDirectNeighbor(peerAddr, 0, 5000)

	clk := clock.NewFixed()
	var sent []*codec.Packet
	tr := New(Config{
		Local:           localAddr,
		Table:           tbl,
		Clock:           clk,
		MaxPacketSize:   codec.DefaultMaxPacket,
		DefaultTimeoutS: 20,
		Send: func(p *codec.Packet, priority uint8) {
			sent = append(sent, p)
		},
	})
	return tr, tbl, clk, &sent
}

func TestSendReliableRejectsBroadcast(t *testing.T) {
	tr, _, _, _ := newTestTransport(t)
	if err := tr.SendReliable(core.Broadcast, []byte("hi")); err == nil {
		t.Fatal("expected error sending to broadcast")
	}
}

func TestSendReliableRejectsEmptyPayload(t *testing.T) {
	tr, _, _, _ := newTestTransport(t)
	if err := tr.SendReliable(peerAddr, nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestSendReliableNoRouteInvokesDestinyUnreachable(t *testing.T) {
	tbl := routing.New(routing.Config{LocalAddress: localAddr, MaxSize: 8})
	clk := clock.NewFixed()
	var unreachable int
	tr := New(Config{
		Local:                 localAddr,
		Table:                 tbl,
		Clock:                 clk,
		MaxPacketSize:         codec.DefaultMaxPacket,
		DefaultTimeoutS:       20,
		Send:                  func(p *codec.Packet, priority uint8) {},
		OnDestinyUnreachable:  func() { unreachable++ },
	})
	unknown := core.Address(99)
	if err := tr.SendReliable(unknown, []byte("hi")); err == nil {
		t.Fatal("expected error for unreachable destination")
	}
	if unreachable != 1 {
		t.Fatalf("destinyUnreachable called %d times, want 1", unreachable)
	}
}

func TestSendReliableFragmentCountMath(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	fragSize := tr.maxUserPayload()

	payload := make([]byte, fragSize*3-10) // not an exact multiple: 3 fragments
	if err := tr.SendReliable(peerAddr, payload); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}

	tr.mu.Lock()
	seq := tr.wsp[0]
	tr.mu.Unlock()
	if seq == nil {
		t.Fatal("expected sequence 0 in wsp")
	}
	if seq.NumPackets != 3 {
		t.Fatalf("num_packets = %d, want 3", seq.NumPackets)
	}
	if len(seq.Fragments) != 4 { // SYNC + 3 fragments
		t.Fatalf("len(Fragments) = %d, want 4", len(seq.Fragments))
	}
	if len(*sent) != 1 || (*sent)[0].Type != codec.SyncXL {
		t.Fatalf("expected only the SYNC packet sent initially, got %+v", *sent)
	}
}

// TestThreeFragmentSend exercises the sender side of spec.md §8 scenario 4:
// SYNC, then ACKs 0, 1 and 2 each release the next of three fragments, and
// the final ACK 3 completes the sequence and removes it from Q_WSP.
func TestThreeFragmentSend(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	fragSize := tr.maxUserPayload()
	payload := make([]byte, fragSize*2+50)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := tr.SendReliable(peerAddr, payload); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 packet sent (SYNC), got %d", len(*sent))
	}

	// ACK 0 (for the SYNC) triggers fragment 1.
	tr.HandleAck(peerAddr, 0, 0)
	if len(*sent) != 2 || (*sent)[1].Control.Number != 1 {
		t.Fatalf("expected fragment 1 sent after ack 0, got %+v", *sent)
	}

	// ACK 1 triggers fragment 2.
	tr.HandleAck(peerAddr, 0, 1)
	if len(*sent) != 3 || (*sent)[2].Control.Number != 2 {
		t.Fatalf("expected fragment 2 sent after ack 1, got %+v", *sent)
	}

	// ACK 2 triggers fragment 3.
	tr.HandleAck(peerAddr, 0, 2)
	if len(*sent) != 4 || (*sent)[3].Control.Number != 3 {
		t.Fatalf("expected fragment 3 sent after ack 2, got %+v", *sent)
	}

	if tr.WSPSize() != 1 {
		t.Fatalf("expected sequence still open before final ack, wsp size = %d", tr.WSPSize())
	}

	// Final ACK (k == NumPackets) completes the sequence.
	tr.HandleAck(peerAddr, 0, 3)
	if tr.WSPSize() != 0 {
		t.Fatalf("expected sequence removed from wsp after final ack, size = %d", tr.WSPSize())
	}
}

// TestLostFragmentRecovery exercises spec.md §8 scenario 5: a LOST for an
// out-of-sequence fragment number triggers a retransmit of exactly that
// fragment.
func TestLostFragmentRecovery(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	fragSize := tr.maxUserPayload()
	payload := make([]byte, fragSize*2+1)

	if err := tr.SendReliable(peerAddr, payload); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}
	tr.HandleAck(peerAddr, 0, 0) // sends fragment 1
	tr.HandleAck(peerAddr, 0, 1) // sends fragment 2

	before := len(*sent)
	tr.HandleLost(peerAddr, 0, 1)
	if len(*sent) != before+1 {
		t.Fatalf("expected exactly one retransmit after LOST, got %d new packets", len(*sent)-before)
	}
	if (*sent)[len(*sent)-1].Control.Number != 1 {
		t.Fatalf("expected fragment 1 retransmitted, got number %d", (*sent)[len(*sent)-1].Control.Number)
	}
}

func TestHandleAckDuplicateIsDiscarded(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	payload := make([]byte, tr.maxUserPayload()+1) // 2 fragments
	if err := tr.SendReliable(peerAddr, payload); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}
	tr.HandleAck(peerAddr, 0, 0) // last_ack = 0, sends fragment 1
	tr.HandleAck(peerAddr, 0, 1) // last_ack = 1, sends fragment 2
	before := len(*sent)

	tr.HandleAck(peerAddr, 0, 0) // duplicate, k < last_ack
	if len(*sent) != before {
		t.Fatalf("duplicate ack triggered a resend: before=%d after=%d", before, len(*sent))
	}
}

// TestNumPacketsOneBoundary exercises the single-fragment boundary: a
// payload that fits in one fragment still performs the full SYNC + one
// data-ack exchange (spec.md §8 boundary behavior).
func TestNumPacketsOneBoundary(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	if err := tr.SendReliable(peerAddr, []byte("short")); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}

	tr.mu.Lock()
	seq := tr.wsp[0]
	tr.mu.Unlock()
	if seq.NumPackets != 1 {
		t.Fatalf("num_packets = %d, want 1", seq.NumPackets)
	}

	tr.HandleAck(peerAddr, 0, 0) // ack for SYNC sends the sole fragment
	if len(*sent) != 2 {
		t.Fatalf("expected SYNC + 1 fragment sent, got %d", len(*sent))
	}

	tr.HandleAck(peerAddr, 0, 1) // final ack completes the sequence
	if tr.WSPSize() != 0 {
		t.Fatal("expected sequence complete after final ack")
	}
}

func TestSeqIDWrapsAround(t *testing.T) {
	tr, _, _, _ := newTestTransport(t)
	tr.nextSeqID = 255
	if err := tr.SendReliable(peerAddr, []byte("a")); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}
	if tr.nextSeqID != 0 {
		t.Fatalf("nextSeqID = %d, want wraparound to 0", tr.nextSeqID)
	}
	tr.mu.Lock()
	_, ok := tr.wsp[255]
	tr.mu.Unlock()
	if !ok {
		t.Fatal("expected sequence stored under seq_id 255")
	}
}

func TestOutboundAbandonedAfterMaxTimeouts(t *testing.T) {
	tr, _, clk, _ := newTestTransport(t)
	if err := tr.SendReliable(peerAddr, []byte("hello")); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}

	for i := 0; i < MaxTimeouts; i++ {
		clk.Advance(time.Hour) // force every sequence to be overdue
		tr.TickTimeouts(clk.NowMs(), 0)
	}

	if tr.WSPSize() != 0 {
		t.Fatalf("expected sequence abandoned after %d timeouts, wsp size = %d", MaxTimeouts, tr.WSPSize())
	}
}

func TestInboundSyncThenFragmentsDeliversReassembledPayload(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	var delivered *packet.AppPacket
	tr.deliver = func(app *packet.AppPacket) { delivered = app }

	tr.HandleSync(peerAddr, peerAddr, 7, 2)
	if len(*sent) != 1 || (*sent)[0].Type != codec.Ack {
		t.Fatalf("expected ACK(0) after SYNC, got %+v", *sent)
	}

	tr.HandleFragment(peerAddr, peerAddr, 7, 1, []byte("hello "))
	tr.HandleFragment(peerAddr, peerAddr, 7, 2, []byte("world"))

	if delivered == nil {
		t.Fatal("expected reassembled payload delivered")
	}
	if string(delivered.Payload) != "hello world" {
		t.Fatalf("payload = %q, want %q", delivered.Payload, "hello world")
	}
	if tr.WRPSize() != 0 {
		t.Fatalf("expected inbound sequence removed after completion, wrp size = %d", tr.WRPSize())
	}
}

func TestInboundOutOfOrderFragmentTriggersLost(t *testing.T) {
	tr, _, _, sent := newTestTransport(t)
	tr.HandleSync(peerAddr, peerAddr, 3, 2)

	tr.HandleFragment(peerAddr, peerAddr, 3, 2, []byte("out-of-order"))
	last := (*sent)[len(*sent)-1]
	if last.Type != codec.Lost || last.Control.Number != 1 {
		t.Fatalf("expected LOST requesting fragment 1, got type=%x number=%d", last.Type, last.Control.Number)
	}
}
