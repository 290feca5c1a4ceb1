package reliable

import (
	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
)

// OutboundState is the per-sequence state machine position in Q_WSP
// (spec.md §4.3.1).
type OutboundState int

const (
	AwaitSyncAck OutboundState = iota
	SendingFragments
	Done
	Failed
)

// OutboundSequence is one active send in Q_WSP (spec.md §3.1).
type OutboundSequence struct {
	SeqID      uint8
	Source     core.Address // always local
	Dest       core.Address
	Route      core.Address // next hop, resolved once at send_reliable time

	NumPackets uint16
	LastAck    uint16 // 0 = only SYNC ack received so far
	FirstAckReceived bool

	State OutboundState

	TimeoutMs         uint64
	PreviousTimeoutMs uint32
	NTimeouts         uint8
	RTTStartMs        uint64

	// Fragments[i] is the 1-based fragment i's packet (fragment 0 = SYNC).
	Fragments []*codec.Packet
}

// InboundSequence is one active reassembly in Q_WRP (spec.md §3.1), keyed
// by (source, seq_id).
type InboundSequence struct {
	SeqID      uint8
	Source     core.Address
	NumPackets uint16
	LastAck    uint16

	TimeoutMs         uint64
	PreviousTimeoutMs uint32
	NTimeouts         uint8
	RTTStartMs        uint64

	// Fragments[i] holds fragment i's payload (1-based), populated as
	// fragments arrive in order.
	Fragments [][]byte
}

// Reassemble concatenates the received fragment payloads in order
// (spec.md §4.3.2, "Reassembly").
func (s *InboundSequence) Reassemble() []byte {
	total := 0
	for _, f := range s.Fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range s.Fragments {
		out = append(out, f...)
	}
	return out
}
