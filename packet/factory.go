// Package packet builds and classifies mesh packets on top of the codec wire
// format: the hello/routing-packet constructor, per-construction payload
// truncation with a logged warning, and the presentation-layer AppPacket
// handed to the application once a payload is fully received.
//
// Grounded on the teacher's core/codec/builder.go payload-builder shape,
// generalized from its per-message-type builders to the single generic
// construction path spec.md §4.1 requires.
package packet

import (
	"log/slog"

	"github.com/aethermesh/aethermesh/codec"
	"github.com/aethermesh/aethermesh/core"
)

// New constructs a packet of the given type, truncating payload to the
// largest size that fits within maxPacketSize and logging a warning if
// truncation occurred (spec.md §4.1: "exceeding silently truncates with a
// warning" — silently to the caller's return value, but observable in logs).
func New(logger *slog.Logger, maxPacketSize int, dst, src core.Address, typ uint8, id uint8, payload []byte) *codec.Packet {
	limit := codec.MaxUserPayload(maxPacketSize, typ)
	if len(payload) > limit {
		if logger != nil {
			logger.Warn("packet payload truncated",
				"type", typ, "requested", len(payload), "limit", limit)
		}
		payload = payload[:limit]
	}

	return &codec.Packet{
		Dst:     dst,
		Src:     src,
		Type:    typ,
		ID:      id,
		Payload: payload,
	}
}

// NewData constructs a DATA-family packet (any type for which is_data is
// true), additionally filling in the via sub-header.
func NewData(logger *slog.Logger, maxPacketSize int, dst, src, via core.Address, typ uint8, id uint8, payload []byte) *codec.Packet {
	p := New(logger, maxPacketSize, dst, src, typ, id, payload)
	p.Data = codec.DataSub{Via: via}
	return p
}

// NewControl constructs a control-bearing DATA packet (NEED_ACK, XL_DATA,
// ACK, LOST, SYNC), filling in both the via and control sub-headers.
func NewControl(logger *slog.Logger, maxPacketSize int, dst, src, via core.Address, typ uint8, id uint8, seqID uint8, number uint16, payload []byte) *codec.Packet {
	p := NewData(logger, maxPacketSize, dst, src, via, typ, id, payload)
	p.Control = codec.ControlSub{SeqID: seqID, Number: number}
	return p
}

// NewHello builds a broadcast hello packet whose payload is the serialized
// NetworkNode advertisement for the active routing table (spec.md §4.1,
// "Routing-packet constructor"). Setting the local node's role in each
// record is the caller's responsibility, mirrored in every entry's Role
// field by whatever the caller passed into nodes.
func NewHello(logger *slog.Logger, maxPacketSize int, src core.Address, id uint8, nodes []codec.NetworkNode) *codec.Packet {
	payload := codec.EncodeNetworkNodes(nodes)
	return New(logger, maxPacketSize, core.Broadcast, src, codec.Hello, id, payload)
}

// AppPacket is the presentation-layer struct handed to the application once
// a payload (single-packet DATA, or a fully reassembled XL sequence) is
// ready for delivery. It owns its buffer; the application is responsible
// for discarding it once consumed (spec.md §4.1, §3.2).
type AppPacket struct {
	Dst     core.Address
	Src     core.Address
	Payload []byte
}

// PayloadSize returns the length of the application payload.
func (a *AppPacket) PayloadSize() int {
	return len(a.Payload)
}

// FromSinglePacket builds an AppPacket from a plain DATA packet addressed to
// the local node.
func FromSinglePacket(p *codec.Packet) *AppPacket {
	return &AppPacket{
		Dst:     p.Dst,
		Src:     p.Src,
		Payload: p.Payload,
	}
}

// FromReassembled builds an AppPacket from the concatenated fragment
// payloads of a completed reliable sequence (spec.md §4.3.2, "Reassembly").
func FromReassembled(dst, src core.Address, fragments [][]byte) *AppPacket {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	buf := make([]byte, 0, total)
	for _, f := range fragments {
		buf = append(buf, f...)
	}
	return &AppPacket{Dst: dst, Src: src, Payload: buf}
}
