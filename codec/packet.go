// Package codec implements the wire format shared by every packet on the
// mesh: the 7-byte base header, the optional 2-byte data sub-header, and the
// optional 3-byte control sub-header, all byte-packed little-endian.
//
// This corresponds to the routing-packet and data-packet wire layouts in
// spec.md §3.1 and §6.1, and is grounded on the teacher's
// core/codec/packet.go header-bitfield/ReadFrom/WriteTo shape.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aethermesh/aethermesh/core"
)

// Type bit field. Bits encode orthogonal roles that combine into the
// canonical packet kinds (spec.md §4.1, §6.1). Exported so callers that
// need a combination beyond the canonical kinds (e.g. a SYNC fragment that
// also requests an ACK and carries the XL bit) can compose their own type
// octet.
const (
	BitNeedAck uint8 = 0x01
	BitData    uint8 = 0x02
	BitHello   uint8 = 0x04
	BitAck     uint8 = 0x08
	BitXL      uint8 = 0x10
	BitLost    uint8 = 0x20
	BitSync    uint8 = 0x40

	bitNeedAck = BitNeedAck
	bitData    = BitData
	bitHello   = BitHello
	bitAck     = BitAck
	bitXL      = BitXL
	bitLost    = BitLost
	bitSync    = BitSync
)

// Canonical packet-kind constants (spec.md §6.1).
const (
	Hello   uint8 = bitHello
	Data    uint8 = bitData
	NeedAck uint8 = bitData | bitNeedAck
	Ack     uint8 = bitData | bitAck
	XLData  uint8 = bitData | bitXL
	Lost    uint8 = bitData | bitLost
	Sync    uint8 = bitData | bitSync

	// SyncXL is the start-of-sequence packet for a reliable large-payload
	// transfer: SYNC + NEED_ACK + XL_DATA bits combined (spec.md §4.3,
	// fragment 0's type).
	SyncXL uint8 = bitData | bitSync | bitNeedAck | bitXL

	// FragmentXL is a data fragment within a reliable large-payload
	// transfer: NEED_ACK + XL_DATA bits combined (spec.md §4.3, fragments
	// 1..N).
	FragmentXL uint8 = bitData | bitNeedAck | bitXL
)

// Size constants (spec.md §3.1, §6.1).
const (
	BaseHeaderSize    = 7 // dst u16 | src u16 | type u8 | id u8 | payload_size u8
	DataSubSize       = 2 // via u16
	ControlSubSize    = 3 // seq_id u8 | number u16
	DefaultMaxPacket  = 100
	MinMaxPacket      = 13
	MaxMaxPacket      = 255
	NetworkNodeSize   = 6
)

var (
	ErrTooShort        = errors.New("codec: packet shorter than header")
	ErrPayloadTooLarge = errors.New("codec: payload exceeds configured max_packet_size")
	ErrMaxPacketRange  = fmt.Errorf("codec: max_packet_size must be in [%d, %d]", MinMaxPacket, MaxMaxPacket)
)

// IsData reports whether type carries a data sub-header (via field).
func IsData(t uint8) bool { return t&bitData != 0 }

// IsOnlyData reports whether type is plain DATA with no control bits set.
func IsOnlyData(t uint8) bool { return t == bitData }

// IsHello reports whether type is the HELLO kind.
func IsHello(t uint8) bool { return t&bitHello != 0 }

// IsNeedAck reports whether the ACK-requested bit is set.
func IsNeedAck(t uint8) bool { return t&bitNeedAck != 0 }

// IsAck reports whether type is an ACK response.
func IsAck(t uint8) bool { return t&bitAck != 0 }

// IsXL reports whether type is part of a multi-packet (XL) payload.
func IsXL(t uint8) bool { return t&bitXL != 0 }

// IsLost reports whether type is a LOST (negative-ack) packet.
func IsLost(t uint8) bool { return t&bitLost != 0 }

// IsSync reports whether type is the SYNC start-of-sequence packet.
func IsSync(t uint8) bool { return t&bitSync != 0 }

// IsControl reports whether type carries a control sub-header (seq_id,
// number): any data kind other than plain DATA.
func IsControl(t uint8) bool { return IsData(t) && !IsOnlyData(t) }

// IsDataControl is an alias for IsControl, named to match spec.md's
// is_data_control predicate.
func IsDataControl(t uint8) bool { return IsControl(t) }

// ExtraBeforePayload returns the number of header bytes (beyond the base
// header) that precede the user payload for the given type.
func ExtraBeforePayload(t uint8) int {
	n := 0
	if IsData(t) {
		n += DataSubSize
	}
	if IsControl(t) {
		n += ControlSubSize
	}
	return n
}

// HeaderSize returns the total header size (base + extras) for the type.
func HeaderSize(t uint8) int {
	return BaseHeaderSize + ExtraBeforePayload(t)
}

// MaxUserPayload returns the largest payload that fits this type within
// maxPacketSize.
func MaxUserPayload(maxPacketSize int, t uint8) int {
	n := maxPacketSize - HeaderSize(t)
	if n < 0 {
		return 0
	}
	return n
}

// DataSub is the "via" next-hop sub-header present on every data-kind packet.
type DataSub struct {
	Via core.Address
}

// ControlSub is the sequence sub-header present on reliable/large-payload
// fragments (NEED_ACK, XL_DATA, ACK, LOST, SYNC).
type ControlSub struct {
	SeqID  uint8
	Number uint16 // 1-based fragment index, or total fragment count in a SYNC
}

// Packet is the generic wire packet: base header plus optional sub-headers
// plus an opaque payload view.
type Packet struct {
	Dst     core.Address
	Src     core.Address
	Type    uint8
	ID      uint8
	Data    DataSub    // valid iff IsData(Type)
	Control ControlSub // valid iff IsControl(Type)
	Payload []byte

	// Link metadata attached by the receive path; not part of the wire format.
	RSSI float32
	SNR  float32
}

// TotalSize returns the on-air size of the packet (header + payload).
func (p *Packet) TotalSize() int {
	return HeaderSize(p.Type) + len(p.Payload)
}

// Clone returns a deep copy of the packet, used whenever a packet crosses
// from one owning queue to another (e.g. retransmission).
func (p *Packet) Clone() *Packet {
	clone := *p
	if len(p.Payload) > 0 {
		clone.Payload = make([]byte, len(p.Payload))
		copy(clone.Payload, p.Payload)
	}
	return &clone
}

// Encode serializes the packet to its wire representation. maxPacketSize
// bounds the total size; exceeding it is a caller bug (construction-time
// truncation already enforces the limit) and returns ErrPayloadTooLarge.
func (p *Packet) Encode(maxPacketSize int) ([]byte, error) {
	total := p.TotalSize()
	if total > maxPacketSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, total)
	i := 0
	binary.LittleEndian.PutUint16(buf[i:], uint16(p.Dst))
	i += 2
	binary.LittleEndian.PutUint16(buf[i:], uint16(p.Src))
	i += 2
	buf[i] = p.Type
	i++
	buf[i] = p.ID
	i++
	buf[i] = uint8(len(p.Payload))
	i++

	if IsData(p.Type) {
		binary.LittleEndian.PutUint16(buf[i:], uint16(p.Data.Via))
		i += 2
	}
	if IsControl(p.Type) {
		buf[i] = p.Control.SeqID
		i++
		binary.LittleEndian.PutUint16(buf[i:], p.Control.Number)
		i += 2
	}

	copy(buf[i:], p.Payload)
	return buf, nil
}

// Decode parses a wire frame into p. The frame must not include the
// optional CRC trailer (the radio driver is responsible for that, per the
// open question in spec.md §9 on CRC build-flag behavior; this module treats
// the CRC as covering the whole frame and stripped before Decode is called).
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < BaseHeaderSize {
		return nil, ErrTooShort
	}

	p := &Packet{}
	i := 0
	p.Dst = core.Address(binary.LittleEndian.Uint16(frame[i:]))
	i += 2
	p.Src = core.Address(binary.LittleEndian.Uint16(frame[i:]))
	i += 2
	p.Type = frame[i]
	i++
	p.ID = frame[i]
	i++
	payloadSize := int(frame[i])
	i++

	if IsData(p.Type) {
		if len(frame) < i+DataSubSize {
			return nil, ErrTooShort
		}
		p.Data.Via = core.Address(binary.LittleEndian.Uint16(frame[i:]))
		i += DataSubSize
	}
	if IsControl(p.Type) {
		if len(frame) < i+ControlSubSize {
			return nil, ErrTooShort
		}
		p.Control.SeqID = frame[i]
		p.Control.Number = binary.LittleEndian.Uint16(frame[i+1:])
		i += ControlSubSize
	}

	if len(frame) < i+payloadSize {
		return nil, ErrTooShort
	}
	p.Payload = make([]byte, payloadSize)
	copy(p.Payload, frame[i:i+payloadSize])
	return p, nil
}

// ValidateMaxPacketSize checks a configured max_packet_size against the
// allowed [13, 255] range (spec.md §6.2).
func ValidateMaxPacketSize(n int) error {
	if n < MinMaxPacket || n > MaxMaxPacket {
		return ErrMaxPacketRange
	}
	return nil
}
