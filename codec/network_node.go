package codec

import (
	"encoding/binary"

	"github.com/aethermesh/aethermesh/core"
)

// NetworkNode is one entry in a hello packet's routing advertisement, and
// the in-memory shape shared with routing.RouteNode (spec.md §3.1).
// Each record is 6 bytes on the wire.
type NetworkNode struct {
	Address     core.Address
	ReverseETX  uint8
	ForwardETX  uint8
	Role        core.Role
	HopCount    uint8
}

// EncodeNetworkNodes serializes a slice of NetworkNode into a hello payload.
func EncodeNetworkNodes(nodes []NetworkNode) []byte {
	buf := make([]byte, len(nodes)*NetworkNodeSize)
	for i, n := range nodes {
		o := i * NetworkNodeSize
		binary.LittleEndian.PutUint16(buf[o:], uint16(n.Address))
		buf[o+2] = n.ReverseETX
		buf[o+3] = n.ForwardETX
		buf[o+4] = uint8(n.Role)
		buf[o+5] = n.HopCount
	}
	return buf
}

// DecodeNetworkNodes parses a hello payload into its NetworkNode records.
// Trailing bytes that don't form a complete record are ignored.
func DecodeNetworkNodes(payload []byte) []NetworkNode {
	count := len(payload) / NetworkNodeSize
	nodes := make([]NetworkNode, count)
	for i := 0; i < count; i++ {
		o := i * NetworkNodeSize
		nodes[i] = NetworkNode{
			Address:    core.Address(binary.LittleEndian.Uint16(payload[o:])),
			ReverseETX: payload[o+2],
			ForwardETX: payload[o+3],
			Role:       core.Role(payload[o+4]),
			HopCount:   payload[o+5],
		}
	}
	return nodes
}
