// Package core holds identity and addressing primitives shared across the
// routing, packet, and reliable-transport packages.
package core

import "fmt"

// Address is a node's 16-bit mesh address. The broadcast address is
// Broadcast (0xFFFF).
type Address uint16

// Broadcast is the all-nodes destination address.
const Broadcast Address = 0xFFFF

// IsBroadcast reports whether a is the broadcast address.
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// String renders the address as a 4-digit hex value, e.g. "0x0A3F".
func (a Address) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

// Role is a bit mask describing a node's function in the mesh.
// GATEWAY (0x01) is the only reserved bit; the remaining bits are
// application-defined.
type Role uint8

// GATEWAY marks a node that bridges the mesh to an external network.
const GATEWAY Role = 0x01

// Has reports whether all bits of mask are set in r.
func (r Role) Has(mask Role) bool {
	return r&mask == mask
}

// AddressFromUniqueID derives a node's local address from the low 16 bits
// of a hardware unique identifier, per the application API contract
// (local_address() = low 16 bits of the hardware unique id).
func AddressFromUniqueID(uid uint64) Address {
	return Address(uint16(uid))
}
