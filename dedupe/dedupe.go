// Package dedupe suppresses replayed hello packets using a fixed-capacity
// circular cache of PacketIdentifier entries keyed by (source, packet_id)
// with a time-to-live (spec.md §3.1, §4.5).
//
// Adapted from the teacher's core/dedupe/dedupe.go circular-buffer
// deduplicator, generalized from content-hash keys to the (source, id)
// pair spec.md's duplicate cache uses.
package dedupe

import (
	"time"

	"github.com/aethermesh/aethermesh/core"
)

const (
	// Capacity is the maximum number of tracked PacketIdentifier entries
	// (spec.md §4.5: "the cache never holds more than 50 entries").
	Capacity = 50

	// TTL is the duration after which an entry is no longer considered a
	// match (spec.md §4.5: "lookups ignore entries older than 300 s").
	TTL = 300 * time.Second
)

// identifier is one entry of the circular duplicate cache (spec.md §3.1,
// PacketIdentifier).
type identifier struct {
	source   core.Address
	packetID uint8
	seenAt   int64 // ms, from the monotonic clock
	valid    bool
}

// Cache is a fixed-capacity circular cache of recently-seen (source, id)
// pairs.
type Cache struct {
	entries [Capacity]identifier
	next    int
}

// New creates an empty duplicate cache.
func New() *Cache {
	return &Cache{}
}

// Seen reports whether (source, packetID) has an unexpired entry as of
// nowMs. If not (or expired), it records a fresh entry and returns false.
func (c *Cache) Seen(source core.Address, packetID uint8, nowMs int64) bool {
	ttlMs := int64(TTL / time.Millisecond)
	for i := range c.entries {
		e := &c.entries[i]
		if !e.valid {
			continue
		}
		if e.source == source && e.packetID == packetID && nowMs-e.seenAt < ttlMs {
			return true
		}
	}

	c.entries[c.next] = identifier{source: source, packetID: packetID, seenAt: nowMs, valid: true}
	c.next = (c.next + 1) % Capacity
	return false
}

// Reset clears the cache.
func (c *Cache) Reset() {
	for i := range c.entries {
		c.entries[i] = identifier{}
	}
	c.next = 0
}
