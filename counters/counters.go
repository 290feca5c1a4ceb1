// Package counters holds the engine's monotone wrapping statistics
// (spec.md §6.4), adapted from the teacher's device/router/counters.go
// atomic-counter-struct-plus-Snapshot shape.
package counters

import "sync/atomic"

// Counters tracks every statistic spec.md §6.4 names, all 32-bit wrapping
// monotone counters safe for concurrent access.
type Counters struct {
	ReceivedDataPackets     atomic.Uint32
	SentPackets             atomic.Uint32
	ReceivedHelloPackets    atomic.Uint32
	SentHelloPackets        atomic.Uint32
	ReceivedBroadcastPackets atomic.Uint32
	ForwardedPackets        atomic.Uint32
	DataPacketForMe         atomic.Uint32
	ReceivedIAmVia          atomic.Uint32
	DestinyUnreachable      atomic.Uint32
	ReceivedNotForMe        atomic.Uint32
	ReceivedPayloadBytes    atomic.Uint32
	ReceivedControlBytes    atomic.Uint32
	SentPayloadBytes        atomic.Uint32
	SentControlBytes        atomic.Uint32

	// Trigger-update service counters (spec.md §4.5, §6.4).
	DuplicatesDetected   atomic.Uint32
	TriggeredUpdatesSent atomic.Uint32
	UpdatesSuppressed    atomic.Uint32

	// Error-path counters (spec.md §7).
	SendErrors atomic.Uint32
}

// Snapshot is a plain-value, point-in-time copy of Counters for reading
// (e.g. by the metrics exporter or a diagnostics console).
type Snapshot struct {
	ReceivedDataPackets      uint32
	SentPackets              uint32
	ReceivedHelloPackets     uint32
	SentHelloPackets         uint32
	ReceivedBroadcastPackets uint32
	ForwardedPackets         uint32
	DataPacketForMe          uint32
	ReceivedIAmVia           uint32
	DestinyUnreachable       uint32
	ReceivedNotForMe         uint32
	ReceivedPayloadBytes     uint32
	ReceivedControlBytes     uint32
	SentPayloadBytes         uint32
	SentControlBytes         uint32
	DuplicatesDetected       uint32
	TriggeredUpdatesSent     uint32
	UpdatesSuppressed        uint32
	SendErrors               uint32
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ReceivedDataPackets:      c.ReceivedDataPackets.Load(),
		SentPackets:              c.SentPackets.Load(),
		ReceivedHelloPackets:     c.ReceivedHelloPackets.Load(),
		SentHelloPackets:         c.SentHelloPackets.Load(),
		ReceivedBroadcastPackets: c.ReceivedBroadcastPackets.Load(),
		ForwardedPackets:         c.ForwardedPackets.Load(),
		DataPacketForMe:          c.DataPacketForMe.Load(),
		ReceivedIAmVia:           c.ReceivedIAmVia.Load(),
		DestinyUnreachable:       c.DestinyUnreachable.Load(),
		ReceivedNotForMe:         c.ReceivedNotForMe.Load(),
		ReceivedPayloadBytes:     c.ReceivedPayloadBytes.Load(),
		ReceivedControlBytes:     c.ReceivedControlBytes.Load(),
		SentPayloadBytes:         c.SentPayloadBytes.Load(),
		SentControlBytes:         c.SentControlBytes.Load(),
		DuplicatesDetected:       c.DuplicatesDetected.Load(),
		TriggeredUpdatesSent:     c.TriggeredUpdatesSent.Load(),
		UpdatesSuppressed:        c.UpdatesSuppressed.Load(),
		SendErrors:               c.SendErrors.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.ReceivedDataPackets.Store(0)
	c.SentPackets.Store(0)
	c.ReceivedHelloPackets.Store(0)
	c.SentHelloPackets.Store(0)
	c.ReceivedBroadcastPackets.Store(0)
	c.ForwardedPackets.Store(0)
	c.DataPacketForMe.Store(0)
	c.ReceivedIAmVia.Store(0)
	c.DestinyUnreachable.Store(0)
	c.ReceivedNotForMe.Store(0)
	c.ReceivedPayloadBytes.Store(0)
	c.ReceivedControlBytes.Store(0)
	c.SentPayloadBytes.Store(0)
	c.SentControlBytes.Store(0)
	c.DuplicatesDetected.Store(0)
	c.TriggeredUpdatesSent.Store(0)
	c.UpdatesSuppressed.Store(0)
	c.SendErrors.Store(0)
}
