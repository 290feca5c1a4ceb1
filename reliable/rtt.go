// Package reliable implements the sequenced, ACKed, retransmitted
// multi-packet delivery transport (spec.md §4.3): Q_WSP/Q_WRP state
// machines, RFC 6298-style RTT/timeout estimation, and fragmentation.
//
// Grounded on the teacher's core/ack/tracker.go pending-entry/timeout/retry
// shape, generalized from a single-shot ACK wait to a multi-fragment
// sequence with its own retransmission and reassembly state.
package reliable

// Timeout constants (spec.md §4.3.3, §4.3.4).
const (
	DefaultPriority = 20
	MaxPriority     = 40

	MaxTimeouts = 10 // MAX_TIMEOUTS

	// Control-packet priority deltas over DefaultPriority.
	AckPriorityDelta   = 3
	LostPriorityDelta  = 2
	HelloPriorityDelta = 1
)

// ComputeTimeoutMs computes the adaptive per-sequence timeout for a
// sequence targeting a route with the given hop count and RTT state
// (spec.md §4.3.4, RFC 6298-like).
//
// defaultTimeoutS is the configured default_timeout_s (spec.md §6.2);
// MAX_TIMEOUT is defaultTimeoutS seconds times the hop count.
func ComputeTimeoutMs(hops uint8, srttMs, rttVarMs uint32, defaultTimeoutS uint32) uint64 {
	maxTimeoutMs := uint64(defaultTimeoutS) * 1000 * uint64(hops)
	const minTimeoutMs = 20_000 // MIN_TIMEOUT = 20s

	if srttMs == 0 {
		t := uint64(10_000*4) + uint64(hops)*1000
		return clampU64(t, minTimeoutMs, maxTimeoutMs)
	}

	t := uint64(srttMs) + 4*uint64(rttVarMs)
	return clampU64(t, minTimeoutMs, maxTimeoutMs)
}

// RecomputeTimeoutOnRetry computes the next timeout after a retry event,
// respecting the doubling-with-queue-pressure lower bound of §4.3.4.
func RecomputeTimeoutOnRetry(prevTimeoutMs uint64, sendQueueLen int, hops uint8, defaultTimeoutS uint32) uint64 {
	maxTimeoutMs := uint64(defaultTimeoutS) * 1000 * uint64(hops)
	lowerBound := prevTimeoutMs*2 + uint64(sendQueueLen)*3000
	if lowerBound > maxTimeoutMs {
		return maxTimeoutMs
	}
	return lowerBound
}

func clampU64(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
