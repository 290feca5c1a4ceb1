package counters

import "testing"

func TestSnapshotReflectsIncrements(t *testing.T) {
	var c Counters
	c.SentPackets.Add(3)
	c.ReceivedDataPackets.Add(1)
	s := c.Snapshot()
	if s.SentPackets != 3 || s.ReceivedDataPackets != 1 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestResetZeroesAll(t *testing.T) {
	var c Counters
	c.SentPackets.Add(5)
	c.DuplicatesDetected.Add(2)
	c.Reset()
	s := c.Snapshot()
	if s.SentPackets != 0 || s.DuplicatesDetected != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", s)
	}
}

func TestWrapsAt32Bits(t *testing.T) {
	var c Counters
	c.SentPackets.Store(^uint32(0))
	c.SentPackets.Add(1)
	if c.SentPackets.Load() != 0 {
		t.Error("expected 32-bit counter to wrap to 0")
	}
}
