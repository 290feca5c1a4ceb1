package dedupe

import "testing"

func TestSeenFirstTimeIsFalse(t *testing.T) {
	c := New()
	if c.Seen(1, 5, 1000) {
		t.Error("first sighting should not be reported as seen")
	}
}

func TestSeenDuplicateWithinTTL(t *testing.T) {
	c := New()
	c.Seen(1, 5, 1000)
	if !c.Seen(1, 5, 2000) {
		t.Error("duplicate within TTL should be reported as seen")
	}
}

func TestSeenExpiresAfterTTL(t *testing.T) {
	c := New()
	c.Seen(1, 5, 0)
	ttlMs := int64(TTL.Milliseconds())
	if c.Seen(1, 5, ttlMs+1) {
		t.Error("entry older than TTL should not be reported as seen")
	}
}

func TestSeenDistinguishesSourceAndID(t *testing.T) {
	c := New()
	c.Seen(1, 5, 1000)
	if c.Seen(2, 5, 1000) {
		t.Error("different source should not collide")
	}
	if c.Seen(1, 6, 1000) {
		t.Error("different packet id should not collide")
	}
}

func TestCacheWrapsAtCapacity(t *testing.T) {
	c := New()
	for i := 0; i < Capacity; i++ {
		c.Seen(1, uint8(i), 0)
	}
	// Inserting one more entry evicts the oldest (source=1, id=0).
	c.Seen(1, uint8(Capacity), 0)
	if c.Seen(1, 0, 0) {
		t.Error("oldest entry should have been evicted by capacity wraparound")
	}
}

func TestReset(t *testing.T) {
	c := New()
	c.Seen(1, 5, 1000)
	c.Reset()
	if c.Seen(1, 5, 2000) {
		t.Error("reset cache should forget prior entries")
	}
}
