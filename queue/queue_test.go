package queue

import "testing"

func TestPopReturnsHighestPriorityFirst(t *testing.T) {
	q := New[string](0)
	q.Push("low", 1)
	q.Push("high", 5)
	q.Push("mid", 3)

	v, ok := q.Pop()
	if !ok || v != "high" {
		t.Fatalf("got %q, want high", v)
	}
	v, _ = q.Pop()
	if v != "mid" {
		t.Fatalf("got %q, want mid", v)
	}
	v, _ = q.Pop()
	if v != "low" {
		t.Fatalf("got %q, want low", v)
	}
}

func TestFIFOWithinSamePriority(t *testing.T) {
	q := New[int](0)
	q.Push(1, 5)
	q.Push(2, 5)
	q.Push(3, 5)

	for _, want := range []int{1, 2, 3} {
		got, _ := q.Pop()
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}

func TestPopEmptyReturnsNotOK(t *testing.T) {
	q := New[int](0)
	if _, ok := q.Pop(); ok {
		t.Error("expected ok=false on empty queue")
	}
}

func TestCapacityEvictsLowestPriority(t *testing.T) {
	q := New[string](2)
	q.Push("a", 5)
	q.Push("b", 3)
	evicted, did := q.Push("c", 10)
	if !did || evicted != "b" {
		t.Fatalf("expected eviction of lowest priority item 'b', got %q (did=%v)", evicted, did)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
}

func TestDrainReturnsAllInPriorityOrder(t *testing.T) {
	q := New[int](0)
	q.Push(1, 1)
	q.Push(2, 9)
	q.Push(3, 5)
	got := q.Drain()
	want := []int{2, 3, 1}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("drain[%d] = %d, want %d", i, got[i], w)
		}
	}
	if q.Len() != 0 {
		t.Error("queue should be empty after drain")
	}
}
