package vkforge

import "testing"

func TestZombieQueueCollectsOnlyPassedEntries(t *testing.T) {
	q := newZombieQueue[int]()
	q.push(1, 10)
	q.push(2, 20)
	q.push(5, 50)

	var destroyed []int
	n := q.collect(2, func(v int) { destroyed = append(destroyed, v) })
	if n != 2 {
		t.Fatalf("expected 2 entries collected, got %d", n)
	}
	if len(destroyed) != 2 || destroyed[0] != 10 || destroyed[1] != 20 {
		t.Fatalf("expected [10 20] destroyed in order, got %v", destroyed)
	}
	if q.pending() != 1 {
		t.Fatalf("expected 1 entry still pending, got %d", q.pending())
	}
}

func TestZombieQueueCollectNoneWhenGpuBehind(t *testing.T) {
	q := newZombieQueue[int]()
	q.push(10, 1)
	n := q.collect(5, func(int) { t.Fatal("destroy should not be called") })
	if n != 0 {
		t.Fatalf("expected 0 collected, got %d", n)
	}
	if q.pending() != 1 {
		t.Fatalf("expected entry to remain pending, got %d", q.pending())
	}
}

func TestZombieQueueDrainAllIgnoresTimeline(t *testing.T) {
	q := newZombieQueue[int]()
	q.push(100, 1)
	q.push(200, 2)
	var destroyed []int
	q.drainAll(func(v int) { destroyed = append(destroyed, v) })
	if len(destroyed) != 2 {
		t.Fatalf("expected both entries drained regardless of timeline, got %d", len(destroyed))
	}
	if q.pending() != 0 {
		t.Fatal("expected queue empty after drainAll")
	}
}
