package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestAcceleratedRunTickCount(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	var seen []time.Time
	tc.AddListener(func(now time.Time) {
		seen = append(seen, now)
	})

	ticks := tc.Run(context.Background(), 10*time.Second)
	if ticks != 10 {
		t.Fatalf("ticks = %d, want 10", ticks)
	}
	if len(seen) != 10 {
		t.Fatalf("listener calls = %d, want 10", len(seen))
	}
	if seen[0] != start.Add(time.Second) {
		t.Errorf("first tick time = %v, want %v", seen[0], start.Add(time.Second))
	}
	if seen[9] != start.Add(10*time.Second) {
		t.Errorf("last tick time = %v, want %v", seen[9], start.Add(10*time.Second))
	}
	if tc.Now() != start.Add(10*time.Second) {
		t.Errorf("Now() = %v, want %v", tc.Now(), start.Add(10*time.Second))
	}
}

func TestListenersRunInOrder(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Second, Accelerated)

	var order []int
	tc.AddListener(func(time.Time) { order = append(order, 1) })
	tc.AddListener(func(time.Time) { order = append(order, 2) })

	tc.Run(context.Background(), time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("listener order = %v, want [1 2]", order)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())

	done := tc.Start(ctx, 0)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller did not stop after cancellation")
	}
}

func TestZeroTickDefaults(t *testing.T) {
	tc := NewTimeController(time.Now(), 0, Accelerated)
	if tc.Tick != time.Second {
		t.Errorf("tick = %v, want 1s default", tc.Tick)
	}
}
