package core

import (
	"sync"
	"testing"
	"time"
)

type deploymentRecorder struct {
	mu    sync.Mutex
	calls []ProbeDeployment
}

func (r *deploymentRecorder) handle(dep ProbeDeployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dep)
}

func (r *deploymentRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestProbeManager(handler DeploymentHandler) *ProbeManager {
	return NewProbeManager(DefaultBalance(), handler, NoopSink{})
}

func TestEnqueuePriorityOrder(t *testing.T) {
	pm := newTestProbeManager(nil)
	now := time.Now()

	for _, prio := range []int{1, 5, 3, 2} {
		pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: float64(prio)}, prio, now)
	}

	pm.Tick(now)
	status := pm.Status()
	if status.Launching != 3 {
		t.Fatalf("launching = %d, want 3 (default concurrency)", status.Launching)
	}
	if status.Queued != 1 {
		t.Fatalf("queued = %d, want 1", status.Queued)
	}

	// The lowest-priority probe is the one left waiting.
	for _, snap := range pm.Snapshots() {
		if snap.Status == ProbeQueued && snap.Priority != 1 {
			t.Errorf("queued probe priority = %d, want 1", snap.Priority)
		}
	}
}

func TestConcurrencyCapFreesSlots(t *testing.T) {
	rec := &deploymentRecorder{}
	pm := newTestProbeManager(rec.handle)
	start := time.Now()

	for i := 0; i < 4; i++ {
		pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: float64(i * 300)}, 0, start)
	}
	pm.Tick(start)
	if got := pm.Status().Launching; got != 3 {
		t.Fatalf("launching = %d, want 3", got)
	}

	// Pioneer deployment takes 30s. Completion frees the slots on one
	// tick; the next promotion pass launches the backlog probe.
	later := start.Add(31 * time.Second)
	pm.Tick(later)
	pm.Tick(later.Add(time.Second))
	status := pm.Status()
	if status.Queued != 0 {
		t.Errorf("queued = %d, want 0", status.Queued)
	}
	if status.Launching != 1 {
		t.Errorf("launching = %d, want 1", status.Launching)
	}
	if status.Deployed != 3 {
		t.Errorf("deployed = %d, want 3", status.Deployed)
	}
	if rec.count() != 3 {
		t.Errorf("handler calls = %d, want 3", rec.count())
	}
}

func TestDeploymentFiresExactlyOnce(t *testing.T) {
	rec := &deploymentRecorder{}
	pm := newTestProbeManager(rec.handle)
	start := time.Now()

	snap := pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 200, Y: 0}, 0, start)
	pm.Tick(start)

	done := start.Add(30 * time.Second)
	pm.Tick(done)
	if rec.count() != 1 {
		t.Fatalf("handler calls after completion = %d, want 1", rec.count())
	}

	// Repeated ticks in the grace window must not re-fire.
	pm.Tick(done.Add(time.Second))
	pm.Tick(done.Add(2 * time.Second))
	if rec.count() != 1 {
		t.Errorf("handler calls after extra ticks = %d, want 1", rec.count())
	}

	dep := rec.calls[0]
	if dep.ProbeID != snap.ID {
		t.Errorf("deployment probe = %q, want %q", dep.ProbeID, snap.ID)
	}
	if dep.TargetPosition != (Point2D{X: 200, Y: 0}) {
		t.Errorf("deployment target = %v", dep.TargetPosition)
	}
}

func TestTravelProgress(t *testing.T) {
	pm := newTestProbeManager(nil)
	start := time.Now()
	snap := pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 100}, 0, start)
	pm.Tick(start)

	pm.Tick(start.Add(15 * time.Second))
	var progress float64
	for _, p := range pm.Snapshots() {
		if p.ID == snap.ID {
			progress = p.TravelProgress
		}
	}
	if progress < 0.49 || progress > 0.51 {
		t.Errorf("progress at half time = %v, want ~0.5", progress)
	}
}

func TestAccelerateShortensDeployment(t *testing.T) {
	rec := &deploymentRecorder{}
	pm := newTestProbeManager(rec.handle)
	start := time.Now()

	snap := pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 100}, 0, start)
	if !pm.Accelerate(snap.ID, 2) {
		t.Fatal("expected queued probe to accept acceleration")
	}
	pm.Tick(start)

	// 2x acceleration halves the 30s deployment.
	pm.Tick(start.Add(15 * time.Second))
	if rec.count() != 1 {
		t.Errorf("handler calls at accelerated completion = %d, want 1", rec.count())
	}
}

func TestAccelerateUnknownProbe(t *testing.T) {
	pm := newTestProbeManager(nil)
	if pm.Accelerate("missing", 2) {
		t.Error("expected acceleration of an unknown probe to fail")
	}
}

func TestGracePeriodCleanup(t *testing.T) {
	pm := newTestProbeManager(nil)
	start := time.Now()
	pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 100}, 0, start)
	pm.Tick(start)

	done := start.Add(30 * time.Second)
	pm.Tick(done)
	if got := pm.Status().Deployed; got != 1 {
		t.Fatalf("deployed = %d, want 1 inside grace window", got)
	}

	pm.Tick(done.Add(11 * time.Second))
	if got := pm.Status().Deployed; got != 0 {
		t.Errorf("deployed = %d, want 0 after grace window", got)
	}
}

func TestSetConcurrencyClamped(t *testing.T) {
	pm := newTestProbeManager(nil)
	if got := pm.SetConcurrency(50); got != 10 {
		t.Errorf("SetConcurrency(50) = %d, want max 10", got)
	}
	if got := pm.SetConcurrency(0); got != 1 {
		t.Errorf("SetConcurrency(0) = %d, want min 1", got)
	}
	if got := pm.SetConcurrency(5); got != 5 {
		t.Errorf("SetConcurrency(5) = %d, want 5", got)
	}
}

func TestClearQueue(t *testing.T) {
	pm := newTestProbeManager(nil)
	now := time.Now()
	pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 100}, 0, now)
	pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 400}, 0, now)

	if dropped := pm.ClearQueue(); dropped != 2 {
		t.Errorf("ClearQueue = %d, want 2", dropped)
	}
	if got := pm.Status().Queued; got != 0 {
		t.Errorf("queued after clear = %d, want 0", got)
	}
}

func TestProbeEvents(t *testing.T) {
	sink := NewChannelSink(64)
	pm := NewProbeManager(DefaultBalance(), nil, sink)
	start := time.Now()

	pm.Enqueue(KindPioneer, Point2D{}, Point2D{X: 100}, 0, start)
	pm.Tick(start)
	pm.Tick(start.Add(30 * time.Second))

	kinds := drainEventKinds(sink)
	for _, want := range []EventKind{EventProbeQueued, EventProbeLaunched, EventProbeDeployed} {
		if kinds[want] == 0 {
			t.Errorf("missing %s event", want)
		}
	}
	if kinds[EventProbeDeployed] != 1 {
		t.Errorf("probe_deployed events = %d, want 1", kinds[EventProbeDeployed])
	}
}

func drainEventKinds(sink *ChannelSink) map[EventKind]int {
	kinds := make(map[EventKind]int)
	for {
		select {
		case ev := <-sink.C:
			kinds[ev.Kind]++
		default:
			return kinds
		}
	}
}
