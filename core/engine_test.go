package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emberforge/beaconfield-sim/internal/logging"
)

type fakeMetrics struct {
	mu sync.Mutex

	beacons     int
	connections int
	patterns    int
	probes      int

	tickObservations   int
	placements         int
	fallbackPlacements int
	probeDeployments   int
}

func (m *fakeMetrics) SetWorldCounts(beacons, connections, patterns, probes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beacons, m.connections, m.patterns, m.probes = beacons, connections, patterns, probes
}

func (m *fakeMetrics) ObserveTickDuration(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickObservations++
}

func (m *fakeMetrics) IncPlacements(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placements++
	if fallback {
		m.fallbackPlacements++
	}
}

func (m *fakeMetrics) IncProbeDeployments() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeDeployments++
}

func TestNewEngineStartsEmpty(t *testing.T) {
	e := NewEngine(nil)
	if e.Validator.Count() != 0 {
		t.Errorf("beacon count = %d, want 0", e.Validator.Count())
	}
	for rt, bal := range e.Ledger.Balances() {
		if !bal.IsZero() {
			t.Errorf("initial %s balance = %s, want 0", rt, bal)
		}
	}
	if got := e.Probes.Status(); got.Queued+got.Launching+got.Deployed != 0 {
		t.Errorf("initial probe status = %+v", got)
	}
}

func TestEngineTickCreditsAndGauges(t *testing.T) {
	metrics := &fakeMetrics{}
	e := NewEngine(nil, WithMetricsRecorder(metrics))
	start := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("125"), start)

	if res := e.PlaceBeacon(Point2D{X: 0, Y: 0}, KindPioneer, SpecNone, start); !res.Success {
		t.Fatalf("placement: %s", res.Error)
	}
	if res := e.PlaceBeacon(Point2D{X: 100, Y: 0}, KindPioneer, SpecNone, start); !res.Success {
		t.Fatalf("placement: %s", res.Error)
	}

	// The first tick only anchors the interval.
	first := e.Tick(start)
	for rt, amount := range first.Credited {
		if !amount.IsZero() {
			t.Errorf("anchor tick credited %s %s", amount, rt)
		}
	}

	second := e.Tick(start.Add(10 * time.Second))
	// Two connected pioneers with the per-link bonus: 2 * 1.0 * 1.1 over
	// ten seconds.
	approxEqual(t, second.Credited[ResourceQuantumData], "22", "tick credit")

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.beacons != 2 || metrics.connections != 1 {
		t.Errorf("gauges = %d beacons / %d connections, want 2/1", metrics.beacons, metrics.connections)
	}
	if metrics.patterns != 0 || metrics.probes != 0 {
		t.Errorf("gauges = %d patterns / %d probes, want 0/0", metrics.patterns, metrics.probes)
	}
	if metrics.tickObservations != 2 {
		t.Errorf("tick observations = %d, want 2", metrics.tickObservations)
	}
	if metrics.placements != 2 || metrics.fallbackPlacements != 0 {
		t.Errorf("placements = %d (%d fallback), want 2 (0)", metrics.placements, metrics.fallbackPlacements)
	}
}

func TestEngineTickPublishesSummary(t *testing.T) {
	sink := NewChannelSink(64)
	e := NewEngine(nil, WithEventSink(sink))
	start := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("50"), start)
	if res := e.PlaceBeacon(Point2D{X: 0, Y: 0}, KindPioneer, SpecNone, start); !res.Success {
		t.Fatalf("placement: %s", res.Error)
	}

	e.Tick(start)
	e.Tick(start.Add(time.Second))

	kinds := drainEventKinds(sink)
	if kinds[EventGenerationTick] != 2 {
		t.Errorf("generation_tick events = %d, want 2", kinds[EventGenerationTick])
	}
	if kinds[EventBeaconPlaced] != 1 {
		t.Errorf("beacon_placed events = %d, want 1", kinds[EventBeaconPlaced])
	}
}

func TestEngineProbeDeploysBeacon(t *testing.T) {
	metrics := &fakeMetrics{}
	e := NewEngine(nil, WithMetricsRecorder(metrics))
	start := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("50"), start)

	e.QueueProbe(KindPioneer, Point2D{}, Point2D{X: 0, Y: 220}, 0, start)
	e.Tick(start)
	if e.Validator.Count() != 0 {
		t.Fatal("beacon appeared before the probe deployed")
	}

	// Pioneer deployment takes 30 seconds.
	e.Tick(start.Add(31 * time.Second))
	if e.Validator.Count() != 1 {
		t.Fatalf("beacon count after deployment = %d, want 1", e.Validator.Count())
	}
	snap := e.Validator.Snapshots()[0]
	if snap.Position != (Point2D{X: 0, Y: 220}) {
		t.Errorf("deployed position = %v, want the probe target", snap.Position)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.probeDeployments != 1 {
		t.Errorf("probe deployments = %d, want 1", metrics.probeDeployments)
	}
	if metrics.placements != 1 || metrics.fallbackPlacements != 0 {
		t.Errorf("placements = %d (%d fallback), want 1 (0)", metrics.placements, metrics.fallbackPlacements)
	}
}

func TestEngineProbeDeploymentUsesSimulationClock(t *testing.T) {
	e := NewEngine(nil)
	// A simulation clock far ahead of the wall clock, as under
	// accelerated time control.
	start := time.Now().Add(48 * time.Hour)
	e.Ledger.SetBalance(ResourceQuantumData, dec("50"), start)

	e.QueueProbe(KindPioneer, Point2D{}, Point2D{X: 0, Y: 220}, 0, start)
	e.Tick(start)
	deployAt := start.Add(31 * time.Second)
	e.Tick(deployAt)

	if e.Validator.Count() != 1 {
		t.Fatalf("beacon count = %d, want 1", e.Validator.Count())
	}
	snap := e.Validator.Snapshots()[0]
	if !snap.CreatedAt.Equal(deployAt) {
		t.Errorf("deployed beacon CreatedAt = %v, want the tick time %v", snap.CreatedAt, deployAt)
	}
}

func TestEngineProbeDeploymentFallsBack(t *testing.T) {
	metrics := &fakeMetrics{}
	e := NewEngine(nil, WithMetricsRecorder(metrics))
	start := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("200"), start)

	// Occupy the probe's target so deployment has to spiral.
	if res := e.PlaceBeacon(Point2D{X: 0, Y: 220}, KindPioneer, SpecNone, start); !res.Success {
		t.Fatalf("placement: %s", res.Error)
	}
	e.QueueProbe(KindPioneer, Point2D{}, Point2D{X: 0, Y: 220}, 0, start)
	e.Tick(start)
	e.Tick(start.Add(31 * time.Second))

	if e.Validator.Count() != 2 {
		t.Fatalf("beacon count = %d, want 2", e.Validator.Count())
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.fallbackPlacements != 1 {
		t.Errorf("fallback placements = %d, want 1", metrics.fallbackPlacements)
	}
}

func TestEnginePreSpecializedPlacement(t *testing.T) {
	e := NewEngine(nil)
	now := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("100"), now)

	res := e.PlaceBeacon(Point2D{X: 0, Y: 0}, KindPioneer, SpecEfficiency, now)
	if !res.Success {
		t.Fatalf("pre-specialized placement: %s %v", res.Error, res.Reasons)
	}
	if res.Beacon.Level != e.Config().Leveling.AutoLevelInterval {
		t.Errorf("level = %d, want gate level %d", res.Beacon.Level, e.Config().Leveling.AutoLevelInterval)
	}
	if res.Beacon.Specialization != SpecEfficiency {
		t.Errorf("specialization = %s", res.Beacon.Specialization)
	}
}

func TestSuggestPatternPositions(t *testing.T) {
	e := NewEngine(nil)
	now := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("125"), now)
	a := e.PlaceBeacon(Point2D{X: 0, Y: 0}, KindPioneer, SpecNone, now)
	b := e.PlaceBeacon(Point2D{X: 100, Y: 0}, KindPioneer, SpecNone, now)
	if !a.Success || !b.Success {
		t.Fatalf("setup: %s / %s", a.Error, b.Error)
	}

	suggestions := e.SuggestPatternPositions(KindPioneer, 5)
	// Both apex points over the single connected edge are free.
	if len(suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(suggestions))
	}
	for _, s := range suggestions {
		if s.Shape != ShapeTriangle {
			t.Errorf("suggestion shape = %s", s.Shape)
		}
		da := s.Position.DistanceTo(Point2D{X: 0, Y: 0})
		db := s.Position.DistanceTo(Point2D{X: 100, Y: 0})
		if da < 99 || da > 101 || db < 99 || db > 101 {
			t.Errorf("apex %v is not equidistant from the edge (%v, %v)", s.Position, da, db)
		}
		if s.MemberA == s.MemberB {
			t.Errorf("suggestion references a single beacon twice: %+v", s)
		}
	}
}

func TestSuggestPatternPositionsLimit(t *testing.T) {
	e := NewEngine(nil)
	now := time.Now()
	e.Ledger.SetBalance(ResourceQuantumData, dec("125"), now)
	e.PlaceBeacon(Point2D{X: 0, Y: 0}, KindPioneer, SpecNone, now)
	e.PlaceBeacon(Point2D{X: 100, Y: 0}, KindPioneer, SpecNone, now)

	if got := e.SuggestPatternPositions(KindPioneer, 1); len(got) != 1 {
		t.Errorf("limited suggestions = %d, want 1", len(got))
	}
}

func TestOfflineCatchUpGuard(t *testing.T) {
	e := NewEngine(nil)
	now := time.Now()

	// A clock that went backwards must not accrue anything.
	credited := e.OfflineCatchUp(now.Add(time.Hour), now)
	if len(credited) != 0 {
		t.Errorf("backwards catch-up credited %v", credited)
	}
}

type captureLogger struct {
	mu      sync.Mutex
	entries []capturedEntry
}

type capturedEntry struct {
	msg    string
	fields map[string]any
}

func (l *captureLogger) record(msg string, fields []logging.Field) {
	entry := capturedEntry{msg: msg, fields: make(map[string]any, len(fields))}
	for _, f := range fields {
		entry.fields[f.Key] = f.Value
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *captureLogger) With(...logging.Field) logging.Logger { return l }
func (l *captureLogger) Debug(_ context.Context, msg string, fields ...logging.Field) {
	l.record(msg, fields)
}
func (l *captureLogger) Info(_ context.Context, msg string, fields ...logging.Field) {
	l.record(msg, fields)
}
func (l *captureLogger) Warn(_ context.Context, msg string, fields ...logging.Field) {
	l.record(msg, fields)
}
func (l *captureLogger) Error(_ context.Context, msg string, fields ...logging.Field) {
	l.record(msg, fields)
}

// last returns the most recent entry with the given message.
func (l *captureLogger) last(msg string) (capturedEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].msg == msg {
			return l.entries[i], true
		}
	}
	return capturedEntry{}, false
}

func TestEngineTickLogsTimings(t *testing.T) {
	logs := &captureLogger{}
	e := NewEngine(nil, WithLogger(logs))
	start := time.Now()

	e.Tick(start)
	e.Tick(start.Add(2 * time.Second))

	entry, ok := logs.last("tick complete")
	if !ok {
		t.Fatal("no tick completion log entry")
	}
	if got, ok := entry.fields["interval"].(time.Duration); !ok || got != 2*time.Second {
		t.Errorf("interval field = %v, want 2s", entry.fields["interval"])
	}
	if got, ok := entry.fields["tick_seconds"].(float64); !ok || got < 0 {
		t.Errorf("tick_seconds field = %v, want a non-negative float", entry.fields["tick_seconds"])
	}
}

func TestFindOptimalPositionsDeterministic(t *testing.T) {
	region := Region{Center: Point2D{X: 0, Y: 0}, Radius: 400}

	first := NewEngine(nil, WithRandSeed(11)).FindOptimalPositions(region, KindPioneer, 3)
	second := NewEngine(nil, WithRandSeed(11)).FindOptimalPositions(region, KindPioneer, 3)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("sample sizes = %d / %d, want 3 each", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("seeded sampling diverged at %d: %v vs %v", i, first[i], second[i])
		}
	}
}
