package core

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emberforge/beaconfield-sim/internal/logging"
)

// MetricsRecorder receives world-state gauge updates and tick timings.
// The observability layer implements it; the engine only knows this
// interface so headless runs and tests stay dependency-free.
type MetricsRecorder interface {
	SetWorldCounts(beacons, connections, patterns, probes int)
	ObserveTickDuration(seconds float64)
	IncPlacements(fallback bool)
	IncProbeDeployments()
}

type noopMetrics struct{}

func (noopMetrics) SetWorldCounts(int, int, int, int) {}
func (noopMetrics) ObserveTickDuration(float64)       {}
func (noopMetrics) IncPlacements(bool)                {}
func (noopMetrics) IncProbeDeployments()              {}

// Engine composes the simulation kernel: validator, graph, pattern
// detector, ledger, generation engine, probe pipeline and placement
// orchestrator, all explicitly constructed. There is no shared process
// state, so multiple independent sessions can coexist in one process.
type Engine struct {
	mu  sync.Mutex
	cfg *BalanceConfig
	log logging.Logger

	Validator  *PlacementValidator
	Graph      *ConnectionGraph
	Detector   *PatternDetector
	Ledger     *ResourceLedger
	Generation *GenerationEngine
	Probes     *ProbeManager

	orchestrator *PlacementOrchestrator
	events       EventSink
	metrics      MetricsRecorder
	rng          *rand.Rand

	lastTick time.Time
}

// EngineOption customises engine construction.
type EngineOption func(*Engine)

// WithEventSink routes simulation events to the given sink.
func WithEventSink(sink EventSink) EngineOption {
	return func(e *Engine) {
		if sink != nil {
			e.events = sink
		}
	}
}

// WithMetricsRecorder wires world gauges and tick timings.
func WithMetricsRecorder(rec MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log logging.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithRandSeed makes position sampling deterministic, for tests and
// reproducible sessions.
func WithRandSeed(seed int64) EngineOption {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// NewEngine builds a ready (empty) simulation session.
func NewEngine(cfg *BalanceConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = DefaultBalance()
	}
	e := &Engine{
		cfg:     cfg,
		log:     logging.Noop(),
		events:  NoopSink{},
		metrics: noopMetrics{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.Validator = NewPlacementValidator(cfg)
	e.Graph = NewConnectionGraph(cfg)
	e.Detector = NewPatternDetector(cfg)
	e.Ledger = NewResourceLedger(cfg)
	e.Generation = NewGenerationEngine(cfg, e.Ledger, e.Validator)
	e.orchestrator = NewPlacementOrchestrator(cfg, e.Validator, e.Graph, e.Detector, e.Ledger, e.Generation, e.events)
	e.Probes = NewProbeManager(cfg, e.deployProbe, e.events)
	return e
}

// Config returns the engine's balance configuration.
func (e *Engine) Config() *BalanceConfig { return e.cfg }

// deployProbe is the pipeline's completion consumer: it attempts a
// fallback-tolerant placement at the probe's target, stamped with the
// completing tick's simulation time. Placement failure is logged, not
// retried; the pipeline only guarantees the completion event fires
// once.
func (e *Engine) deployProbe(dep ProbeDeployment) {
	res := e.orchestrator.PlaceBeaconWithFallback(dep.TargetPosition, dep.Kind, 1, DefaultFallbackAttempts, dep.CompletedAt)
	if res.Success {
		e.metrics.IncPlacements(res.UsedFallback)
		e.metrics.IncProbeDeployments()
		e.log.Info(context.Background(), "probe deployed beacon",
			logging.String("probe_id", dep.ProbeID),
			logging.String("beacon_id", res.Beacon.ID),
			logging.Any("fallback", res.UsedFallback),
		)
		return
	}
	e.log.Warn(context.Background(), "probe deployment placement failed",
		logging.String("probe_id", dep.ProbeID),
		logging.String("error", res.Error),
	)
}

// Tick runs one cooperative simulation step to completion: probe
// scheduling and progress, then generation for the elapsed interval,
// then gauge updates. No operation within a tick suspends.
func (e *Engine) Tick(now time.Time) GenerationTickResult {
	start := time.Now()

	e.mu.Lock()
	last := e.lastTick
	e.lastTick = now
	e.mu.Unlock()

	e.Probes.Tick(now)

	var dt time.Duration
	if !last.IsZero() && now.After(last) {
		dt = now.Sub(last)
	}
	result := e.Generation.Tick(now, dt)

	e.publishTickSummary(now, result)
	e.updateGauges()

	elapsed := time.Since(start)
	e.metrics.ObserveTickDuration(elapsed.Seconds())
	e.log.Debug(context.Background(), "tick complete",
		logging.Duration("interval", dt),
		logging.Float64("tick_seconds", elapsed.Seconds()),
	)
	return result
}

func (e *Engine) publishTickSummary(now time.Time, result GenerationTickResult) {
	summary := make(map[ResourceType]string, len(result.Credited))
	for rt, amount := range result.Credited {
		summary[rt] = amount.String()
	}
	e.events.Publish(Event{Kind: EventGenerationTick, At: now, Payload: summary})
}

func (e *Engine) updateGauges() {
	connections := 0
	for _, b := range e.Validator.all() {
		connections += len(b.Connections)
	}
	status := e.Probes.Status()
	e.metrics.SetWorldCounts(
		e.Validator.Count(),
		connections/2,
		len(e.Generation.Patterns()),
		status.Queued+status.Launching+status.Deployed,
	)
}

//
// ---------- Controller-facing operations ----------
//

// PlaceBeacon places at the exact position (no fallback).
func (e *Engine) PlaceBeacon(pos Point2D, kind BeaconKind, spec Specialization, now time.Time) PlacementResult {
	level := 1
	if spec != SpecNone {
		// Pre-specialized placements start at the gate level; the
		// cost surcharge pays for the head start.
		level = e.cfg.Leveling.AutoLevelInterval
	}
	res := e.orchestrator.PlaceBeacon(pos, kind, level, spec, now)
	if res.Success {
		e.metrics.IncPlacements(false)
	}
	return res
}

// PlaceBeaconWithFallback places with the spiral fallback search.
func (e *Engine) PlaceBeaconWithFallback(target Point2D, kind BeaconKind, maxAttempts int, now time.Time) PlacementResult {
	res := e.orchestrator.PlaceBeaconWithFallback(target, kind, 1, maxAttempts, now)
	if res.Success {
		e.metrics.IncPlacements(res.UsedFallback)
	}
	return res
}

// RemoveBeacon removes a beacon with a partial refund.
func (e *Engine) RemoveBeacon(id string, now time.Time) PlacementResult {
	return e.orchestrator.RemoveBeacon(id, now)
}

// MoveBeacon relocates a beacon to a validated position.
func (e *Engine) MoveBeacon(id string, pos Point2D, now time.Time) PlacementResult {
	return e.orchestrator.MoveBeacon(id, pos, now)
}

// UpgradeBeacon levels a beacon up.
func (e *Engine) UpgradeBeacon(id string, now time.Time) PlacementResult {
	return e.orchestrator.UpgradeBeacon(id, now)
}

// ChooseSpecialization resolves a pending specialization.
func (e *Engine) ChooseSpecialization(id string, spec Specialization, now time.Time) PlacementResult {
	return e.orchestrator.ChooseSpecialization(id, spec, now)
}

// PreviewPlacement estimates a placement without committing it.
func (e *Engine) PreviewPlacement(pos Point2D, kind BeaconKind) PlacementPreview {
	return e.orchestrator.PreviewPlacement(pos, kind)
}

// QueueProbe enqueues a deployment job.
func (e *Engine) QueueProbe(kind BeaconKind, start, target Point2D, priority int, now time.Time) ProbeSnapshot {
	return e.Probes.Enqueue(kind, start, target, priority, now)
}

// FindOptimalPositions samples constraint-satisfying positions inside a
// region.
func (e *Engine) FindOptimalPositions(region Region, kind BeaconKind, count int) []Point2D {
	return e.Validator.FindOptimalPositions(region, kind, count, e.rng)
}

// PatternSuggestion is a candidate position that would close a new
// triangle with an existing connected pair.
type PatternSuggestion struct {
	Position Point2D
	MemberA  string
	MemberB  string
	Shape    PatternShape
}

// SuggestPatternPositions proposes up to limit placements that would
// complete a triangle: for each connected pair, the two apex points of
// the equilateral triangle over their edge, kept when the apex is
// itself a placeable position. The apex sits exactly one edge length
// from both endpoints, so the check uses the plain placement rules
// rather than the widened sampling margin.
func (e *Engine) SuggestPatternPositions(kind BeaconKind, limit int) []PatternSuggestion {
	if limit <= 0 {
		limit = 5
	}

	var out []PatternSuggestion
	seen := make(map[string]struct{})
	for _, a := range e.Validator.all() {
		if !a.IsActive() {
			continue
		}
		for peer := range a.Connections {
			if a.ID >= peer {
				continue
			}
			b := e.Validator.get(peer)
			if b == nil {
				continue
			}
			mid := Point2D{X: (a.Position.X + b.Position.X) / 2, Y: (a.Position.Y + b.Position.Y) / 2}
			d := a.Position.DistanceTo(b.Position)
			h := d * math.Sqrt(3) / 2
			// Unit normal to the edge.
			nx := -(b.Position.Y - a.Position.Y) / d
			ny := (b.Position.X - a.Position.X) / d
			for _, sign := range []float64{1, -1} {
				apex := Point2D{X: mid.X + sign*h*nx, Y: mid.Y + sign*h*ny}
				key := a.ID + "|" + peer + "|" + signKey(sign)
				if _, dup := seen[key]; dup {
					continue
				}
				if !e.Validator.IsValidPosition(apex, kind, "").IsValid {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, PatternSuggestion{Position: apex, MemberA: a.ID, MemberB: peer, Shape: ShapeTriangle})
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

func signKey(s float64) string {
	if s > 0 {
		return "+"
	}
	return "-"
}

// RateSummary reports current effective per-second rates.
func (e *Engine) RateSummary(now time.Time) map[ResourceType]decimal.Decimal {
	return e.Generation.RateSummary(now)
}

// OfflineCatchUp applies idle accrual for time spent away and then
// recomputes derived state.
func (e *Engine) OfflineCatchUp(lastSeen, now time.Time) map[ResourceType]decimal.Decimal {
	if !lastSeen.Before(now) {
		return map[ResourceType]decimal.Decimal{}
	}
	return e.Generation.OfflineAccrual(now.Sub(lastSeen), now)
}
