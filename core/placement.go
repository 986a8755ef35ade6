package core

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFallbackAttempts is the spiral search ring budget used when a
// caller passes zero.
const DefaultFallbackAttempts = 12

// PlacementResult is the typed outcome of a placement operation.
// Expected gameplay failures (bounds, separation, funds) come back here
// with Success=false; errors are reserved for programming mistakes.
type PlacementResult struct {
	Success bool
	Error   string
	Reasons []string

	Beacon        *BeaconSnapshot
	FinalPosition Point2D
	UsedFallback  bool

	Cost       map[ResourceType]decimal.Decimal
	Validation *ValidationResult
}

// PlacementPreview estimates the outcome of a placement before the
// player commits: validity, cost, and how many existing beacons the
// new one could reach (its pattern potential).
type PlacementPreview struct {
	Validation       ValidationResult
	EstimatedCost    map[ResourceType]decimal.Decimal
	ReachableBeacons int
	PatternPotential int
}

// PlacementOrchestrator composes the validator, graph, detector and
// ledger to place, move, remove and upgrade beacons. Every mutation
// ends with a full derived-state recompute so no stale edge or pattern
// survives.
type PlacementOrchestrator struct {
	cfg        *BalanceConfig
	validator  *PlacementValidator
	graph      *ConnectionGraph
	detector   *PatternDetector
	ledger     *ResourceLedger
	generation *GenerationEngine
	events     EventSink
}

// NewPlacementOrchestrator wires the orchestrator to its collaborators.
func NewPlacementOrchestrator(
	cfg *BalanceConfig,
	validator *PlacementValidator,
	graph *ConnectionGraph,
	detector *PatternDetector,
	ledger *ResourceLedger,
	generation *GenerationEngine,
	events EventSink,
) *PlacementOrchestrator {
	if events == nil {
		events = NoopSink{}
	}
	return &PlacementOrchestrator{
		cfg:        cfg,
		validator:  validator,
		graph:      graph,
		detector:   detector,
		ledger:     ledger,
		generation: generation,
		events:     events,
	}
}

// PlaceBeacon validates the exact position, charges the ledger, and
// indexes the new beacon. Specialization may be pre-selected when the
// starting level already clears the gate; it raises the cost surcharge.
func (o *PlacementOrchestrator) PlaceBeacon(pos Point2D, kind BeaconKind, level int, spec Specialization, now time.Time) PlacementResult {
	validation := o.validator.IsValidPosition(pos, kind, "")
	if !validation.IsValid {
		return PlacementResult{
			Success:    false,
			Error:      "position invalid",
			Reasons:    validation.Reasons,
			Validation: &validation,
		}
	}

	if spec != SpecNone && level < o.cfg.Leveling.AutoLevelInterval {
		return PlacementResult{
			Success: false,
			Error:   "specialization requires higher starting level",
			Reasons: []string{fmt.Sprintf("level %d below specialization gate %d", level, o.cfg.Leveling.AutoLevelInterval)},
		}
	}

	cost := o.ledger.BeaconPlacementCost(o.validator.Count(), spec)
	if !o.ledger.SpendResources(cost, now) {
		return PlacementResult{
			Success: false,
			Error:   "insufficient resources",
			Reasons: costReasons(cost, o.ledger),
			Cost:    cost,
		}
	}

	b := NewBeacon(o.cfg, kind, pos, level, now)
	if spec != SpecNone {
		if ok, reason := b.ChooseSpecialization(o.cfg, spec); !ok {
			// Refund: the beacon never entered the index.
			for rt, c := range cost {
				o.ledger.AddResource(rt, c, now)
			}
			return PlacementResult{Success: false, Error: "specialization rejected", Reasons: []string{reason}}
		}
	}
	if err := o.validator.AddBeacon(b); err != nil {
		for rt, c := range cost {
			o.ledger.AddResource(rt, c, now)
		}
		return PlacementResult{Success: false, Error: err.Error()}
	}

	o.RecomputeDerived(now)

	snap := b.Snapshot()
	o.events.Publish(Event{Kind: EventBeaconPlaced, At: now, Payload: snap})
	return PlacementResult{
		Success:       true,
		Beacon:        &snap,
		FinalPosition: pos,
		Cost:          cost,
		Validation:    &validation,
	}
}

// PlaceBeaconWithFallback tries the exact target first, then runs a
// spiral candidate search around it. Probe deployment targets are
// chosen speculatively; losing one to a single occupied cell would
// silently drop a player-initiated placement.
func (o *PlacementOrchestrator) PlaceBeaconWithFallback(target Point2D, kind BeaconKind, level int, maxAttempts int, now time.Time) PlacementResult {
	if maxAttempts <= 0 {
		maxAttempts = DefaultFallbackAttempts
	}

	original := o.PlaceBeacon(target, kind, level, SpecNone, now)
	if original.Success {
		return original
	}

	// Spiral search: 8 compass directions per ring, ring radius grows
	// geometrically from just under the kind's separation distance.
	radius := o.cfg.World.SpiralStartFactor * o.cfg.MinimumDistance(kind)
	directions := o.cfg.World.SpiralDirections
	if directions <= 0 {
		directions = 8
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		for d := 0; d < directions; d++ {
			angle := 2 * math.Pi * float64(d) / float64(directions)
			candidate := target.OffsetPolar(radius, angle)
			if !o.validator.IsValidPosition(candidate, kind, "").IsValid {
				continue
			}
			fallback := o.PlaceBeacon(candidate, kind, level, SpecNone, now)
			if fallback.Success {
				fallback.UsedFallback = true
				return fallback
			}
			// A non-positional failure (e.g. funds) cannot improve on
			// later rings; report it combined with the original.
			fallback.UsedFallback = true
			fallback.Error = fmt.Sprintf("original placement failed (%s); fallback failed (%s)", original.Error, fallback.Error)
			fallback.Reasons = append(append([]string(nil), original.Reasons...), fallback.Reasons...)
			return fallback
		}
		radius *= o.cfg.World.SpiralGrowth
	}

	return PlacementResult{
		Success: false,
		Error:   fmt.Sprintf("original placement failed (%s); fallback search exhausted %d rings", original.Error, maxAttempts),
		Reasons: original.Reasons,
	}
}

// RemoveBeacon deletes a beacon, refunds part of the current placement
// cost, and recomputes derived state.
func (o *PlacementOrchestrator) RemoveBeacon(id string, now time.Time) PlacementResult {
	snap, ok := o.validator.GetBeacon(id)
	if !ok {
		return PlacementResult{Success: false, Error: "beacon not found", Reasons: []string{id}}
	}
	if err := o.validator.RemoveBeacon(id); err != nil {
		return PlacementResult{Success: false, Error: err.Error()}
	}

	// Refund against the cost of the slot being vacated.
	refund := o.ledger.BeaconPlacementCost(o.validator.Count(), SpecNone)
	share := decimal.NewFromFloat(o.cfg.Costs.RemovalRefundShare)
	for rt, c := range refund {
		o.ledger.AddResource(rt, c.Mul(share), now)
	}

	o.RecomputeDerived(now)
	o.events.Publish(Event{Kind: EventBeaconRemoved, At: now, Payload: snap})
	return PlacementResult{Success: true, Beacon: &snap, FinalPosition: snap.Position}
}

// MoveBeacon re-validates the new position (excluding the moving
// beacon) and re-indexes it. The beacon keeps its identity, level and
// specialization; only its position changes.
func (o *PlacementOrchestrator) MoveBeacon(id string, pos Point2D, now time.Time) PlacementResult {
	b := o.validator.get(id)
	if b == nil {
		return PlacementResult{Success: false, Error: "beacon not found", Reasons: []string{id}}
	}

	validation := o.validator.IsValidPosition(pos, b.Kind, id)
	if !validation.IsValid {
		return PlacementResult{
			Success:    false,
			Error:      "position invalid",
			Reasons:    validation.Reasons,
			Validation: &validation,
		}
	}

	if err := o.validator.RemoveBeacon(id); err != nil {
		return PlacementResult{Success: false, Error: err.Error()}
	}
	moved := b.clone()
	moved.Position = pos
	if err := o.validator.AddBeacon(moved); err != nil {
		// Restore the original on a failed re-insert.
		_ = o.validator.AddBeacon(b)
		return PlacementResult{Success: false, Error: err.Error()}
	}

	o.RecomputeDerived(now)
	snap := moved.Snapshot()
	return PlacementResult{Success: true, Beacon: &snap, FinalPosition: pos, Validation: &validation}
}

// UpgradeBeacon charges the escalating upgrade cost and raises the
// beacon one level, honouring the level cap and the specialization gate.
func (o *PlacementOrchestrator) UpgradeBeacon(id string, now time.Time) PlacementResult {
	b := o.validator.get(id)
	if b == nil {
		return PlacementResult{Success: false, Error: "beacon not found", Reasons: []string{id}}
	}
	if b.Level >= o.cfg.Leveling.MaxLevel {
		return PlacementResult{Success: false, Error: "beacon already at maximum level"}
	}
	if b.SpecializationPending() {
		return PlacementResult{Success: false, Error: "specialization choice required before further upgrades"}
	}

	cost := o.ledger.BeaconUpgradeCost(b.Level)
	if !o.ledger.SpendResources(cost, now) {
		return PlacementResult{
			Success: false,
			Error:   "insufficient resources",
			Reasons: costReasons(cost, o.ledger),
			Cost:    cost,
		}
	}
	if ok, reason := b.LevelUp(o.cfg, now); !ok {
		for rt, c := range cost {
			o.ledger.AddResource(rt, c, now)
		}
		return PlacementResult{Success: false, Error: reason}
	}

	// Short-lived celebration boost on the upgraded beacon's primary
	// resource.
	if o.cfg.Leveling.UpgradeBoostMultiplier > 1 {
		o.ledger.AddModifier(ResourceModifier{
			ResourceType: o.cfg.Kind(b.Kind).PrimaryResource,
			Multiplier:   decimal.NewFromFloat(o.cfg.Leveling.UpgradeBoostMultiplier),
			Duration:     time.Duration(o.cfg.Leveling.UpgradeBoostSeconds * float64(time.Second)),
			Source:       "levelup_" + b.ID,
			CreatedAt:    now,
		})
	}

	o.RecomputeDerived(now)
	snap := b.Snapshot()
	o.events.Publish(Event{Kind: EventBeaconUpgraded, At: now, Payload: snap})
	return PlacementResult{Success: true, Beacon: &snap, FinalPosition: b.Position, Cost: cost}
}

// ChooseSpecialization resolves a pending specialization choice.
func (o *PlacementOrchestrator) ChooseSpecialization(id string, spec Specialization, now time.Time) PlacementResult {
	b := o.validator.get(id)
	if b == nil {
		return PlacementResult{Success: false, Error: "beacon not found", Reasons: []string{id}}
	}
	if ok, reason := b.ChooseSpecialization(o.cfg, spec); !ok {
		return PlacementResult{Success: false, Error: reason}
	}
	o.RecomputeDerived(now)
	snap := b.Snapshot()
	return PlacementResult{Success: true, Beacon: &snap, FinalPosition: b.Position}
}

// PreviewPlacement reports validity, estimated cost and pattern
// potential for a candidate position without committing anything.
func (o *PlacementOrchestrator) PreviewPlacement(pos Point2D, kind BeaconKind) PlacementPreview {
	preview := PlacementPreview{
		Validation:    o.validator.IsValidPosition(pos, kind, ""),
		EstimatedCost: o.ledger.BeaconPlacementCost(o.validator.Count(), SpecNone),
	}

	// Pattern potential: count beacons a level-1 beacon of this kind
	// could reach, and the reachable pairs that are themselves connected
	// (each such pair would close a triangle). Connection reach exceeds
	// the grid's 3x3 neighbourhood, so scan the full index; previews are
	// rare.
	probe := Beacon{Kind: kind, Level: 1, Specialization: SpecNone}
	reach := probe.ConnectionRange(o.cfg)

	var reachable []string
	for _, other := range o.validator.all() {
		if !other.IsActive() {
			continue
		}
		if pos.DistanceTo(other.Position) <= reach {
			reachable = append(reachable, other.ID)
		}
	}
	preview.ReachableBeacons = len(reachable)

	for i := 0; i < len(reachable); i++ {
		a := o.validator.get(reachable[i])
		if a == nil {
			continue
		}
		for j := i + 1; j < len(reachable); j++ {
			if _, ok := a.Connections[reachable[j]]; ok {
				preview.PatternPotential++
			}
		}
	}
	return preview
}

// RecomputeDerived rebuilds the connection graph, re-detects patterns,
// and swaps the ledger's pattern_* modifiers for the fresh set. Runs
// after every beacon-set or level change and after save-load.
func (o *PlacementOrchestrator) RecomputeDerived(now time.Time) {
	o.graph.Rebuild(o.validator)
	patterns := o.detector.Detect(o.validator)
	o.generation.SetPatterns(patterns)

	o.ledger.RemoveModifiersBySource("pattern_")
	for _, p := range patterns {
		for _, rt := range p.ResourceTypes {
			o.ledger.AddModifier(ResourceModifier{
				ID:           p.ID + "_" + string(rt),
				ResourceType: rt,
				Multiplier:   p.BonusMultiplier,
				Source:       "pattern_" + string(p.Shape),
				CreatedAt:    now,
			})
		}
	}
	o.events.Publish(Event{Kind: EventPatternsChange, At: now, Payload: len(patterns)})
}

// costReasons renders an insufficient-funds explanation per resource.
func costReasons(costs map[ResourceType]decimal.Decimal, ledger *ResourceLedger) []string {
	var out []string
	for rt, c := range costs {
		bal := ledger.Balance(rt)
		if bal.LessThan(c) {
			out = append(out, fmt.Sprintf("%s: need %s, have %s", rt, c.String(), bal.String()))
		}
	}
	return out
}
