package core

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

var (
	ErrBeaconExists   = errors.New("beacon already exists")
	ErrBeaconNotFound = errors.New("beacon not found")
	ErrBeaconBadInput = errors.New("invalid beacon")
)

// MinDistanceViolation describes the first separation conflict found
// while validating a position.
type MinDistanceViolation struct {
	BeaconID        string
	Distance        float64
	MinimumRequired float64
}

// ValidationResult is the typed outcome of a placement check. Expected,
// user-facing failures are reported here rather than as errors.
type ValidationResult struct {
	IsValid bool
	Reasons []string

	OutOfBoundsX bool
	OutOfBoundsY bool

	MinDistanceViolation *MinDistanceViolation
}

// NearestBeacon is the result of a nearest-neighbour query.
type NearestBeacon struct {
	Beacon   BeaconSnapshot
	Distance float64
}

// PlacementValidator owns the canonical beacon index used for every
// constraint check, plus a uniform spatial grid kept in lockstep with
// it. All validation reads go against this index, never a caller copy.
type PlacementValidator struct {
	mu  sync.RWMutex
	cfg *BalanceConfig

	beacons map[string]*Beacon

	grid     map[gridKey][]string
	cellSize float64
}

type gridKey struct {
	X, Y int
}

// NewPlacementValidator creates an empty validator. The grid cell size
// follows the largest configured minimum distance plus the safety
// margin, so every separation check (widened or not) only ever needs a
// candidate's 3x3 neighbourhood.
func NewPlacementValidator(cfg *BalanceConfig) *PlacementValidator {
	cell := 0.0
	for _, kb := range cfg.Beacons {
		if kb.MinDistance > cell {
			cell = kb.MinDistance
		}
	}
	if cell <= 0 {
		cell = 100
	}
	cell += cfg.World.SafeMargin
	return &PlacementValidator{
		cfg:      cfg,
		beacons:  make(map[string]*Beacon),
		grid:     make(map[gridKey][]string),
		cellSize: cell,
	}
}

//
// ---------- Validation reads ----------
//

// IsValidPosition checks bounds first, then scans tracked beacons for a
// minimum-distance conflict, failing fast on the first offender.
// excludeID skips one beacon (used when moving an existing beacon).
func (v *PlacementValidator) IsValidPosition(pos Point2D, kind BeaconKind, excludeID string) ValidationResult {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validateLocked(pos, kind, excludeID, 0)
}

// NOTE: caller must hold v.mu (read lock). margin widens every
// constraint and is non-zero only for safe-position sampling.
func (v *PlacementValidator) validateLocked(pos Point2D, kind BeaconKind, excludeID string, margin float64) ValidationResult {
	res := ValidationResult{IsValid: true}
	bounds := v.cfg.World.Bounds

	// Per-axis bounds reporting: both axes may be out simultaneously.
	if pos.X < bounds.MinX+margin || pos.X > bounds.MaxX-margin {
		res.OutOfBoundsX = true
		res.Reasons = append(res.Reasons, fmt.Sprintf("x=%.1f outside [%.1f, %.1f]", pos.X, bounds.MinX+margin, bounds.MaxX-margin))
	}
	if pos.Y < bounds.MinY+margin || pos.Y > bounds.MaxY-margin {
		res.OutOfBoundsY = true
		res.Reasons = append(res.Reasons, fmt.Sprintf("y=%.1f outside [%.1f, %.1f]", pos.Y, bounds.MinY+margin, bounds.MaxY-margin))
	}
	if res.OutOfBoundsX || res.OutOfBoundsY {
		res.IsValid = false
		return res
	}

	minDist := v.cfg.MinimumDistance(kind) + margin
	for _, id := range v.neighboursLocked(pos) {
		if id == excludeID {
			continue
		}
		other := v.beacons[id]
		d := pos.DistanceTo(other.Position)
		if d < minDist {
			res.IsValid = false
			res.MinDistanceViolation = &MinDistanceViolation{
				BeaconID:        id,
				Distance:        d,
				MinimumRequired: minDist,
			}
			res.Reasons = append(res.Reasons, fmt.Sprintf("too close to beacon %s: %.1f < %.1f", id, d, minDist))
			return res
		}
	}
	return res
}

// IsSafePosition applies the bounds margin, minimum distance and the
// configured safety margin in one check. Used by region sampling.
func (v *PlacementValidator) IsSafePosition(pos Point2D, kind BeaconKind) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validateLocked(pos, kind, "", v.cfg.World.SafeMargin).IsValid
}

// FindNearestBeacon scans all tracked beacons linearly; ties keep the
// first beacon encountered. Returns nil when the index is empty.
func (v *PlacementValidator) FindNearestBeacon(pos Point2D, excludeID string) *NearestBeacon {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var best *Beacon
	bestDist := math.MaxFloat64
	for id, b := range v.beacons {
		if id == excludeID {
			continue
		}
		if d := pos.DistanceTo(b.Position); d < bestDist {
			best = b
			bestDist = d
		}
	}
	if best == nil {
		return nil
	}
	return &NearestBeacon{Beacon: best.Snapshot(), Distance: bestDist}
}

// FindOptimalPositions draws candidate points uniformly (in polar form)
// within the region and keeps those that pass the safe-position check.
// It stops after count accepted candidates or the configured attempt
// budget, so it may return fewer positions than requested.
func (v *PlacementValidator) FindOptimalPositions(region Region, kind BeaconKind, count int, rng *rand.Rand) []Point2D {
	if count <= 0 || region.Radius <= 0 {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	out := make([]Point2D, 0, count)
	for attempt := 0; attempt < v.cfg.World.MaxSampleAttempts && len(out) < count; attempt++ {
		// sqrt keeps the radial draw area-uniform inside the disc.
		r := region.Radius * math.Sqrt(rng.Float64())
		theta := rng.Float64() * 2 * math.Pi
		candidate := region.Center.OffsetPolar(r, theta)

		if !v.IsSafePosition(candidate, kind) {
			continue
		}
		// Accepted candidates must also clear each other.
		minDist := v.cfg.MinimumDistance(kind) + v.cfg.World.SafeMargin
		tooClose := false
		for _, p := range out {
			if candidate.DistanceTo(p) < minDist {
				tooClose = true
				break
			}
		}
		if !tooClose {
			out = append(out, candidate)
		}
	}
	return out
}

//
// ---------- Mutation API ----------
//

// AddBeacon inserts a beacon into the index and grid.
func (v *PlacementValidator) AddBeacon(b *Beacon) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("%w", ErrBeaconBadInput)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.beacons[b.ID]; exists {
		return fmt.Errorf("%w: %q", ErrBeaconExists, b.ID)
	}
	v.beacons[b.ID] = b
	v.gridInsertLocked(b.ID, b.Position)
	return nil
}

// RemoveBeacon deletes a beacon from the index and grid.
func (v *PlacementValidator) RemoveBeacon(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrBeaconBadInput)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	b, ok := v.beacons[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBeaconNotFound, id)
	}
	v.gridRemoveLocked(id, b.Position)
	delete(v.beacons, id)
	return nil
}

// UpdateBeacons replaces the whole index contents in one bulk swap,
// rebuilding the grid in lockstep. Used by save-load.
func (v *PlacementValidator) UpdateBeacons(beacons []*Beacon) error {
	for _, b := range beacons {
		if b == nil || b.ID == "" {
			return fmt.Errorf("%w", ErrBeaconBadInput)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.beacons = make(map[string]*Beacon, len(beacons))
	v.grid = make(map[gridKey][]string)
	for _, b := range beacons {
		if _, dup := v.beacons[b.ID]; dup {
			return fmt.Errorf("%w: %q", ErrBeaconExists, b.ID)
		}
		v.beacons[b.ID] = b
		v.gridInsertLocked(b.ID, b.Position)
	}
	return nil
}

// Clear empties the index and grid.
func (v *PlacementValidator) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.beacons = make(map[string]*Beacon)
	v.grid = make(map[gridKey][]string)
}

// Count returns the number of tracked beacons.
func (v *PlacementValidator) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.beacons)
}

// ActiveCount returns the number of tracked beacons in active status.
func (v *PlacementValidator) ActiveCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for _, b := range v.beacons {
		if b.IsActive() {
			n++
		}
	}
	return n
}

// GetBeacon returns a snapshot copy of one beacon.
func (v *PlacementValidator) GetBeacon(id string) (BeaconSnapshot, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.beacons[id]
	if !ok {
		return BeaconSnapshot{}, false
	}
	return b.Snapshot(), true
}

// Snapshots returns copies of every tracked beacon.
func (v *PlacementValidator) Snapshots() []BeaconSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]BeaconSnapshot, 0, len(v.beacons))
	for _, b := range v.beacons {
		out = append(out, b.Snapshot())
	}
	return out
}

//
// ---------- Package-internal access ----------
//

// get returns the authoritative beacon. Only sibling components (graph,
// orchestrator, engine) may use it; the pointer must not escape core.
func (v *PlacementValidator) get(id string) *Beacon {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.beacons[id]
}

// all returns the authoritative beacon set for in-package recomputes.
func (v *PlacementValidator) all() []*Beacon {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Beacon, 0, len(v.beacons))
	for _, b := range v.beacons {
		out = append(out, b)
	}
	return out
}

//
// ---------- Spatial grid ----------
//

// NOTE: callers of the grid helpers must hold v.mu (write lock).

func (v *PlacementValidator) gridKeyFor(p Point2D) gridKey {
	return gridKey{
		X: int(math.Floor(p.X / v.cellSize)),
		Y: int(math.Floor(p.Y / v.cellSize)),
	}
}

func (v *PlacementValidator) gridInsertLocked(id string, p Point2D) {
	key := v.gridKeyFor(p)
	v.grid[key] = append(v.grid[key], id)
}

func (v *PlacementValidator) gridRemoveLocked(id string, p Point2D) {
	key := v.gridKeyFor(p)
	cell := v.grid[key]
	for i, existing := range cell {
		if existing == id {
			cell[i] = cell[len(cell)-1]
			cell = cell[:len(cell)-1]
			break
		}
	}
	if len(cell) == 0 {
		delete(v.grid, key)
	} else {
		v.grid[key] = cell
	}
}

// neighboursLocked returns beacon IDs in the 3x3 grid neighbourhood of
// p. The cell size guarantees every beacon within any separation
// threshold lands in this window; the exact distance check in
// validateLocked decides. Caller must hold v.mu.
func (v *PlacementValidator) neighboursLocked(p Point2D) []string {
	key := v.gridKeyFor(p)
	var out []string
	for gx := key.X - 1; gx <= key.X+1; gx++ {
		for gy := key.Y - 1; gy <= key.Y+1; gy++ {
			out = append(out, v.grid[gridKey{X: gx, Y: gy}]...)
		}
	}
	return out
}
