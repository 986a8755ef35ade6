package core

import (
	"time"

	"github.com/google/uuid"
)

// BeaconKind determines a beacon's base rates, range, and separation.
type BeaconKind string

const (
	KindPioneer   BeaconKind = "pioneer"
	KindHarvester BeaconKind = "harvester"
	KindArchitect BeaconKind = "architect"
)

// Specialization is an irreversible per-beacon choice unlocked at the
// auto-level interval.
type Specialization string

const (
	SpecNone       Specialization = "none"
	SpecEfficiency Specialization = "efficiency"
	SpecRange      Specialization = "range"
	SpecStability  Specialization = "stability"
)

// BeaconStatus is the beacon's lifecycle state. Only active beacons
// generate resources and participate in the connection graph.
type BeaconStatus string

const (
	StatusActive    BeaconStatus = "active"
	StatusInactive  BeaconStatus = "inactive"
	StatusUpgrading BeaconStatus = "upgrading"
	StatusCorrupted BeaconStatus = "corrupted"
)

// Beacon is a single placed network node. The authoritative instance
// lives in the PlacementValidator's index and is mutated only through
// component methods; external consumers get BeaconSnapshot copies.
type Beacon struct {
	ID             string
	Position       Point2D // immutable after creation; moves re-create via the orchestrator
	Kind           BeaconKind
	Level          int
	Specialization Specialization
	Status         BeaconStatus

	// Connections holds peer beacon IDs. Bounded by MaxConnections;
	// rebuilt wholesale by the ConnectionGraph.
	Connections map[string]struct{}

	// GenerationRate is the derived per-second primary-resource rate.
	// Recomputed on level or specialization change.
	GenerationRate float64

	CreatedAt               time.Time
	LastUpgraded            time.Time
	TotalResourcesGenerated float64

	// UpgradePendingAt is set when the beacon hits a level threshold
	// that requires a specialization choice before further leveling.
	UpgradePendingAt *time.Time
}

// NewBeacon constructs a beacon at the given position with derived
// fields filled in from the balance config.
func NewBeacon(cfg *BalanceConfig, kind BeaconKind, pos Point2D, level int, now time.Time) *Beacon {
	if level < 1 {
		level = 1
	}
	if level > cfg.Leveling.MaxLevel {
		level = cfg.Leveling.MaxLevel
	}
	b := &Beacon{
		ID:             uuid.NewString(),
		Position:       pos,
		Kind:           kind,
		Level:          level,
		Specialization: SpecNone,
		Status:         StatusActive,
		Connections:    make(map[string]struct{}),
		CreatedAt:      now,
		LastUpgraded:   now,
	}
	b.GenerationRate = b.computeGenerationRate(cfg)
	return b
}

// IsActive reports whether the beacon currently generates and connects.
func (b *Beacon) IsActive() bool {
	return b.Status == StatusActive
}

// computeGenerationRate derives the per-second primary rate from kind,
// level and specialization.
func (b *Beacon) computeGenerationRate(cfg *BalanceConfig) float64 {
	kb := cfg.Kind(b.Kind)
	rate := kb.BaseGenerationRate * (1 + cfg.Leveling.RateGrowth*float64(b.Level-1))
	if spec, ok := cfg.Specs[b.Specialization]; ok {
		rate *= spec.RateMultiplier
	}
	return rate
}

// ConnectionRange returns how far this beacon can reach when asking
// for connections. The graph uses the asking side's range.
func (b *Beacon) ConnectionRange(cfg *BalanceConfig) float64 {
	kb := cfg.Kind(b.Kind)
	r := kb.BaseRange * (1 + cfg.Leveling.RangeGrowth*float64(b.Level-1))
	if spec, ok := cfg.Specs[b.Specialization]; ok {
		r *= spec.RangeMultiplier
	}
	return r
}

// MaxConnections returns the connection capacity for the beacon's kind
// and level.
func (b *Beacon) MaxConnections(cfg *BalanceConfig) int {
	kb := cfg.Kind(b.Kind)
	extra := 0
	if cfg.Leveling.ConnectionsPer > 0 {
		extra = (b.Level - 1) / cfg.Leveling.ConnectionsPer
	}
	return kb.BaseMaxConnections + extra
}

// SpecializationPending reports whether leveling is blocked until a
// specialization is chosen.
func (b *Beacon) SpecializationPending() bool {
	return b.UpgradePendingAt != nil
}

// LevelUp advances the beacon one level, enforcing MAX_LEVEL and the
// specialization gate, and recomputes the derived rate. The returned
// reason is empty on success.
func (b *Beacon) LevelUp(cfg *BalanceConfig, now time.Time) (ok bool, reason string) {
	if b.Level >= cfg.Leveling.MaxLevel {
		return false, "beacon already at maximum level"
	}
	if b.SpecializationPending() {
		return false, "specialization choice required before further upgrades"
	}
	b.Level++
	b.LastUpgraded = now
	if b.Specialization == SpecNone &&
		cfg.Leveling.AutoLevelInterval > 0 &&
		b.Level >= cfg.Leveling.AutoLevelInterval {
		t := now
		b.UpgradePendingAt = &t
	}
	b.GenerationRate = b.computeGenerationRate(cfg)
	return true, ""
}

// ChooseSpecialization sets the beacon's specialization. The choice is
// irreversible and only allowed once the level gate has been reached.
func (b *Beacon) ChooseSpecialization(cfg *BalanceConfig, spec Specialization) (ok bool, reason string) {
	if spec == SpecNone {
		return false, "cannot choose the empty specialization"
	}
	if b.Specialization != SpecNone {
		return false, "specialization already chosen"
	}
	if b.Level < cfg.Leveling.AutoLevelInterval {
		return false, "beacon level too low for specialization"
	}
	if _, known := cfg.Specs[spec]; !known {
		return false, "unknown specialization"
	}
	b.Specialization = spec
	b.UpgradePendingAt = nil
	b.GenerationRate = b.computeGenerationRate(cfg)
	return true, ""
}

// clone returns a deep copy, used to hand snapshots across the
// component boundary without exposing the authoritative instance.
func (b *Beacon) clone() *Beacon {
	cp := *b
	cp.Connections = make(map[string]struct{}, len(b.Connections))
	for id := range b.Connections {
		cp.Connections[id] = struct{}{}
	}
	if b.UpgradePendingAt != nil {
		t := *b.UpgradePendingAt
		cp.UpgradePendingAt = &t
	}
	return &cp
}

// BeaconSnapshot is the read-only view of a beacon exposed to callers.
type BeaconSnapshot struct {
	ID                      string
	Position                Point2D
	Kind                    BeaconKind
	Level                   int
	Specialization          Specialization
	Status                  BeaconStatus
	Connections             []string
	GenerationRate          float64
	CreatedAt               time.Time
	LastUpgraded            time.Time
	TotalResourcesGenerated float64
	UpgradePending          bool
}

// Snapshot copies the beacon into its exported form.
func (b *Beacon) Snapshot() BeaconSnapshot {
	conns := make([]string, 0, len(b.Connections))
	for id := range b.Connections {
		conns = append(conns, id)
	}
	return BeaconSnapshot{
		ID:                      b.ID,
		Position:                b.Position,
		Kind:                    b.Kind,
		Level:                   b.Level,
		Specialization:          b.Specialization,
		Status:                  b.Status,
		Connections:             conns,
		GenerationRate:          b.GenerationRate,
		CreatedAt:               b.CreatedAt,
		LastUpgraded:            b.LastUpgraded,
		TotalResourcesGenerated: b.TotalResourcesGenerated,
		UpgradePending:          b.UpgradePendingAt != nil,
	}
}
