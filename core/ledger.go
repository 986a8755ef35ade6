package core

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResourceType names one currency tracked by the ledger.
type ResourceType string

const (
	ResourceQuantumData      ResourceType = "quantumData"
	ResourceEssenceFlux      ResourceType = "essenceFlux"
	ResourceResonanceCrystal ResourceType = "resonanceCrystal"
)

// AllResourceTypes lists the tracked currencies in a stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{ResourceQuantumData, ResourceEssenceFlux, ResourceResonanceCrystal}
}

// ResourceModifier adjusts a resource's generation rate. Multipliers
// compose multiplicatively across active modifiers; flat bonuses add
// after the multiplication. A zero Duration means permanent.
type ResourceModifier struct {
	ID           string
	ResourceType ResourceType
	Multiplier   decimal.Decimal
	FlatBonus    decimal.Decimal
	Duration     time.Duration
	Source       string
	CreatedAt    time.Time
}

// expired reports whether a time-limited modifier's window has elapsed.
func (m ResourceModifier) expired(now time.Time) bool {
	return m.Duration > 0 && now.Sub(m.CreatedAt) >= m.Duration
}

// ResourceLedger tracks one arbitrary-precision balance per resource
// type plus the modifier registry. Balances avoid float64 so long
// multiplicative accrual cannot drift.
type ResourceLedger struct {
	mu  sync.RWMutex
	cfg *BalanceConfig

	balances    map[ResourceType]decimal.Decimal
	modifiers   map[string]ResourceModifier
	lastUpdated time.Time
}

// NewResourceLedger creates a ledger with zero balances.
func NewResourceLedger(cfg *BalanceConfig) *ResourceLedger {
	l := &ResourceLedger{
		cfg:       cfg,
		balances:  make(map[ResourceType]decimal.Decimal),
		modifiers: make(map[string]ResourceModifier),
	}
	for _, rt := range AllResourceTypes() {
		l.balances[rt] = decimal.Zero
	}
	return l
}

//
// ---------- Balances ----------
//

// Balance returns the current balance for one resource type.
func (l *ResourceLedger) Balance(rt ResourceType) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[rt]
}

// Balances returns a copy of every balance.
func (l *ResourceLedger) Balances() map[ResourceType]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[ResourceType]decimal.Decimal, len(l.balances))
	for rt, b := range l.balances {
		out[rt] = b
	}
	return out
}

// LastUpdated returns the timestamp of the most recent mutation.
func (l *ResourceLedger) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastUpdated
}

// AddResource credits amount to the resource. Negative amounts are
// ignored; use SubtractResource for debits.
func (l *ResourceLedger) AddResource(rt ResourceType, amount decimal.Decimal, now time.Time) {
	if amount.IsNegative() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[rt] = l.balances[rt].Add(amount)
	l.lastUpdated = now
}

// SubtractResource atomically debits amount, reporting false (and
// leaving the balance untouched) when funds are insufficient.
func (l *ResourceLedger) SubtractResource(rt ResourceType, amount decimal.Decimal, now time.Time) bool {
	if amount.IsNegative() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[rt].LessThan(amount) {
		return false
	}
	l.balances[rt] = l.balances[rt].Sub(amount)
	l.lastUpdated = now
	return true
}

// SetBalance overwrites one balance. Used by save-load.
func (l *ResourceLedger) SetBalance(rt ResourceType, amount decimal.Decimal, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[rt] = amount
	l.lastUpdated = now
}

// CanAfford reports whether every resource in the cost map is covered.
func (l *ResourceLedger) CanAfford(costs map[ResourceType]decimal.Decimal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.canAffordLocked(costs)
}

// NOTE: caller must hold l.mu.
func (l *ResourceLedger) canAffordLocked(costs map[ResourceType]decimal.Decimal) bool {
	for rt, c := range costs {
		if l.balances[rt].LessThan(c) {
			return false
		}
	}
	return true
}

// SpendResources debits every resource in the cost map, or none at all:
// if any single type is insufficient no balance is mutated.
func (l *ResourceLedger) SpendResources(costs map[ResourceType]decimal.Decimal, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.canAffordLocked(costs) {
		return false
	}
	for rt, c := range costs {
		l.balances[rt] = l.balances[rt].Sub(c)
	}
	l.lastUpdated = now
	return true
}

//
// ---------- Modifiers ----------
//

// AddModifier registers a modifier, assigning an ID when absent, and
// returns the stored ID.
func (l *ResourceLedger) AddModifier(m ResourceModifier) string {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Multiplier.IsZero() {
		m.Multiplier = decimal.NewFromInt(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modifiers[m.ID] = m
	return m.ID
}

// RemoveModifier deletes a modifier by ID.
func (l *ResourceLedger) RemoveModifier(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.modifiers, id)
}

// RemoveModifiersBySource sweeps every modifier whose source carries
// the given prefix (e.g. "pattern_" before a pattern recompute).
func (l *ResourceLedger) RemoveModifiersBySource(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, m := range l.modifiers {
		if strings.HasPrefix(m.Source, prefix) {
			delete(l.modifiers, id)
			removed++
		}
	}
	return removed
}

// PurgeExpired drops every modifier whose duration window has elapsed.
// Called lazily at the start of each generation tick, never on a timer.
func (l *ResourceLedger) PurgeExpired(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	purged := 0
	for id, m := range l.modifiers {
		if m.expired(now) {
			delete(l.modifiers, id)
			purged++
		}
	}
	return purged
}

// Modifiers returns a copy of the registry, sorted by creation time for
// stable presentation.
func (l *ResourceLedger) Modifiers() []ResourceModifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ResourceModifier, 0, len(l.modifiers))
	for _, m := range l.modifiers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ApplyModifiers runs a base rate through the registry for one resource
// type: base times the product of active multipliers, plus the sum of
// active flat bonuses.
// Multipliers compose multiplicatively so stacking small bonuses
// compounds rather than sums.
func (l *ResourceLedger) ApplyModifiers(rt ResourceType, base decimal.Decimal, now time.Time) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	mult := decimal.NewFromInt(1)
	flat := decimal.Zero
	for _, m := range l.modifiers {
		if m.ResourceType != rt || m.expired(now) {
			continue
		}
		mult = mult.Mul(m.Multiplier)
		flat = flat.Add(m.FlatBonus)
	}
	return base.Mul(mult).Add(flat)
}

//
// ---------- Escalating costs ----------
//

// BeaconPlacementCost computes the escalating placement cost:
// floor(base * factor^count), then the specialization surcharge when a
// specialization is pre-selected. Exponential growth gates the
// late-game placement pace.
func (l *ResourceLedger) BeaconPlacementCost(currentBeaconCount int, spec Specialization) map[ResourceType]decimal.Decimal {
	c := l.cfg.Costs
	cost := math.Floor(c.BaseBeaconCost * math.Pow(c.ScalingFactor, float64(currentBeaconCount)))
	if sb, ok := l.cfg.Specs[spec]; ok && spec != SpecNone {
		cost *= sb.CostSurcharge
	}
	return map[ResourceType]decimal.Decimal{
		c.CostResource: decimal.NewFromFloat(cost),
	}
}

// BeaconUpgradeCost computes the cost of raising a beacon from its
// current level.
func (l *ResourceLedger) BeaconUpgradeCost(currentLevel int) map[ResourceType]decimal.Decimal {
	c := l.cfg.Costs
	cost := math.Floor(c.UpgradeBaseCost * math.Pow(c.UpgradeScaling, float64(currentLevel-1)))
	return map[ResourceType]decimal.Decimal{
		c.CostResource: decimal.NewFromFloat(cost),
	}
}
