package core

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// GenerationEngine converts the active beacon set plus pattern bonuses
// into ledger credits, once per tick.
type GenerationEngine struct {
	mu  sync.RWMutex
	cfg *BalanceConfig

	ledger    *ResourceLedger
	validator *PlacementValidator

	// patterns is the current wholesale-recomputed bonus set; the
	// simulation engine swaps it after every graph change.
	patterns []PatternBonus
}

// NewGenerationEngine wires the generator to its ledger and index.
func NewGenerationEngine(cfg *BalanceConfig, ledger *ResourceLedger, validator *PlacementValidator) *GenerationEngine {
	return &GenerationEngine{cfg: cfg, ledger: ledger, validator: validator}
}

// SetPatterns swaps in the latest detected pattern set.
func (g *GenerationEngine) SetPatterns(patterns []PatternBonus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns = patterns
}

// Patterns returns a copy of the current pattern bonus set.
func (g *GenerationEngine) Patterns() []PatternBonus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]PatternBonus(nil), g.patterns...)
}

// GenerationTickResult summarises one generation tick.
type GenerationTickResult struct {
	Credited        map[ResourceType]decimal.Decimal
	PurgedModifiers int
}

// Tick credits one interval of generation:
//  1. purge expired ledger modifiers (lazy, never on a timer),
//  2. sum per-type base contributions from active beacons,
//  3. run the result through the ledger's modifier composition,
//  4. credit the ledger.
func (g *GenerationEngine) Tick(now time.Time, dt time.Duration) GenerationTickResult {
	res := GenerationTickResult{Credited: make(map[ResourceType]decimal.Decimal)}
	res.PurgedModifiers = g.ledger.PurgeExpired(now)

	seconds := dt.Seconds()
	if seconds <= 0 {
		return res
	}

	for _, rt := range AllResourceTypes() {
		amount := g.creditForType(rt, seconds, 1.0, now, true)
		if amount.IsPositive() {
			g.ledger.AddResource(rt, amount, now)
		}
		res.Credited[rt] = amount
	}
	return res
}

// creditForType computes the final credited amount for one resource
// type over the given seconds. When track is set, per-beacon generation
// totals are accumulated as a side effect.
func (g *GenerationEngine) creditForType(rt ResourceType, seconds, efficiency float64, now time.Time, track bool) decimal.Decimal {
	raw := 0.0
	for _, b := range g.validator.all() {
		contribution := g.beaconContribution(b, rt)
		if contribution <= 0 {
			continue
		}
		share := contribution * seconds * efficiency
		raw += share
		if track {
			b.TotalResourcesGenerated += share
		}
	}
	if raw <= 0 {
		return decimal.Zero
	}

	// Pattern bonuses are registered as pattern_* ledger modifiers on
	// every recompute, so the composition below already includes them.
	base := decimal.NewFromFloat(raw)
	return g.ledger.ApplyModifiers(rt, base, now)
}

// beaconContribution is one beacon's per-second rate for a resource
// type: the derived generation rate for its primary resource, the
// configured secondary rate otherwise, both scaled by the
// per-connection breadth bonus.
func (g *GenerationEngine) beaconContribution(b *Beacon, rt ResourceType) float64 {
	if !b.IsActive() {
		return 0
	}
	kb := g.cfg.Kind(b.Kind)

	var rate float64
	if kb.PrimaryResource == rt {
		rate = b.GenerationRate
	} else if secondary, ok := kb.SecondaryRates[rt]; ok {
		rate = secondary * (1 + g.cfg.Leveling.RateGrowth*float64(b.Level-1))
	}
	if rate <= 0 {
		return 0
	}
	return rate * (1 + g.cfg.ConnectionBonusPerLink*float64(len(b.Connections)))
}

// RateSummary reports the effective per-second rate for each resource
// type after pattern bonuses and ledger modifiers, for UI display.
func (g *GenerationEngine) RateSummary(now time.Time) map[ResourceType]decimal.Decimal {
	out := make(map[ResourceType]decimal.Decimal)
	for _, rt := range AllResourceTypes() {
		out[rt] = g.creditForType(rt, 1, 1.0, now, false)
	}
	return out
}

// OfflineAccrual applies idle catch-up for the elapsed wall-clock time
// in discretised chunks at reduced efficiency, capped to the configured
// window. Discretisation bounds single-update cost; the efficiency
// penalty keeps active play more rewarding than idling.
func (g *GenerationEngine) OfflineAccrual(elapsed time.Duration, now time.Time) map[ResourceType]decimal.Decimal {
	credited := make(map[ResourceType]decimal.Decimal)
	for _, rt := range AllResourceTypes() {
		credited[rt] = decimal.Zero
	}
	if elapsed <= 0 {
		return credited
	}

	maxWindow := time.Duration(g.cfg.Offline.MaxWindowHours * float64(time.Hour))
	if maxWindow > 0 && elapsed > maxWindow {
		elapsed = maxWindow
	}
	chunk := time.Duration(g.cfg.Offline.ChunkSeconds * float64(time.Second))
	if chunk <= 0 {
		chunk = time.Minute
	}

	g.ledger.PurgeExpired(now)
	for remaining := elapsed; remaining > 0; remaining -= chunk {
		step := chunk
		if remaining < chunk {
			step = remaining
		}
		for _, rt := range AllResourceTypes() {
			amount := g.creditForType(rt, step.Seconds(), g.cfg.Offline.Efficiency, now, false)
			if amount.IsPositive() {
				g.ledger.AddResource(rt, amount, now)
				credited[rt] = credited[rt].Add(amount)
			}
		}
	}
	return credited
}
