package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSubtractResourceAtomic(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	now := time.Now()
	l.AddResource(ResourceQuantumData, dec("10"), now)

	if l.SubtractResource(ResourceQuantumData, dec("15"), now) {
		t.Fatal("expected overdraft to be refused")
	}
	if got := l.Balance(ResourceQuantumData); !got.Equal(dec("10")) {
		t.Errorf("balance after refused overdraft = %s, want 10", got)
	}

	if !l.SubtractResource(ResourceQuantumData, dec("4"), now) {
		t.Fatal("expected covered subtraction to succeed")
	}
	if got := l.Balance(ResourceQuantumData); !got.Equal(dec("6")) {
		t.Errorf("balance = %s, want 6", got)
	}
}

func TestSpendResourcesAllOrNothing(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	now := time.Now()
	l.AddResource(ResourceQuantumData, dec("100"), now)
	l.AddResource(ResourceEssenceFlux, dec("5"), now)

	costs := map[ResourceType]decimal.Decimal{
		ResourceQuantumData: dec("50"),
		ResourceEssenceFlux: dec("10"), // not covered
	}
	if l.SpendResources(costs, now) {
		t.Fatal("expected partially unaffordable spend to be refused")
	}
	if got := l.Balance(ResourceQuantumData); !got.Equal(dec("100")) {
		t.Errorf("quantum data balance mutated on refused spend: %s", got)
	}
	if got := l.Balance(ResourceEssenceFlux); !got.Equal(dec("5")) {
		t.Errorf("essence flux balance mutated on refused spend: %s", got)
	}

	costs[ResourceEssenceFlux] = dec("5")
	if !l.SpendResources(costs, now) {
		t.Fatal("expected affordable spend to succeed")
	}
	if got := l.Balance(ResourceQuantumData); !got.Equal(dec("50")) {
		t.Errorf("quantum data = %s, want 50", got)
	}
	if got := l.Balance(ResourceEssenceFlux); !got.IsZero() {
		t.Errorf("essence flux = %s, want 0", got)
	}
}

func TestApplyModifiersComposition(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	now := time.Now()

	l.AddModifier(ResourceModifier{
		ResourceType: ResourceQuantumData,
		Multiplier:   dec("1.5"),
		Source:       "test_a",
		CreatedAt:    now,
	})
	l.AddModifier(ResourceModifier{
		ResourceType: ResourceQuantumData,
		Multiplier:   dec("2"),
		FlatBonus:    dec("1"),
		Source:       "test_b",
		CreatedAt:    now,
	})
	// A modifier on another type must not leak in.
	l.AddModifier(ResourceModifier{
		ResourceType: ResourceEssenceFlux,
		Multiplier:   dec("10"),
		Source:       "test_c",
		CreatedAt:    now,
	})

	got := l.ApplyModifiers(ResourceQuantumData, dec("10"), now)
	// 10 * 1.5 * 2 + 1
	if !got.Equal(dec("31")) {
		t.Errorf("ApplyModifiers = %s, want 31", got)
	}
}

func TestModifierExpiry(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	start := time.Now()

	l.AddModifier(ResourceModifier{
		ResourceType: ResourceQuantumData,
		Multiplier:   dec("3"),
		Duration:     time.Second,
		Source:       "test_boost",
		CreatedAt:    start,
	})

	if got := l.ApplyModifiers(ResourceQuantumData, dec("10"), start); !got.Equal(dec("30")) {
		t.Errorf("active modifier: got %s, want 30", got)
	}

	later := start.Add(2 * time.Second)
	if got := l.ApplyModifiers(ResourceQuantumData, dec("10"), later); !got.Equal(dec("10")) {
		t.Errorf("expired modifier still applied: got %s, want 10", got)
	}

	if purged := l.PurgeExpired(later); purged != 1 {
		t.Errorf("PurgeExpired = %d, want 1", purged)
	}
	if mods := l.Modifiers(); len(mods) != 0 {
		t.Errorf("registry still holds %d modifiers after purge", len(mods))
	}
}

func TestRemoveModifiersBySource(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	now := time.Now()
	l.AddModifier(ResourceModifier{ResourceType: ResourceQuantumData, Multiplier: dec("1.2"), Source: "pattern_triangle", CreatedAt: now})
	l.AddModifier(ResourceModifier{ResourceType: ResourceQuantumData, Multiplier: dec("1.5"), Source: "pattern_square", CreatedAt: now})
	l.AddModifier(ResourceModifier{ResourceType: ResourceQuantumData, Multiplier: dec("1.1"), Source: "levelup_b1", CreatedAt: now})

	if removed := l.RemoveModifiersBySource("pattern_"); removed != 2 {
		t.Errorf("removed %d pattern modifiers, want 2", removed)
	}
	mods := l.Modifiers()
	if len(mods) != 1 || mods[0].Source != "levelup_b1" {
		t.Errorf("surviving modifiers = %+v, want only levelup_b1", mods)
	}
}

func TestBeaconPlacementCostEscalation(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())

	cases := []struct {
		count int
		want  string
	}{
		{0, "50"},
		{1, "75"},
		{2, "112"}, // floor(50 * 1.5^2)
		{5, "379"}, // floor(50 * 1.5^5)
	}
	for _, tc := range cases {
		cost := l.BeaconPlacementCost(tc.count, SpecNone)
		got, ok := cost[ResourceQuantumData]
		if !ok {
			t.Fatalf("count=%d: cost missing quantum data entry", tc.count)
		}
		if !got.Equal(dec(tc.want)) {
			t.Errorf("count=%d: cost = %s, want %s", tc.count, got, tc.want)
		}
	}
}

func TestBeaconPlacementCostSurcharge(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	cost := l.BeaconPlacementCost(0, SpecEfficiency)
	if got := cost[ResourceQuantumData]; !got.Equal(dec("100")) {
		t.Errorf("efficiency surcharge cost = %s, want 100", got)
	}
}

func TestBeaconUpgradeCost(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	if got := l.BeaconUpgradeCost(1)[ResourceQuantumData]; !got.Equal(dec("25")) {
		t.Errorf("upgrade cost at level 1 = %s, want 25", got)
	}
	if got := l.BeaconUpgradeCost(3)[ResourceQuantumData]; !got.Equal(dec("81")) {
		t.Errorf("upgrade cost at level 3 = %s, want 81", got)
	}
}

func TestAddModifierDefaults(t *testing.T) {
	l := NewResourceLedger(DefaultBalance())
	id := l.AddModifier(ResourceModifier{
		ResourceType: ResourceQuantumData,
		FlatBonus:    dec("5"),
		Source:       "test_flat",
		CreatedAt:    time.Now(),
	})
	if id == "" {
		t.Fatal("expected a generated modifier id")
	}
	// Zero multiplier is treated as 1 so a flat-only modifier does not
	// zero the rate.
	got := l.ApplyModifiers(ResourceQuantumData, dec("10"), time.Now())
	if !got.Equal(dec("15")) {
		t.Errorf("flat-only modifier: got %s, want 15", got)
	}
}
