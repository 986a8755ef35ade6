package core

import (
	"math/rand"
	"testing"
	"time"
)

func newTestValidator() *PlacementValidator {
	return NewPlacementValidator(DefaultBalance())
}

func addTestBeacon(t *testing.T, v *PlacementValidator, kind BeaconKind, pos Point2D) *Beacon {
	t.Helper()
	b := NewBeacon(DefaultBalance(), kind, pos, 1, time.Now())
	if err := v.AddBeacon(b); err != nil {
		t.Fatalf("AddBeacon(%v): %v", pos, err)
	}
	return b
}

func TestIsValidPositionBounds(t *testing.T) {
	v := newTestValidator()

	res := v.IsValidPosition(Point2D{X: 3000, Y: 0}, KindPioneer, "")
	if res.IsValid {
		t.Fatal("expected out-of-bounds position to be rejected")
	}
	if !res.OutOfBoundsX || res.OutOfBoundsY {
		t.Errorf("expected only X out of bounds, got X=%v Y=%v", res.OutOfBoundsX, res.OutOfBoundsY)
	}
	if len(res.Reasons) == 0 {
		t.Error("expected a human-readable rejection reason")
	}

	res = v.IsValidPosition(Point2D{X: -2500, Y: 2500}, KindPioneer, "")
	if !res.OutOfBoundsX || !res.OutOfBoundsY {
		t.Errorf("expected both axes out of bounds, got X=%v Y=%v", res.OutOfBoundsX, res.OutOfBoundsY)
	}
}

func TestIsValidPositionMinDistance(t *testing.T) {
	v := newTestValidator()
	existing := addTestBeacon(t, v, KindPioneer, Point2D{X: 0, Y: 0})

	res := v.IsValidPosition(Point2D{X: 10, Y: 10}, KindPioneer, "")
	if res.IsValid {
		t.Fatal("expected position 14 units from an existing beacon to be rejected")
	}
	viol := res.MinDistanceViolation
	if viol == nil {
		t.Fatal("expected a MinDistanceViolation")
	}
	if viol.BeaconID != existing.ID {
		t.Errorf("violation names beacon %q, want %q", viol.BeaconID, existing.ID)
	}
	if viol.MinimumRequired != 80 {
		t.Errorf("MinimumRequired = %v, want 80", viol.MinimumRequired)
	}

	if res := v.IsValidPosition(Point2D{X: 100, Y: 0}, KindPioneer, ""); !res.IsValid {
		t.Errorf("expected position at distance 100 to be accepted: %v", res.Reasons)
	}
}

func TestIsValidPositionExclude(t *testing.T) {
	v := newTestValidator()
	b := addTestBeacon(t, v, KindPioneer, Point2D{X: 0, Y: 0})

	// Moving a beacon a few units must not collide with itself.
	if res := v.IsValidPosition(Point2D{X: 5, Y: 0}, KindPioneer, b.ID); !res.IsValid {
		t.Errorf("expected self-excluded validation to pass: %v", res.Reasons)
	}
}

func TestKindSpecificSeparation(t *testing.T) {
	v := newTestValidator()
	addTestBeacon(t, v, KindPioneer, Point2D{X: 0, Y: 0})

	// 90 units clears the pioneer separation (80) but not the
	// architect separation (120).
	if res := v.IsValidPosition(Point2D{X: 90, Y: 0}, KindPioneer, ""); !res.IsValid {
		t.Errorf("pioneer at 90 units should pass: %v", res.Reasons)
	}
	if res := v.IsValidPosition(Point2D{X: 90, Y: 0}, KindArchitect, ""); res.IsValid {
		t.Error("architect at 90 units should fail its 120-unit separation")
	}
}

func TestSeparationAcrossGridCells(t *testing.T) {
	v := newTestValidator()
	addTestBeacon(t, v, KindPioneer, Point2D{X: 144, Y: 0})

	// A conflict just across a grid cell boundary is still caught.
	if res := v.IsValidPosition(Point2D{X: 146, Y: 0}, KindPioneer, ""); res.IsValid {
		t.Error("2 units apart across a cell boundary should violate separation")
	}
	// The margin-widened check sees beacons a full cell away: 144 units
	// is under the architect's 120 + 25 threshold.
	if v.IsSafePosition(Point2D{X: 288, Y: 0}, KindArchitect) {
		t.Error("architect at 144 units should fail the widened check")
	}
}

func TestFindNearestBeacon(t *testing.T) {
	v := newTestValidator()
	if got := v.FindNearestBeacon(Point2D{}, ""); got != nil {
		t.Fatalf("empty index should return nil, got %+v", got)
	}

	near := addTestBeacon(t, v, KindPioneer, Point2D{X: 0, Y: 0})
	addTestBeacon(t, v, KindPioneer, Point2D{X: 200, Y: 0})

	got := v.FindNearestBeacon(Point2D{X: 60, Y: 0}, "")
	if got == nil {
		t.Fatal("expected a nearest beacon")
	}
	if got.Beacon.ID != near.ID {
		t.Errorf("nearest = %q, want %q", got.Beacon.ID, near.ID)
	}
	if got.Distance != 60 {
		t.Errorf("distance = %v, want 60", got.Distance)
	}

	// Excluding the nearest yields the next one.
	got = v.FindNearestBeacon(Point2D{X: 60, Y: 0}, near.ID)
	if got == nil || got.Beacon.ID == near.ID {
		t.Fatalf("expected the excluded beacon to be skipped, got %+v", got)
	}
}

func TestFindOptimalPositions(t *testing.T) {
	v := newTestValidator()
	cfg := DefaultBalance()
	addTestBeacon(t, v, KindPioneer, Point2D{X: 0, Y: 0})

	rng := rand.New(rand.NewSource(7))
	region := Region{Center: Point2D{X: 0, Y: 0}, Radius: 400}
	positions := v.FindOptimalPositions(region, KindPioneer, 3, rng)

	if len(positions) == 0 {
		t.Fatal("expected at least one sampled position")
	}
	minSep := cfg.MinimumDistance(KindPioneer) + cfg.World.SafeMargin
	for i, p := range positions {
		if !v.IsSafePosition(p, KindPioneer) {
			t.Errorf("position %d (%v) is not safe", i, p)
		}
		for j := i + 1; j < len(positions); j++ {
			if d := p.DistanceTo(positions[j]); d < minSep {
				t.Errorf("positions %d and %d only %v apart, want >= %v", i, j, d, minSep)
			}
		}
	}
}

func TestFindOptimalPositionsDegenerateInputs(t *testing.T) {
	v := newTestValidator()
	if got := v.FindOptimalPositions(Region{Radius: 100}, KindPioneer, 0, nil); got != nil {
		t.Errorf("count=0 should return nil, got %v", got)
	}
	if got := v.FindOptimalPositions(Region{Radius: 0}, KindPioneer, 3, nil); got != nil {
		t.Errorf("radius=0 should return nil, got %v", got)
	}
}

func TestUpdateBeaconsBulkSwap(t *testing.T) {
	v := newTestValidator()
	addTestBeacon(t, v, KindPioneer, Point2D{X: 0, Y: 0})

	cfg := DefaultBalance()
	now := time.Now()
	replacement := []*Beacon{
		NewBeacon(cfg, KindHarvester, Point2D{X: 500, Y: 0}, 1, now),
		NewBeacon(cfg, KindHarvester, Point2D{X: 700, Y: 0}, 1, now),
	}
	if err := v.UpdateBeacons(replacement); err != nil {
		t.Fatalf("UpdateBeacons: %v", err)
	}
	if v.Count() != 2 {
		t.Errorf("Count = %d, want 2", v.Count())
	}
	if _, ok := v.GetBeacon(replacement[0].ID); !ok {
		t.Error("replacement beacon missing after bulk swap")
	}
}

func TestRemoveBeaconErrors(t *testing.T) {
	v := newTestValidator()
	if err := v.RemoveBeacon("missing"); err == nil {
		t.Error("expected error removing an unknown beacon")
	}
	if err := v.RemoveBeacon(""); err == nil {
		t.Error("expected error removing with an empty id")
	}
}
