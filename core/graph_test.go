package core

import (
	"testing"
	"time"
)

func rebuildWith(t *testing.T, kind BeaconKind, positions ...Point2D) (*PlacementValidator, []*Beacon, []ConnectionEdge) {
	t.Helper()
	cfg := DefaultBalance()
	v := NewPlacementValidator(cfg)
	now := time.Now()

	beacons := make([]*Beacon, 0, len(positions))
	for _, pos := range positions {
		b := NewBeacon(cfg, kind, pos, 1, now)
		if err := v.AddBeacon(b); err != nil {
			t.Fatalf("AddBeacon(%v): %v", pos, err)
		}
		beacons = append(beacons, b)
	}
	edges := NewConnectionGraph(cfg).Rebuild(v)
	return v, beacons, edges
}

func TestRebuildConnectsBeaconsInRange(t *testing.T) {
	// 100 units apart, well inside the pioneer range of 150.
	_, beacons, edges := rebuildWith(t, KindPioneer,
		Point2D{X: 0, Y: 0},
		Point2D{X: 100, Y: 0},
	)
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	if edges[0].Distance != 100 {
		t.Errorf("edge distance = %v, want 100", edges[0].Distance)
	}
	for _, b := range beacons {
		if len(b.Connections) != 1 {
			t.Errorf("beacon %s has %d connections, want 1", b.ID, len(b.Connections))
		}
	}
}

func TestRebuildRespectsRange(t *testing.T) {
	// 400 units apart exceeds every kind's reach at level 1.
	_, beacons, edges := rebuildWith(t, KindPioneer,
		Point2D{X: 0, Y: 0},
		Point2D{X: 400, Y: 0},
	)
	if len(edges) != 0 {
		t.Fatalf("edges = %d, want 0", len(edges))
	}
	for _, b := range beacons {
		if len(b.Connections) != 0 {
			t.Errorf("beacon %s has %d connections, want 0", b.ID, len(b.Connections))
		}
	}
}

func TestRebuildRespectsCapacity(t *testing.T) {
	// Harvesters cap at 2 connections. Three outer harvesters sit in
	// range of the center but out of range of each other, so only the
	// center can connect, and only twice.
	_, beacons, edges := rebuildWith(t, KindHarvester,
		Point2D{X: 0, Y: 0},
		Point2D{X: 110, Y: 0},
		Point2D{X: -110, Y: 0},
		Point2D{X: 0, Y: 110},
	)
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(edges))
	}
	center := beacons[0]
	if len(center.Connections) != 2 {
		t.Errorf("center has %d connections, want 2", len(center.Connections))
	}
}

func TestRebuildSkipsInactiveBeacons(t *testing.T) {
	cfg := DefaultBalance()
	v := NewPlacementValidator(cfg)
	now := time.Now()

	a := NewBeacon(cfg, KindPioneer, Point2D{X: 0, Y: 0}, 1, now)
	b := NewBeacon(cfg, KindPioneer, Point2D{X: 100, Y: 0}, 1, now)
	b.Status = StatusCorrupted
	if err := v.AddBeacon(a); err != nil {
		t.Fatal(err)
	}
	if err := v.AddBeacon(b); err != nil {
		t.Fatal(err)
	}

	edges := NewConnectionGraph(cfg).Rebuild(v)
	if len(edges) != 0 {
		t.Fatalf("edges = %d, want 0 with an inactive endpoint", len(edges))
	}
}

func TestRebuildClearsStaleEdges(t *testing.T) {
	cfg := DefaultBalance()
	v := NewPlacementValidator(cfg)
	g := NewConnectionGraph(cfg)
	now := time.Now()

	a := NewBeacon(cfg, KindPioneer, Point2D{X: 0, Y: 0}, 1, now)
	b := NewBeacon(cfg, KindPioneer, Point2D{X: 100, Y: 0}, 1, now)
	for _, beacon := range []*Beacon{a, b} {
		if err := v.AddBeacon(beacon); err != nil {
			t.Fatal(err)
		}
	}
	if edges := g.Rebuild(v); len(edges) != 1 {
		t.Fatalf("setup edges = %d, want 1", len(edges))
	}

	// Move b out of range; the rebuild must drop the old edge.
	if err := v.RemoveBeacon(b.ID); err != nil {
		t.Fatal(err)
	}
	moved := b.clone()
	moved.Position = Point2D{X: 1000, Y: 0}
	if err := v.AddBeacon(moved); err != nil {
		t.Fatal(err)
	}

	if edges := g.Rebuild(v); len(edges) != 0 {
		t.Fatalf("edges after move = %d, want 0", len(edges))
	}
	if len(a.Connections) != 0 {
		t.Errorf("beacon a kept %d stale connections", len(a.Connections))
	}
}

func TestDisconnect(t *testing.T) {
	v, beacons, edges := rebuildWith(t, KindPioneer,
		Point2D{X: 0, Y: 0},
		Point2D{X: 100, Y: 0},
	)
	if len(edges) != 1 {
		t.Fatalf("setup edges = %d, want 1", len(edges))
	}

	NewConnectionGraph(DefaultBalance()).Disconnect(v, beacons[0].ID, beacons[1].ID)
	if len(beacons[0].Connections) != 0 || len(beacons[1].Connections) != 0 {
		t.Error("expected both endpoints to forget the edge")
	}
}
