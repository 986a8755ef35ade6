package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PatternShape names a closed geometric subgraph the detector knows.
type PatternShape string

const (
	ShapeTriangle PatternShape = "triangle"
	ShapeSquare   PatternShape = "square"
)

// PatternBonus describes one detected pattern and the bonus it grants.
// Bonuses are recomputed wholesale on every beacon-set change and never
// mutated in place.
type PatternBonus struct {
	ID              string
	BeaconIDs       []string
	Shape           PatternShape
	BonusMultiplier decimal.Decimal
	ResourceTypes   []ResourceType
}

// PatternDetector scans the connectivity graph for closed cycles of a
// target size. The brute-force C(n,3)/C(n,4) enumeration is an explicit
// scalability ceiling, acceptable while beacon counts stay in the low
// hundreds.
type PatternDetector struct {
	cfg *BalanceConfig
}

// NewPatternDetector creates a detector bound to a balance config.
func NewPatternDetector(cfg *BalanceConfig) *PatternDetector {
	return &PatternDetector{cfg: cfg}
}

// Detect enumerates triangle and square patterns over the active,
// connected beacon set. Pattern IDs are canonical (sorted member IDs)
// so the same subset can never be emitted twice under a different
// ordering.
func (d *PatternDetector) Detect(v *PlacementValidator) []PatternBonus {
	beacons := v.all()

	ids := make([]string, 0, len(beacons))
	adj := make(map[string]map[string]struct{}, len(beacons))
	for _, b := range beacons {
		if !b.IsActive() {
			continue
		}
		ids = append(ids, b.ID)
		peers := make(map[string]struct{}, len(b.Connections))
		for p := range b.Connections {
			peers[p] = struct{}{}
		}
		adj[b.ID] = peers
	}
	sort.Strings(ids)

	var out []PatternBonus
	out = append(out, d.detectTriangles(ids, adj)...)
	out = append(out, d.detectSquares(ids, adj)...)
	return out
}

// detectTriangles finds all triples where each pair is connected.
func (d *PatternDetector) detectTriangles(ids []string, adj map[string]map[string]struct{}) []PatternBonus {
	bal, ok := d.cfg.Patterns[ShapeTriangle]
	if !ok {
		return nil
	}

	var out []PatternBonus
	n := len(ids)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if !connected(adj, ids[i], ids[j]) {
				continue
			}
			for k := j + 1; k < n; k++ {
				if connected(adj, ids[i], ids[k]) && connected(adj, ids[j], ids[k]) {
					members := []string{ids[i], ids[j], ids[k]}
					out = append(out, d.bonusFor(ShapeTriangle, bal, members))
				}
			}
		}
	}
	return out
}

// detectSquares finds all quadruples forming a 4-cycle: every member
// has exactly two connections within the quadruple. That rules out both
// sparse quads and complete K4 subgraphs.
func (d *PatternDetector) detectSquares(ids []string, adj map[string]map[string]struct{}) []PatternBonus {
	bal, ok := d.cfg.Patterns[ShapeSquare]
	if !ok {
		return nil
	}

	var out []PatternBonus
	n := len(ids)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				for m := k + 1; m < n; m++ {
					quad := []string{ids[i], ids[j], ids[k], ids[m]}
					if isFourCycle(adj, quad) {
						out = append(out, d.bonusFor(ShapeSquare, bal, quad))
					}
				}
			}
		}
	}
	return out
}

func (d *PatternDetector) bonusFor(shape PatternShape, bal PatternBalance, members []string) PatternBonus {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return PatternBonus{
		ID:              string(shape) + "_" + strings.Join(sorted, "_"),
		BeaconIDs:       sorted,
		Shape:           shape,
		BonusMultiplier: decimal.NewFromFloat(bal.Multiplier),
		ResourceTypes:   append([]ResourceType(nil), bal.Resources...),
	}
}

func connected(adj map[string]map[string]struct{}, a, b string) bool {
	peers, ok := adj[a]
	if !ok {
		return false
	}
	_, ok = peers[b]
	return ok
}

func isFourCycle(adj map[string]map[string]struct{}, quad []string) bool {
	for _, member := range quad {
		deg := 0
		for _, other := range quad {
			if other != member && connected(adj, member, other) {
				deg++
			}
		}
		if deg != 2 {
			return false
		}
	}
	return true
}

// AppliesTo reports whether the bonus covers a resource type.
func (p PatternBonus) AppliesTo(rt ResourceType) bool {
	for _, t := range p.ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}
