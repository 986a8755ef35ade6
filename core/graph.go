package core

import "sort"

// ConnectionEdge is one undirected adjacency between two beacons.
type ConnectionEdge struct {
	A, B     string
	Distance float64
}

// ConnectionGraph rebuilds the undirected adjacency between beacons
// from pairwise range checks. Recomputation is O(n²) from scratch on
// every beacon-set change: beacon counts stay small, and a full rebuild
// can never carry stale edges the way incremental maintenance can.
type ConnectionGraph struct {
	cfg *BalanceConfig
}

// NewConnectionGraph creates a graph manager bound to a balance config.
func NewConnectionGraph(cfg *BalanceConfig) *ConnectionGraph {
	return &ConnectionGraph{cfg: cfg}
}

// Rebuild clears every beacon's connection set and reconnects all
// active pairs whose mutual distance is within the asking beacon's
// range, provided both sides have spare capacity. Beacons are visited
// in ID order so capacity fills deterministically.
func (g *ConnectionGraph) Rebuild(v *PlacementValidator) []ConnectionEdge {
	beacons := v.all()
	sort.Slice(beacons, func(i, j int) bool { return beacons[i].ID < beacons[j].ID })

	for _, b := range beacons {
		b.Connections = make(map[string]struct{})
	}

	var edges []ConnectionEdge
	for i, a := range beacons {
		if !a.IsActive() {
			continue
		}
		maxA := a.MaxConnections(g.cfg)
		rangeA := a.ConnectionRange(g.cfg)
		for j := i + 1; j < len(beacons); j++ {
			b := beacons[j]
			if !b.IsActive() {
				continue
			}
			if len(a.Connections) >= maxA {
				break
			}
			if len(b.Connections) >= b.MaxConnections(g.cfg) {
				continue
			}
			d := a.Position.DistanceTo(b.Position)
			// Either side may "ask": the pair connects when the
			// distance fits at least one beacon's reach.
			if d > rangeA && d > b.ConnectionRange(g.cfg) {
				continue
			}
			a.Connections[b.ID] = struct{}{}
			b.Connections[a.ID] = struct{}{}
			edges = append(edges, ConnectionEdge{A: a.ID, B: b.ID, Distance: d})
		}
	}
	return edges
}

// Disconnect removes one edge from both endpoints' connection sets.
func (g *ConnectionGraph) Disconnect(v *PlacementValidator, idA, idB string) {
	a := v.get(idA)
	b := v.get(idB)
	if a != nil {
		delete(a.Connections, idB)
	}
	if b != nil {
		delete(b.Connections, idA)
	}
}
