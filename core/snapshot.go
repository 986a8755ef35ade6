package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emberforge/beaconfield-sim/model"
)

// Snapshot captures the full session as plain save-file records:
// beacons with their connections, decimal-exact balances, unexpired
// modifiers, and the probe pipeline.
func (e *Engine) Snapshot(now time.Time) model.SaveGame {
	save := model.SaveGame{SavedAt: now}

	for _, b := range e.Validator.all() {
		conns := make([]string, 0, len(b.Connections))
		for id := range b.Connections {
			conns = append(conns, id)
		}
		rec := model.BeaconRecord{
			ID:                      b.ID,
			X:                       b.Position.X,
			Y:                       b.Position.Y,
			Kind:                    string(b.Kind),
			Level:                   b.Level,
			Specialization:          string(b.Specialization),
			Status:                  string(b.Status),
			Connections:             conns,
			GenerationRate:          b.GenerationRate,
			TotalResourcesGenerated: b.TotalResourcesGenerated,
			CreatedAt:               b.CreatedAt,
			LastUpgraded:            b.LastUpgraded,
		}
		if b.UpgradePendingAt != nil {
			t := *b.UpgradePendingAt
			rec.UpgradePendingAt = &t
		}
		save.Beacons = append(save.Beacons, rec)
	}

	save.Ledger = model.LedgerRecord{
		Balances:    make(map[string]string),
		LastUpdated: e.Ledger.LastUpdated(),
	}
	for rt, bal := range e.Ledger.Balances() {
		save.Ledger.Balances[string(rt)] = bal.String()
	}

	for _, m := range e.Ledger.Modifiers() {
		if m.expired(now) {
			continue
		}
		save.Modifiers = append(save.Modifiers, model.ModifierRecord{
			ID:              m.ID,
			ResourceType:    string(m.ResourceType),
			Multiplier:      m.Multiplier.String(),
			FlatBonus:       m.FlatBonus.String(),
			DurationSeconds: m.Duration.Seconds(),
			Source:          m.Source,
			CreatedAt:       m.CreatedAt,
		})
	}

	for _, p := range e.Probes.Snapshots() {
		rec := model.ProbeRecord{
			ID:                p.ID,
			Kind:              string(p.Kind),
			Status:            string(p.Status),
			Priority:          p.Priority,
			StartX:            p.StartPosition.X,
			StartY:            p.StartPosition.Y,
			TargetX:           p.TargetPosition.X,
			TargetY:           p.TargetPosition.Y,
			CreatedAt:         p.CreatedAt,
			TravelProgress:    p.TravelProgress,
			AccelerationBonus: p.AccelerationBonus,
		}
		if p.DeploymentStartedAt != nil {
			t := *p.DeploymentStartedAt
			rec.DeploymentStartedAt = &t
		}
		if p.DeploymentCompletedAt != nil {
			t := *p.DeploymentCompletedAt
			rec.DeploymentCompletedAt = &t
		}
		save.Probes = append(save.Probes, rec)
	}
	return save
}

// Restore replaces the session state with the saved records. Derived
// fields (generation rates, the connection graph, pattern bonuses) are
// recomputed from the loaded beacons rather than trusted from the file;
// expired modifiers are dropped.
func (e *Engine) Restore(save model.SaveGame, now time.Time) error {
	beacons := make([]*Beacon, 0, len(save.Beacons))
	for _, rec := range save.Beacons {
		b, err := beaconFromRecord(e.cfg, rec)
		if err != nil {
			return err
		}
		beacons = append(beacons, b)
	}
	if err := e.Validator.UpdateBeacons(beacons); err != nil {
		return fmt.Errorf("Restore: %w", err)
	}

	for _, rt := range AllResourceTypes() {
		e.Ledger.SetBalance(rt, decimal.Zero, now)
	}
	for name, raw := range save.Ledger.Balances {
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("Restore: balance %q: %w", name, err)
		}
		e.Ledger.SetBalance(ResourceType(name), bal, now)
	}

	e.Ledger.RemoveModifiersBySource("")
	for _, rec := range save.Modifiers {
		m, err := modifierFromRecord(rec)
		if err != nil {
			return err
		}
		if m.expired(now) {
			continue
		}
		e.Ledger.AddModifier(m)
	}

	probes := make([]*ProbeInstance, 0, len(save.Probes))
	for _, rec := range save.Probes {
		probes = append(probes, probeFromRecord(rec))
	}
	e.Probes.restore(probes)

	e.orchestrator.RecomputeDerived(now)

	e.mu.Lock()
	e.lastTick = time.Time{}
	e.mu.Unlock()
	return nil
}

func beaconFromRecord(cfg *BalanceConfig, rec model.BeaconRecord) (*Beacon, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: beacon record without id", ErrBeaconBadInput)
	}
	b := &Beacon{
		ID:                      rec.ID,
		Position:                Point2D{X: rec.X, Y: rec.Y},
		Kind:                    BeaconKind(rec.Kind),
		Level:                   rec.Level,
		Specialization:          Specialization(rec.Specialization),
		Status:                  BeaconStatus(rec.Status),
		Connections:             make(map[string]struct{}, len(rec.Connections)),
		TotalResourcesGenerated: rec.TotalResourcesGenerated,
		CreatedAt:               rec.CreatedAt,
		LastUpgraded:            rec.LastUpgraded,
	}
	if b.Level < 1 {
		b.Level = 1
	}
	if b.Specialization == "" {
		b.Specialization = SpecNone
	}
	if b.Status == "" {
		b.Status = StatusActive
	}
	if rec.UpgradePendingAt != nil {
		t := *rec.UpgradePendingAt
		b.UpgradePendingAt = &t
	}
	b.GenerationRate = b.computeGenerationRate(cfg)
	return b, nil
}

func modifierFromRecord(rec model.ModifierRecord) (ResourceModifier, error) {
	mult, err := decimal.NewFromString(rec.Multiplier)
	if err != nil {
		return ResourceModifier{}, fmt.Errorf("Restore: modifier %q multiplier: %w", rec.ID, err)
	}
	flat := decimal.Zero
	if rec.FlatBonus != "" {
		flat, err = decimal.NewFromString(rec.FlatBonus)
		if err != nil {
			return ResourceModifier{}, fmt.Errorf("Restore: modifier %q flat bonus: %w", rec.ID, err)
		}
	}
	return ResourceModifier{
		ID:           rec.ID,
		ResourceType: ResourceType(rec.ResourceType),
		Multiplier:   mult,
		FlatBonus:    flat,
		Duration:     time.Duration(rec.DurationSeconds * float64(time.Second)),
		Source:       rec.Source,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func probeFromRecord(rec model.ProbeRecord) *ProbeInstance {
	p := &ProbeInstance{
		ID:                rec.ID,
		Kind:              BeaconKind(rec.Kind),
		Status:            ProbeStatus(rec.Status),
		Priority:          rec.Priority,
		StartPosition:     Point2D{X: rec.StartX, Y: rec.StartY},
		TargetPosition:    Point2D{X: rec.TargetX, Y: rec.TargetY},
		CreatedAt:         rec.CreatedAt,
		TravelProgress:    rec.TravelProgress,
		AccelerationBonus: rec.AccelerationBonus,
	}
	if p.AccelerationBonus < 1 {
		p.AccelerationBonus = 1
	}
	if rec.DeploymentStartedAt != nil {
		t := *rec.DeploymentStartedAt
		p.DeploymentStartedAt = &t
	}
	if rec.DeploymentCompletedAt != nil {
		t := *rec.DeploymentCompletedAt
		p.DeploymentCompletedAt = &t
	}
	return p
}

// Save writes the session snapshot as indented JSON.
func (e *Engine) Save(w io.Writer, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.Snapshot(now)); err != nil {
		return fmt.Errorf("Save: encode failed: %w", err)
	}
	return nil
}

// Load reads a JSON snapshot and restores the session from it.
func (e *Engine) Load(r io.Reader, now time.Time) error {
	var save model.SaveGame
	dec := json.NewDecoder(r)
	if err := dec.Decode(&save); err != nil {
		return fmt.Errorf("Load: decode failed: %w", err)
	}
	return e.Restore(save, now)
}
