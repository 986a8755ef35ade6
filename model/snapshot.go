// Package model holds the plain-data shapes exchanged with the storage
// collaborator. The simulation core emits and consumes these records;
// compression, versioning and checksums are the collaborator's concern.
package model

import "time"

// BeaconRecord is one beacon as it appears in a save file.
type BeaconRecord struct {
	ID             string   `json:"id"`
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Kind           string   `json:"kind"`
	Level          int      `json:"level"`
	Specialization string   `json:"specialization"`
	Status         string   `json:"status"`
	Connections    []string `json:"connections,omitempty"`

	GenerationRate          float64 `json:"generation_rate"`
	TotalResourcesGenerated float64 `json:"total_resources_generated"`

	CreatedAt        time.Time  `json:"created_at"`
	LastUpgraded     time.Time  `json:"last_upgraded"`
	UpgradePendingAt *time.Time `json:"upgrade_pending_at,omitempty"`
}

// LedgerRecord carries per-resource balances as decimal strings plus
// the last mutation timestamp.
type LedgerRecord struct {
	Balances    map[string]string `json:"balances"`
	LastUpdated time.Time         `json:"last_updated"`
}

// ModifierRecord is one persisted resource modifier. Expired modifiers
// are dropped at load time rather than saved-state-scrubbed.
type ModifierRecord struct {
	ID              string    `json:"id"`
	ResourceType    string    `json:"resource_type"`
	Multiplier      string    `json:"multiplier"`
	FlatBonus       string    `json:"flat_bonus,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProbeRecord is one in-flight or queued probe.
type ProbeRecord struct {
	ID                    string     `json:"id"`
	Kind                  string     `json:"kind"`
	Status                string     `json:"status"`
	Priority              int        `json:"priority"`
	StartX                float64    `json:"start_x"`
	StartY                float64    `json:"start_y"`
	TargetX               float64    `json:"target_x"`
	TargetY               float64    `json:"target_y"`
	CreatedAt             time.Time  `json:"created_at"`
	DeploymentStartedAt   *time.Time `json:"deployment_started_at,omitempty"`
	DeploymentCompletedAt *time.Time `json:"deployment_completed_at,omitempty"`
	TravelProgress        float64    `json:"travel_progress"`
	AccelerationBonus     float64    `json:"acceleration_bonus"`
}

// SaveGame is the complete snapshot the core emits on save and accepts
// on load.
type SaveGame struct {
	SavedAt   time.Time        `json:"saved_at"`
	Beacons   []BeaconRecord   `json:"beacons"`
	Ledger    LedgerRecord     `json:"ledger"`
	Modifiers []ModifierRecord `json:"modifiers,omitempty"`
	Probes    []ProbeRecord    `json:"probes,omitempty"`
}
