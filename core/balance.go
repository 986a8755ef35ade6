package core

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// BalanceConfig collects every tuning value of the simulation: rates,
// ranges, pattern multipliers, costs, probe timings. These are balance
// knobs, not structural constants, so they load from YAML with the
// compiled-in defaults below as fallback.
type BalanceConfig struct {
	World    WorldBalance                    `yaml:"world"`
	Beacons  map[BeaconKind]KindBalance      `yaml:"beacons"`
	Leveling LevelingBalance                 `yaml:"leveling"`
	Specs    map[Specialization]SpecBalance  `yaml:"specializations"`
	Patterns map[PatternShape]PatternBalance `yaml:"patterns"`
	Costs    CostBalance                     `yaml:"costs"`
	Offline  OfflineBalance                  `yaml:"offline"`
	Probes   ProbeBalance                    `yaml:"probes"`

	// ConnectionBonusPerLink is the per-connection generation bonus
	// (0.10 = +10% per established connection).
	ConnectionBonusPerLink float64 `yaml:"connection_bonus_per_link"`
}

// WorldBalance bounds the playfield and parameterises placement search.
type WorldBalance struct {
	Bounds Rect `yaml:"bounds"`

	// SafeMargin is the extra clearance (beyond minimum distance and
	// bounds) required by FindOptimalPositions candidates.
	SafeMargin float64 `yaml:"safe_margin"`

	// Spiral fallback search tuning.
	SpiralStartFactor float64 `yaml:"spiral_start_factor"` // * kind min distance
	SpiralGrowth      float64 `yaml:"spiral_growth"`       // ring radius multiplier
	SpiralDirections  int     `yaml:"spiral_directions"`   // compass points per ring
	MaxSampleAttempts int     `yaml:"max_sample_attempts"` // rejection-sampling budget
}

// KindBalance holds the per-kind base values every derived beacon
// formula starts from.
type KindBalance struct {
	MinDistance        float64                  `yaml:"min_distance"`
	BaseGenerationRate float64                  `yaml:"base_generation_rate"`
	BaseRange          float64                  `yaml:"base_range"`
	BaseMaxConnections int                      `yaml:"base_max_connections"`
	PrimaryResource    ResourceType             `yaml:"primary_resource"`
	SecondaryRates     map[ResourceType]float64 `yaml:"secondary_rates"`
	DeploySeconds      float64                  `yaml:"deploy_seconds"`
}

// LevelingBalance controls level growth and the specialization gate.
type LevelingBalance struct {
	MaxLevel          int     `yaml:"max_level"`
	AutoLevelInterval int     `yaml:"auto_level_interval"`
	RateGrowth        float64 `yaml:"rate_growth"`  // per level above 1
	RangeGrowth       float64 `yaml:"range_growth"` // per level above 1
	ConnectionsPer    int     `yaml:"levels_per_extra_connection"`

	// A successful upgrade grants a short-lived generation boost on
	// the beacon's primary resource.
	UpgradeBoostMultiplier float64 `yaml:"upgrade_boost_multiplier"`
	UpgradeBoostSeconds    float64 `yaml:"upgrade_boost_seconds"`
}

// SpecBalance is the effect of a chosen specialization.
type SpecBalance struct {
	RateMultiplier  float64 `yaml:"rate_multiplier"`
	RangeMultiplier float64 `yaml:"range_multiplier"`
	CostSurcharge   float64 `yaml:"cost_surcharge"`
}

// PatternBalance is one shape's bonus configuration.
type PatternBalance struct {
	Multiplier float64        `yaml:"multiplier"`
	Resources  []ResourceType `yaml:"resources"`
}

// CostBalance drives the escalating placement and upgrade costs.
type CostBalance struct {
	BaseBeaconCost     float64      `yaml:"base_beacon_cost"`
	CostResource       ResourceType `yaml:"cost_resource"`
	ScalingFactor      float64      `yaml:"scaling_factor"`
	UpgradeBaseCost    float64      `yaml:"upgrade_base_cost"`
	UpgradeScaling     float64      `yaml:"upgrade_scaling"`
	RemovalRefundShare float64      `yaml:"removal_refund_share"`
}

// OfflineBalance bounds idle catch-up accrual.
type OfflineBalance struct {
	ChunkSeconds   float64 `yaml:"chunk_seconds"`
	Efficiency     float64 `yaml:"efficiency"`
	MaxWindowHours float64 `yaml:"max_window_hours"`
}

// ProbeBalance parameterises the deployment pipeline.
type ProbeBalance struct {
	DefaultConcurrency int     `yaml:"default_concurrency"`
	MinConcurrency     int     `yaml:"min_concurrency"`
	MaxConcurrency     int     `yaml:"max_concurrency"`
	GraceSeconds       float64 `yaml:"grace_seconds"`
	ProgressEpsilon    float64 `yaml:"progress_epsilon"`
}

// DefaultBalance returns the shipped tuning values. Loaded YAML files
// override individual fields; anything left zero falls back to these.
func DefaultBalance() *BalanceConfig {
	return &BalanceConfig{
		World: WorldBalance{
			Bounds:            Rect{MinX: -2000, MinY: -2000, MaxX: 2000, MaxY: 2000},
			SafeMargin:        25,
			SpiralStartFactor: 0.8,
			SpiralGrowth:      1.3,
			SpiralDirections:  8,
			MaxSampleAttempts: 200,
		},
		Beacons: map[BeaconKind]KindBalance{
			KindPioneer: {
				MinDistance:        80,
				BaseGenerationRate: 1.0,
				BaseRange:          150,
				BaseMaxConnections: 3,
				PrimaryResource:    ResourceQuantumData,
				SecondaryRates: map[ResourceType]float64{
					ResourceEssenceFlux: 0.1,
				},
				DeploySeconds: 30,
			},
			KindHarvester: {
				MinDistance:        100,
				BaseGenerationRate: 1.5,
				BaseRange:          130,
				BaseMaxConnections: 2,
				PrimaryResource:    ResourceEssenceFlux,
				SecondaryRates: map[ResourceType]float64{
					ResourceQuantumData: 0.2,
				},
				DeploySeconds: 45,
			},
			KindArchitect: {
				MinDistance:        120,
				BaseGenerationRate: 0.8,
				BaseRange:          180,
				BaseMaxConnections: 5,
				PrimaryResource:    ResourceResonanceCrystal,
				SecondaryRates: map[ResourceType]float64{
					ResourceQuantumData: 0.1,
					ResourceEssenceFlux: 0.1,
				},
				DeploySeconds: 60,
			},
		},
		Leveling: LevelingBalance{
			MaxLevel:               10,
			AutoLevelInterval:      5,
			RateGrowth:             0.25,
			RangeGrowth:            0.10,
			ConnectionsPer:         2,
			UpgradeBoostMultiplier: 1.1,
			UpgradeBoostSeconds:    120,
		},
		Specs: map[Specialization]SpecBalance{
			SpecEfficiency: {RateMultiplier: 1.5, RangeMultiplier: 1.0, CostSurcharge: 2.0},
			SpecRange:      {RateMultiplier: 1.0, RangeMultiplier: 1.4, CostSurcharge: 2.5},
			SpecStability:  {RateMultiplier: 1.15, RangeMultiplier: 1.1, CostSurcharge: 3.0},
		},
		Patterns: map[PatternShape]PatternBalance{
			ShapeTriangle: {
				Multiplier: 1.2,
				Resources:  []ResourceType{ResourceQuantumData, ResourceResonanceCrystal},
			},
			ShapeSquare: {
				Multiplier: 1.5,
				Resources:  []ResourceType{ResourceEssenceFlux, ResourceResonanceCrystal},
			},
		},
		Costs: CostBalance{
			BaseBeaconCost:     50,
			CostResource:       ResourceQuantumData,
			ScalingFactor:      1.5,
			UpgradeBaseCost:    25,
			UpgradeScaling:     1.8,
			RemovalRefundShare: 0.5,
		},
		Offline: OfflineBalance{
			ChunkSeconds:   60,
			Efficiency:     0.5,
			MaxWindowHours: 8,
		},
		Probes: ProbeBalance{
			DefaultConcurrency: 3,
			MinConcurrency:     1,
			MaxConcurrency:     10,
			GraceSeconds:       10,
			ProgressEpsilon:    0.01,
		},
		ConnectionBonusPerLink: 0.10,
	}
}

// LoadBalance reads a YAML balance file and overlays it on the shipped
// defaults. It fails only on YAML / structural errors; missing sections
// keep their default values.
func LoadBalance(r io.Reader) (*BalanceConfig, error) {
	cfg := DefaultBalance()

	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("LoadBalance: decode failed: %w", err)
	}
	cfg.clampProbeBounds()
	return cfg, nil
}

// LoadBalanceFile is a convenience wrapper around LoadBalance. A missing
// file is not an error: the defaults are used unchanged.
func LoadBalanceFile(path string) (*BalanceConfig, error) {
	if path == "" {
		return DefaultBalance(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultBalance(), nil
		}
		return nil, fmt.Errorf("LoadBalanceFile: %w", err)
	}
	defer f.Close()
	return LoadBalance(f)
}

// Kind returns the balance block for a beacon kind, falling back to the
// pioneer block for unknown kinds so formulas never divide by zero.
func (c *BalanceConfig) Kind(kind BeaconKind) KindBalance {
	if kb, ok := c.Beacons[kind]; ok {
		return kb
	}
	return c.Beacons[KindPioneer]
}

// MinimumDistance returns the placement separation required by a kind.
func (c *BalanceConfig) MinimumDistance(kind BeaconKind) float64 {
	return c.Kind(kind).MinDistance
}

func (c *BalanceConfig) clampProbeBounds() {
	if c.Probes.MinConcurrency < 1 {
		c.Probes.MinConcurrency = 1
	}
	if c.Probes.MaxConcurrency < c.Probes.MinConcurrency {
		c.Probes.MaxConcurrency = c.Probes.MinConcurrency
	}
	if c.Probes.DefaultConcurrency < c.Probes.MinConcurrency {
		c.Probes.DefaultConcurrency = c.Probes.MinConcurrency
	}
	if c.Probes.DefaultConcurrency > c.Probes.MaxConcurrency {
		c.Probes.DefaultConcurrency = c.Probes.MaxConcurrency
	}
}

// ClampConcurrency forces a requested probe concurrency into the
// configured [min, max] window.
func (c *BalanceConfig) ClampConcurrency(n int) int {
	if n < c.Probes.MinConcurrency {
		return c.Probes.MinConcurrency
	}
	if n > c.Probes.MaxConcurrency {
		return c.Probes.MaxConcurrency
	}
	return n
}
