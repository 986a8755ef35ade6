package core

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProbeStatus is a probe's pipeline state.
type ProbeStatus string

const (
	ProbeQueued    ProbeStatus = "queued"
	ProbeLaunching ProbeStatus = "launching"
	ProbeDeployed  ProbeStatus = "deployed"
)

// ProbeInstance is one deployment job. Created queued; promoted to
// launching when a concurrency slot frees; deployed when its scaled
// countdown elapses; retained briefly afterwards for UI visibility.
type ProbeInstance struct {
	ID       string
	Kind     BeaconKind
	Status   ProbeStatus
	Priority int

	StartPosition  Point2D
	TargetPosition Point2D

	CreatedAt             time.Time
	DeploymentStartedAt   *time.Time
	DeploymentCompletedAt *time.Time

	// TravelProgress ∈ [0,1], advanced only when it moves more than
	// the configured epsilon to avoid redundant notifications.
	TravelProgress float64

	// AccelerationBonus >= 1 divides the kind's deployment duration.
	AccelerationBonus float64
}

// ProbeSnapshot is the exported copy of a probe.
type ProbeSnapshot struct {
	ID                    string
	Kind                  BeaconKind
	Status                ProbeStatus
	Priority              int
	StartPosition         Point2D
	TargetPosition        Point2D
	CreatedAt             time.Time
	DeploymentStartedAt   *time.Time
	DeploymentCompletedAt *time.Time
	TravelProgress        float64
	AccelerationBonus     float64
}

// ProbeDeployment is the payload handed to the deployment handler and
// the probe_deployed event, exactly once per completed probe.
// CompletedAt is the simulation time of the tick that finished the
// probe, which may run ahead of the wall clock under acceleration.
type ProbeDeployment struct {
	ProbeID        string
	Kind           BeaconKind
	TargetPosition Point2D
	CompletedAt    time.Time
}

// DeploymentHandler consumes completed probes. The pipeline guarantees
// a single invocation per probe; it does not retry placement itself.
type DeploymentHandler func(ProbeDeployment)

// ProbeManager runs the queue + bounded-concurrency scheduler. The
// concurrency cap is an admission policy, not a thread concern: ticks
// run to completion on the simulation loop.
type ProbeManager struct {
	mu  sync.Mutex
	cfg *BalanceConfig

	queue    []*ProbeInstance // kept sorted by descending priority, stable
	inFlight map[string]*ProbeInstance
	deployed []*ProbeInstance

	concurrency int
	fired       map[string]struct{}

	handler DeploymentHandler
	events  EventSink
}

// NewProbeManager creates a pipeline with the configured default
// concurrency cap.
func NewProbeManager(cfg *BalanceConfig, handler DeploymentHandler, events EventSink) *ProbeManager {
	if events == nil {
		events = NoopSink{}
	}
	return &ProbeManager{
		cfg:         cfg,
		inFlight:    make(map[string]*ProbeInstance),
		fired:       make(map[string]struct{}),
		concurrency: cfg.Probes.DefaultConcurrency,
		handler:     handler,
		events:      events,
	}
}

// Enqueue constructs a queued probe and inserts it by priority.
func (pm *ProbeManager) Enqueue(kind BeaconKind, start, target Point2D, priority int, now time.Time) ProbeSnapshot {
	p := &ProbeInstance{
		ID:                uuid.NewString(),
		Kind:              kind,
		Status:            ProbeQueued,
		Priority:          priority,
		StartPosition:     start,
		TargetPosition:    target,
		CreatedAt:         now,
		AccelerationBonus: 1,
	}

	pm.mu.Lock()
	pm.queue = append(pm.queue, p)
	sort.SliceStable(pm.queue, func(i, j int) bool {
		return pm.queue[i].Priority > pm.queue[j].Priority
	})
	snap := p.snapshot()
	pm.mu.Unlock()

	pm.events.Publish(Event{Kind: EventProbeQueued, At: now, Payload: snap})
	return snap
}

// SetConcurrency adjusts the launch cap, clamped to the configured
// window.
func (pm *ProbeManager) SetConcurrency(n int) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.concurrency = pm.cfg.ClampConcurrency(n)
	return pm.concurrency
}

// Accelerate applies a manual acceleration bonus to a launching or
// queued probe. The bonus never drops below 1.
func (pm *ProbeManager) Accelerate(id string, bonus float64) bool {
	if bonus < 1 {
		bonus = 1
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.inFlight[id]; ok {
		p.AccelerationBonus = bonus
		return true
	}
	for _, p := range pm.queue {
		if p.ID == id {
			p.AccelerationBonus = bonus
			return true
		}
	}
	return false
}

// Tick runs one scheduler pass: promote queued probes into free launch
// slots, advance launching probes, fire completions, and discard
// deployed probes past the grace period.
func (pm *ProbeManager) Tick(now time.Time) {
	var launched []ProbeSnapshot
	var progressed []ProbeSnapshot
	var completed []ProbeDeployment
	var completedSnaps []ProbeSnapshot

	pm.mu.Lock()

	// Promotion: fill free slots in priority order.
	for len(pm.queue) > 0 && len(pm.inFlight) < pm.concurrency {
		p := pm.queue[0]
		pm.queue = pm.queue[1:]
		p.Status = ProbeLaunching
		t := now
		p.DeploymentStartedAt = &t
		pm.inFlight[p.ID] = p
		launched = append(launched, p.snapshot())
	}

	// Progress: advance every launching probe.
	for id, p := range pm.inFlight {
		progress := pm.progressAt(p, now)
		if progress >= 1 {
			p.TravelProgress = 1
			p.Status = ProbeDeployed
			t := now
			p.DeploymentCompletedAt = &t
			delete(pm.inFlight, id)
			pm.deployed = append(pm.deployed, p)

			// One-time completion: retries and duplicate ticks must
			// not re-fire the handler for the same probe.
			if _, already := pm.fired[id]; !already {
				pm.fired[id] = struct{}{}
				completed = append(completed, ProbeDeployment{
					ProbeID:        p.ID,
					Kind:           p.Kind,
					TargetPosition: p.TargetPosition,
					CompletedAt:    now,
				})
				completedSnaps = append(completedSnaps, p.snapshot())
			}
			continue
		}
		if math.Abs(progress-p.TravelProgress) > pm.cfg.Probes.ProgressEpsilon {
			p.TravelProgress = progress
			progressed = append(progressed, p.snapshot())
		}
	}

	// Cleanup: discard deployed probes once the grace period passes.
	grace := time.Duration(pm.cfg.Probes.GraceSeconds * float64(time.Second))
	kept := pm.deployed[:0]
	for _, p := range pm.deployed {
		if p.DeploymentCompletedAt != nil && now.Sub(*p.DeploymentCompletedAt) >= grace {
			delete(pm.fired, p.ID)
			continue
		}
		kept = append(kept, p)
	}
	pm.deployed = kept

	handler := pm.handler
	pm.mu.Unlock()

	for _, snap := range launched {
		pm.events.Publish(Event{Kind: EventProbeLaunched, At: now, Payload: snap})
	}
	for _, snap := range progressed {
		pm.events.Publish(Event{Kind: EventProbeProgress, At: now, Payload: snap})
	}
	for i, dep := range completed {
		pm.events.Publish(Event{Kind: EventProbeDeployed, At: now, Payload: completedSnaps[i]})
		if handler != nil {
			handler(dep)
		}
	}
}

// progressAt computes elapsed progress scaled by the acceleration
// bonus against the kind's configured deployment duration.
func (pm *ProbeManager) progressAt(p *ProbeInstance, now time.Time) float64 {
	if p.DeploymentStartedAt == nil {
		return 0
	}
	deploySeconds := pm.cfg.Kind(p.Kind).DeploySeconds
	bonus := p.AccelerationBonus
	if bonus < 1 {
		bonus = 1
	}
	effective := deploySeconds / bonus
	if effective <= 0 {
		return 1
	}
	elapsed := now.Sub(*p.DeploymentStartedAt).Seconds()
	return math.Min(1, elapsed/effective)
}

// restore replaces the pipeline contents from a loaded save. Deployed
// probes are marked fired so their completion handler never re-runs.
func (pm *ProbeManager) restore(probes []*ProbeInstance) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.queue = nil
	pm.inFlight = make(map[string]*ProbeInstance)
	pm.deployed = nil
	pm.fired = make(map[string]struct{})

	for _, p := range probes {
		switch p.Status {
		case ProbeLaunching:
			pm.inFlight[p.ID] = p
		case ProbeDeployed:
			pm.deployed = append(pm.deployed, p)
			pm.fired[p.ID] = struct{}{}
		default:
			p.Status = ProbeQueued
			pm.queue = append(pm.queue, p)
		}
	}
	sort.SliceStable(pm.queue, func(i, j int) bool {
		return pm.queue[i].Priority > pm.queue[j].Priority
	})
}

// ClearQueue drops all queued probes; launching and deployed probes
// are untouched. There is no per-probe cancellation primitive.
func (pm *ProbeManager) ClearQueue() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := len(pm.queue)
	pm.queue = nil
	return n
}

// QueueStatus summarises the pipeline for UI display.
type QueueStatus struct {
	Queued      int
	Launching   int
	Deployed    int
	Concurrency int
}

// Status returns current pipeline counts.
func (pm *ProbeManager) Status() QueueStatus {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return QueueStatus{
		Queued:      len(pm.queue),
		Launching:   len(pm.inFlight),
		Deployed:    len(pm.deployed),
		Concurrency: pm.concurrency,
	}
}

// Snapshots returns copies of every tracked probe, queued first.
func (pm *ProbeManager) Snapshots() []ProbeSnapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]ProbeSnapshot, 0, len(pm.queue)+len(pm.inFlight)+len(pm.deployed))
	for _, p := range pm.queue {
		out = append(out, p.snapshot())
	}
	inFlight := make([]*ProbeInstance, 0, len(pm.inFlight))
	for _, p := range pm.inFlight {
		inFlight = append(inFlight, p)
	}
	sort.Slice(inFlight, func(i, j int) bool { return inFlight[i].ID < inFlight[j].ID })
	for _, p := range inFlight {
		out = append(out, p.snapshot())
	}
	for _, p := range pm.deployed {
		out = append(out, p.snapshot())
	}
	return out
}

func (p *ProbeInstance) snapshot() ProbeSnapshot {
	snap := ProbeSnapshot{
		ID:                p.ID,
		Kind:              p.Kind,
		Status:            p.Status,
		Priority:          p.Priority,
		StartPosition:     p.StartPosition,
		TargetPosition:    p.TargetPosition,
		CreatedAt:         p.CreatedAt,
		TravelProgress:    p.TravelProgress,
		AccelerationBonus: p.AccelerationBonus,
	}
	if p.DeploymentStartedAt != nil {
		t := *p.DeploymentStartedAt
		snap.DeploymentStartedAt = &t
	}
	if p.DeploymentCompletedAt != nil {
		t := *p.DeploymentCompletedAt
		snap.DeploymentCompletedAt = &t
	}
	return snap
}
