// Package timectrl drives the simulation loop: it advances simulation
// time at a fixed tick and notifies listeners (the engine) on each
// step.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock exposes simulation time to components that should not
// depend on the concrete controller, mainly for testability.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances in lockstep with wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as fast as the loop can run, still
	// stepping simulation time by Tick per iteration.
	Accelerated
)

// TimeController steps simulation time and fans each tick out to
// registered listeners. Listeners run on the controller goroutine, so
// one tick finishes before the next begins.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked on every tick. Listeners
// must be registered before Run starts.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.listeners = append(tc.listeners, fn)
}

// Run advances the simulation until the given amount of simulation
// time has elapsed, or forever when duration is zero, or until the
// context is cancelled. It returns the number of ticks executed.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) int {
	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	tc.mu.Unlock()

	var ticker *time.Ticker
	if tc.Mode == RealTime {
		ticker = time.NewTicker(tc.Tick)
		defer ticker.Stop()
	}

	ticks := 0
	elapsed := time.Duration(0)
	for {
		if duration > 0 && elapsed >= duration {
			return ticks
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ticks
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return ticks
		}

		simTime = simTime.Add(tc.Tick)
		elapsed += tc.Tick
		ticks++

		tc.mu.Lock()
		tc.currentTime = simTime
		tc.mu.Unlock()

		for _, fn := range tc.listeners {
			fn(simTime)
		}
	}
}

// Start runs the controller in a separate goroutine and returns a
// channel closed when it finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.Run(ctx, duration)
	}()
	return done
}
