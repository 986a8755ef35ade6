package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emberforge/beaconfield-sim/core"
	"github.com/emberforge/beaconfield-sim/internal/logging"
	"github.com/emberforge/beaconfield-sim/timectrl"
)

func main() {
	duration := flag.Duration("duration", 60*time.Second, "total simulation duration")
	tick := flag.Duration("tick", 1*time.Second, "tick interval")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	balancePath := flag.String("balance", "configs/balance.yaml", "path to a YAML balance config")
	seed := flag.Int64("seed", 42, "seed for position sampling")
	startingFunds := flag.Float64("funds", 500, "starting quantum data balance")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := core.LoadBalanceFile(*balancePath)
	if err != nil {
		log.Error(ctx, "failed to load balance config", logging.String("path", *balancePath), logging.String("error", err.Error()))
		os.Exit(1)
	}

	engine := core.NewEngine(cfg,
		core.WithLogger(log),
		core.WithRandSeed(*seed),
	)

	now := time.Now().UTC()
	engine.Ledger.SetBalance(core.ResourceQuantumData, decimal.NewFromFloat(*startingFunds), now)

	// Seed a small network: an exact placement, a fallback placement
	// near it, and a probe aimed further out.
	first := engine.PlaceBeacon(core.Point2D{X: 0, Y: 0}, core.KindPioneer, core.SpecNone, now)
	if !first.Success {
		log.Error(ctx, "initial placement failed", logging.String("error", first.Error))
		os.Exit(1)
	}
	second := engine.PlaceBeaconWithFallback(core.Point2D{X: 40, Y: 0}, core.KindPioneer, core.DefaultFallbackAttempts, now)
	if second.Success {
		fmt.Printf("second beacon at (%.0f, %.0f), fallback=%v\n",
			second.FinalPosition.X, second.FinalPosition.Y, second.UsedFallback)
	}
	engine.QueueProbe(core.KindHarvester, core.Point2D{X: 0, Y: 0}, core.Point2D{X: 0, Y: 220}, 5, now)

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(now, *tick, mode)
	tc.AddListener(func(simTime time.Time) {
		result := engine.Tick(simTime)
		for _, rt := range core.AllResourceTypes() {
			if amount, ok := result.Credited[rt]; ok && amount.IsPositive() {
				fmt.Printf("[%s] +%s %s (balance %s)\n",
					simTime.Format(time.RFC3339), amount.StringFixed(3), rt,
					engine.Ledger.Balance(rt).StringFixed(3))
			}
		}
	})

	fmt.Printf("Starting simulation: duration=%s, tick=%s, accelerated=%v\n", *duration, *tick, *accelerated)
	ticks := tc.Run(ctx, *duration)

	status := engine.Probes.Status()
	fmt.Printf("Simulation complete after %d ticks.\n", ticks)
	fmt.Printf("Beacons: %d (%d active), patterns: %d\n",
		engine.Validator.Count(), engine.Validator.ActiveCount(), len(engine.Generation.Patterns()))
	fmt.Printf("Probes: queued=%d launching=%d deployed=%d\n", status.Queued, status.Launching, status.Deployed)
	for rt, bal := range engine.Ledger.Balances() {
		fmt.Printf("  %-18s %s\n", rt, bal.StringFixed(3))
	}
}
