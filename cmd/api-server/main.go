package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/emberforge/beaconfield-sim/core"
	"github.com/emberforge/beaconfield-sim/internal/logging"
	"github.com/emberforge/beaconfield-sim/internal/observability"
	"github.com/emberforge/beaconfield-sim/internal/server"
	"github.com/emberforge/beaconfield-sim/timectrl"
)

func main() {
	apiAddr := flag.String("api-addr", ":8080", "TCP address the JSON API listens on")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics")
	balancePath := flag.String("balance", "configs/balance.yaml", "path to a YAML balance config")
	tick := flag.Duration("tick", 1*time.Second, "simulation tick interval")
	savePath := flag.String("save", "", "optional save file to restore at startup")
	startingFunds := flag.Float64("funds", 500, "starting quantum data balance for fresh sessions")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)

	tracingShutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := core.LoadBalanceFile(*balancePath)
	if err != nil {
		log.Error(ctx, "failed to load balance config", logging.String("path", *balancePath), logging.String("error", err.Error()))
		os.Exit(1)
	}

	hub := server.NewEventHub(256, log)
	engine := core.NewEngine(cfg,
		core.WithLogger(log),
		core.WithEventSink(hub.Sink()),
		core.WithMetricsRecorder(collector),
	)

	now := time.Now().UTC()
	if *savePath != "" {
		restoreSave(engine, *savePath, now, log)
	} else {
		engine.Ledger.SetBalance(core.ResourceQuantumData, decimal.NewFromFloat(*startingFunds), now)
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go hub.Run(loopCtx)

	tracer := otel.Tracer("beaconfield-sim")
	tc := timectrl.NewTimeController(now, *tick, timectrl.RealTime)
	tc.AddListener(func(simTime time.Time) {
		_, span := tracer.Start(loopCtx, "engine.tick")
		engine.Tick(simTime)
		span.End()
	})
	loopDone := tc.Start(loopCtx, 0)

	srv := server.New(*apiAddr, engine, hub, log,
		server.WithMiddleware(observability.TraceMiddleware("beaconfield-api")),
		server.WithMiddleware(collector.Middleware),
	)
	srv.Start()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down api server")
	stopLoop()
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(ctx, tracingShutdown, log)
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func restoreSave(engine *core.Engine, path string, now time.Time, log logging.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Warn(context.Background(), "skipping save restore", logging.String("path", path), logging.String("error", err.Error()))
		return
	}
	defer f.Close()

	if err := engine.Load(f, now); err != nil {
		log.Warn(context.Background(), "failed to restore save", logging.String("path", path), logging.String("error", err.Error()))
		return
	}
	log.Info(context.Background(), "restored save",
		logging.String("path", path),
		logging.Int("beacons", engine.Validator.Count()),
	)
}
