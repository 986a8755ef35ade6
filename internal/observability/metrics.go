package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles the Prometheus metrics of the simulation service
// and provides helpers to wire them into HTTP handlers. It satisfies
// the engine's MetricsRecorder interface.
type SimCollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	WorldBeacons     prometheus.Gauge
	WorldConnections prometheus.Gauge
	WorldPatterns    prometheus.Gauge
	WorldProbes      prometheus.Gauge

	Placements       *prometheus.CounterVec
	ProbeDeployments prometheus.Counter
	TickDuration     prometheus.Histogram
}

// NewSimCollector registers the simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Re-registration returns the existing collectors, so constructing a
// second collector against the same registry is safe.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_http_requests_total",
		Help: "Total number of handled API requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"})
	requests, err := registerCounterVec(reg, requests, "sim_http_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_http_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})
	durations, err = registerHistogramVec(reg, durations, "sim_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	beacons, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_world_beacons",
		Help: "Current number of placed beacons.",
	}), "sim_world_beacons")
	if err != nil {
		return nil, err
	}
	connections, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_world_connections",
		Help: "Current number of beacon connections.",
	}), "sim_world_connections")
	if err != nil {
		return nil, err
	}
	patterns, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_world_patterns",
		Help: "Current number of detected geometric patterns.",
	}), "sim_world_patterns")
	if err != nil {
		return nil, err
	}
	probes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_world_probes",
		Help: "Current number of probes tracked by the pipeline.",
	}), "sim_world_probes")
	if err != nil {
		return nil, err
	}

	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_placements_total",
		Help: "Total number of successful beacon placements, labeled by whether the fallback search was used.",
	}, []string{"fallback"})
	placements, err = registerCounterVec(reg, placements, "sim_placements_total")
	if err != nil {
		return nil, err
	}

	deployments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_probe_deployments_total",
		Help: "Total number of completed probe deployments.",
	})
	deployments, err = registerCounter(reg, deployments, "sim_probe_deployments_total")
	if err != nil {
		return nil, err
	}

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock duration of one simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	tickDuration, err = registerHistogram(reg, tickDuration, "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		HTTPRequests:     requests,
		HTTPDurations:    durations,
		WorldBeacons:     beacons,
		WorldConnections: connections,
		WorldPatterns:    patterns,
		WorldProbes:      probes,
		Placements:       placements,
		ProbeDeployments: deployments,
		TickDuration:     tickDuration,
	}, nil
}

// Middleware records request counts and durations for every matched
// route.
func (c *SimCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		if c == nil {
			return
		}
		route := routeName(r)
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetWorldCounts drives the world gauges directly from the engine's
// tick loop.
func (c *SimCollector) SetWorldCounts(beacons, connections, patterns, probes int) {
	if c == nil {
		return
	}
	if c.WorldBeacons != nil {
		c.WorldBeacons.Set(float64(beacons))
	}
	if c.WorldConnections != nil {
		c.WorldConnections.Set(float64(connections))
	}
	if c.WorldPatterns != nil {
		c.WorldPatterns.Set(float64(patterns))
	}
	if c.WorldProbes != nil {
		c.WorldProbes.Set(float64(probes))
	}
}

// ObserveTickDuration records one simulation tick's wall-clock cost.
func (c *SimCollector) ObserveTickDuration(seconds float64) {
	if c == nil || c.TickDuration == nil {
		return
	}
	c.TickDuration.Observe(seconds)
}

// IncPlacements counts one successful placement.
func (c *SimCollector) IncPlacements(fallback bool) {
	if c == nil || c.Placements == nil {
		return
	}
	c.Placements.WithLabelValues(strconv.FormatBool(fallback)).Inc()
}

// IncProbeDeployments counts one completed probe deployment.
func (c *SimCollector) IncProbeDeployments() {
	if c == nil || c.ProbeDeployments == nil {
		return
	}
	c.ProbeDeployments.Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// routeName resolves the mux route template for labeling, falling back
// to the raw path for unmatched requests.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil && tmpl != "" {
			return tmpl
		}
	}
	if r.URL != nil && r.URL.Path != "" {
		return r.URL.Path
	}
	return "unknown"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
