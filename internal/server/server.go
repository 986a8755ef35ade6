// Package server exposes the simulation over a JSON REST API plus a
// websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/emberforge/beaconfield-sim/core"
	"github.com/emberforge/beaconfield-sim/internal/logging"
)

// Server is the HTTP facade over one simulation engine.
type Server struct {
	engine *core.Engine
	hub    *EventHub
	log    logging.Logger

	httpServer *http.Server
	router     *mux.Router
}

// Option customises server construction.
type Option func(*Server)

// WithMiddleware appends router middleware (metrics, auth, ...).
func WithMiddleware(mw mux.MiddlewareFunc) Option {
	return func(s *Server) {
		s.router.Use(mw)
	}
}

// New builds the server and registers all routes.
func New(addr string, engine *core.Engine, hub *EventHub, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		engine: engine,
		hub:    hub,
		log:    log,
		router: mux.NewRouter(),
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Router exposes the underlying router so callers can mount extra
// handlers (metrics, pprof).
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/beacons", s.handlePlaceBeacon).Methods(http.MethodPost)
	api.HandleFunc("/beacons", s.handleListBeacons).Methods(http.MethodGet)
	api.HandleFunc("/beacons/preview", s.handlePreview).Methods(http.MethodPost)
	api.HandleFunc("/beacons/{id}", s.handleGetBeacon).Methods(http.MethodGet)
	api.HandleFunc("/beacons/{id}", s.handleRemoveBeacon).Methods(http.MethodDelete)
	api.HandleFunc("/beacons/{id}/move", s.handleMoveBeacon).Methods(http.MethodPost)
	api.HandleFunc("/beacons/{id}/upgrade", s.handleUpgradeBeacon).Methods(http.MethodPost)
	api.HandleFunc("/beacons/{id}/specialize", s.handleSpecialize).Methods(http.MethodPost)

	api.HandleFunc("/patterns", s.handleListPatterns).Methods(http.MethodGet)
	api.HandleFunc("/patterns/suggestions", s.handleSuggestions).Methods(http.MethodGet)

	api.HandleFunc("/resources", s.handleResources).Methods(http.MethodGet)
	api.HandleFunc("/modifiers", s.handleModifiers).Methods(http.MethodGet)

	api.HandleFunc("/probes", s.handleQueueProbe).Methods(http.MethodPost)
	api.HandleFunc("/probes", s.handleListProbes).Methods(http.MethodGet)
	api.HandleFunc("/probes/status", s.handleProbeStatus).Methods(http.MethodGet)
	api.HandleFunc("/probes/queue", s.handleClearQueue).Methods(http.MethodDelete)
	api.HandleFunc("/probes/concurrency", s.handleSetConcurrency).Methods(http.MethodPut)
	api.HandleFunc("/probes/{id}/accelerate", s.handleAccelerate).Methods(http.MethodPost)

	api.HandleFunc("/positions/sample", s.handleSamplePositions).Methods(http.MethodPost)

	api.HandleFunc("/save", s.handleSave).Methods(http.MethodGet)
	api.HandleFunc("/load", s.handleLoad).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.hub.HandleWebSocket)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Start serves in a separate goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info(context.Background(), "api server listening", logging.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(context.Background(), "api server failed", logging.String("error", err.Error()))
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

//
// ---------- Request / response shapes ----------
//

type placeRequest struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Kind           string  `json:"kind"`
	Specialization string  `json:"specialization,omitempty"`
	Fallback       bool    `json:"fallback,omitempty"`
	MaxAttempts    int     `json:"max_attempts,omitempty"`
}

type moveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type specializeRequest struct {
	Specialization string `json:"specialization"`
}

type probeRequest struct {
	Kind     string  `json:"kind"`
	StartX   float64 `json:"start_x"`
	StartY   float64 `json:"start_y"`
	TargetX  float64 `json:"target_x"`
	TargetY  float64 `json:"target_y"`
	Priority int     `json:"priority,omitempty"`
}

type accelerateRequest struct {
	Bonus float64 `json:"bonus"`
}

type concurrencyRequest struct {
	Limit int `json:"limit"`
}

type sampleRequest struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Radius  float64 `json:"radius"`
	Kind    string  `json:"kind"`
	Count   int     `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

//
// ---------- Handlers ----------
//

func (s *Server) handlePlaceBeacon(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)
	var req placeRequest
	if !s.decode(w, r, &req) {
		return
	}

	now := time.Now()
	pos := core.Point2D{X: req.X, Y: req.Y}
	kind := core.BeaconKind(req.Kind)

	var res core.PlacementResult
	if req.Fallback {
		res = s.engine.PlaceBeaconWithFallback(pos, kind, req.MaxAttempts, now)
	} else {
		spec := core.SpecNone
		if req.Specialization != "" {
			spec = core.Specialization(req.Specialization)
		}
		res = s.engine.PlaceBeacon(pos, kind, spec, now)
	}

	if !res.Success {
		log.Info(ctx, "placement rejected", logging.String("error", res.Error))
		s.respond(w, http.StatusUnprocessableEntity, res)
		return
	}
	s.respond(w, http.StatusCreated, res)
}

func (s *Server) handleListBeacons(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Validator.Snapshots())
}

func (s *Server) handleGetBeacon(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.engine.Validator.GetBeacon(id)
	if !ok {
		s.respond(w, http.StatusNotFound, errorResponse{Error: "beacon not found"})
		return
	}
	s.respond(w, http.StatusOK, snap)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !s.decode(w, r, &req) {
		return
	}
	preview := s.engine.PreviewPlacement(core.Point2D{X: req.X, Y: req.Y}, core.BeaconKind(req.Kind))
	s.respond(w, http.StatusOK, preview)
}

func (s *Server) handleRemoveBeacon(w http.ResponseWriter, r *http.Request) {
	res := s.engine.RemoveBeacon(mux.Vars(r)["id"], time.Now())
	if !res.Success {
		s.respond(w, http.StatusNotFound, res)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleMoveBeacon(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.engine.MoveBeacon(mux.Vars(r)["id"], core.Point2D{X: req.X, Y: req.Y}, time.Now())
	if !res.Success {
		s.respond(w, http.StatusUnprocessableEntity, res)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleUpgradeBeacon(w http.ResponseWriter, r *http.Request) {
	res := s.engine.UpgradeBeacon(mux.Vars(r)["id"], time.Now())
	if !res.Success {
		s.respond(w, http.StatusUnprocessableEntity, res)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleSpecialize(w http.ResponseWriter, r *http.Request) {
	var req specializeRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := s.engine.ChooseSpecialization(mux.Vars(r)["id"], core.Specialization(req.Specialization), time.Now())
	if !res.Success {
		s.respond(w, http.StatusUnprocessableEntity, res)
		return
	}
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Generation.Patterns())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	kind := core.BeaconKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = core.KindPioneer
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.respond(w, http.StatusOK, s.engine.SuggestPatternPositions(kind, limit))
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.respond(w, http.StatusOK, map[string]any{
		"balances":     s.engine.Ledger.Balances(),
		"rates":        s.engine.RateSummary(now),
		"last_updated": s.engine.Ledger.LastUpdated(),
	})
}

func (s *Server) handleModifiers(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Ledger.Modifiers())
}

func (s *Server) handleQueueProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap := s.engine.QueueProbe(
		core.BeaconKind(req.Kind),
		core.Point2D{X: req.StartX, Y: req.StartY},
		core.Point2D{X: req.TargetX, Y: req.TargetY},
		req.Priority,
		time.Now(),
	)
	s.respond(w, http.StatusCreated, snap)
}

func (s *Server) handleListProbes(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Probes.Snapshots())
}

func (s *Server) handleProbeStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Probes.Status())
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	dropped := s.engine.Probes.ClearQueue()
	s.respond(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (s *Server) handleSetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyRequest
	if !s.decode(w, r, &req) {
		return
	}
	applied := s.engine.Probes.SetConcurrency(req.Limit)
	s.respond(w, http.StatusOK, map[string]int{"concurrency": applied})
}

func (s *Server) handleAccelerate(w http.ResponseWriter, r *http.Request) {
	var req accelerateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.engine.Probes.Accelerate(mux.Vars(r)["id"], req.Bonus) {
		s.respond(w, http.StatusNotFound, errorResponse{Error: "probe not found"})
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"accelerated": true})
}

func (s *Server) handleSamplePositions(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if !s.decode(w, r, &req) {
		return
	}
	region := core.Region{Center: core.Point2D{X: req.CenterX, Y: req.CenterY}, Radius: req.Radius}
	positions := s.engine.FindOptimalPositions(region, core.BeaconKind(req.Kind), req.Count)
	s.respond(w, http.StatusOK, positions)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.engine.Save(w, time.Now()); err != nil {
		s.log.Error(r.Context(), "save failed", logging.String("error", err.Error()))
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Load(r.Body, time.Now()); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"loaded": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"beacons": s.engine.Validator.Count(),
		"clients": s.hub.ClientCount(),
	})
}

//
// ---------- Helpers ----------
//

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn(context.Background(), "response encode failed", logging.String("error", err.Error()))
	}
}
