// Package api serves the current snapshot over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/internal/output"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// SnapshotSource returns the most recently published snapshot, or nil
// before the first tick.
type SnapshotSource interface {
	Latest() *tracking.Snapshot
}

// CallsignSetter replaces the tracked callsigns. A SnapshotSource that
// also implements it gets a PUT /api/v1/callsigns route.
type CallsignSetter interface {
	SetCallsigns(callsigns []string)
}

// CheckFunc reports whether a dependency is healthy.
type CheckFunc func(ctx context.Context) bool

// Server holds the HTTP router and its dependencies
type Server struct {
	router    *chi.Mux
	snapshots SnapshotSource
	metrics   http.Handler
	checks    map[string]CheckFunc
	log       logging.Logger
	started   time.Time
}

// NewServer creates the status API. metrics may be nil.
func NewServer(snapshots SnapshotSource, metrics http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		router:    chi.NewRouter(),
		snapshots: snapshots,
		metrics:   metrics,
		checks:    make(map[string]CheckFunc),
		log:       log,
		started:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// AddCheck adds a dependency check to /healthz. Register checks before
// serving.
func (s *Server) AddCheck(name string, check CheckFunc) {
	s.checks[name] = check
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tracks", s.handleGetTracks)
		r.Get("/tracks/{callsign}", s.handleGetTrack)
		r.Get("/tracks/{callsign}/prediction", s.handleGetPrediction)
		if setter, ok := s.snapshots.(CallsignSetter); ok {
			r.Put("/callsigns", s.handlePutCallsigns(setter))
		}
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "status api listening", logging.String("addr", addr))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type healthResponse struct {
	Status   string          `json:"status"`
	Uptime   string          `json:"uptime"`
	Tick     uint64          `json:"tick"`
	LastTick time.Time       `json:"last_tick,omitzero"`
	Tracks   int             `json:"tracks"`
	Packets  int             `json:"packets"`
	Checks   map[string]bool `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "starting",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if snap := s.snapshots.Latest(); snap != nil {
		resp.Status = "ok"
		resp.Tick = snap.Tick
		resp.LastTick = snap.Time
		resp.Tracks = len(snap.Tracks)
		resp.Packets = snap.PacketCount()
	}

	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]bool, len(s.checks))
		for name, check := range s.checks {
			ok := check(r.Context())
			resp.Checks[name] = ok
			if !ok {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}
	respondJSON(w, code, resp)
}

func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshots.Latest()
	if snap == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"tracks": []trackResponse{}})
		return
	}

	tracks := make([]trackResponse, 0, len(snap.Tracks))
	for _, view := range snap.Tracks {
		tracks = append(tracks, newTrackResponse(view))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"time":   snap.Time,
		"tick":   snap.Tick,
		"tracks": tracks,
		"stats":  snap.Stats,
	})
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	view, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newTrackDetail(view))
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	view, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if view.Prediction == nil {
		respondError(w, http.StatusNotFound, "no prediction for "+view.Callsign)
		return
	}

	data, err := output.PredictionFeature(view.Callsign, view.Prediction).MarshalJSON()
	if err != nil {
		s.log.Error(r.Context(), "failed to encode prediction", logging.String("callsign", view.Callsign), logging.Err(err))
		respondError(w, http.StatusInternalServerError, "failed to encode prediction")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type callsignsRequest struct {
	Callsigns []string `json:"callsigns"`
}

// handlePutCallsigns replaces the callsign filter. An empty list tracks
// every callsign.
func (s *Server) handlePutCallsigns(setter CallsignSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req callsignsRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		callsigns := make([]string, 0, len(req.Callsigns))
		for _, c := range req.Callsigns {
			c = telemetry.NormalizeCallsign(c)
			if err := telemetry.ValidateCallsign(c); err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			callsigns = append(callsigns, c)
		}
		if len(callsigns) == 0 {
			callsigns = nil
		}
		setter.SetCallsigns(callsigns)
		s.log.Info(r.Context(), "callsign filter requested", logging.Any("callsigns", callsigns))
		respondJSON(w, http.StatusAccepted, callsignsRequest{Callsigns: callsigns})
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*tracking.TrackView, bool) {
	callsign := chi.URLParam(r, "callsign")
	snap := s.snapshots.Latest()
	if snap == nil {
		respondError(w, http.StatusNotFound, "no tracks yet")
		return nil, false
	}
	view, ok := snap.Track(callsign)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown callsign "+callsign)
		return nil, false
	}
	return view, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
