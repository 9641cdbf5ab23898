package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"tramsim/driver"
	"tramsim/metrics"
	"tramsim/model"
	"tramsim/publish"
	"tramsim/sim"
)

// Options configures the server instance.
type Options struct {
	ReportDir string
	Publisher publish.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// MaxRuns bounds the in-memory run history; the oldest run is evicted first.
	MaxRuns int
}

type Server struct {
	Route *model.Route
	Opt   Options
	log   *slog.Logger

	mu    sync.RWMutex
	runs  map[string]*driver.Summary
	order []string
}

func New(route *model.Route, opt Options) *Server {
	if opt.MaxRuns <= 0 {
		opt.MaxRuns = 50
	}
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{Route: route, Opt: opt, log: log, runs: make(map[string]*driver.Summary)}
}

// Handler returns the routed API wrapped with CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	m := s.Opt.Metrics
	r.Handle("/health", m.WrapHandler("health", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	r.Handle("/api/route", m.WrapHandler("route", http.HandlerFunc(s.handleRoute))).Methods(http.MethodGet)
	r.Handle("/api/runs", m.WrapHandler("runs_create", http.HandlerFunc(s.handleCreateRun))).Methods(http.MethodPost)
	r.Handle("/api/runs", m.WrapHandler("runs_list", http.HandlerFunc(s.handleListRuns))).Methods(http.MethodGet)
	r.Handle("/api/runs/{id}", m.WrapHandler("run", http.HandlerFunc(s.handleGetRun))).Methods(http.MethodGet)
	r.Handle("/api/runs/{id}/report", m.WrapHandler("run_report", http.HandlerFunc(s.handleRunReport))).Methods(http.MethodGet)
	r.Handle("/api/runs/{id}/trams/{tram:[0-9]+}", m.WrapHandler("run_tram", http.HandlerFunc(s.handleRunTram))).Methods(http.MethodGet)
	r.Handle("/api/runs/{id}/stops/{stop:[0-9]+}", m.WrapHandler("run_stop", http.HandlerFunc(s.handleRunStop))).Methods(http.MethodGet)
	r.Handle("/api/stream", m.WrapHandler("stream", http.HandlerFunc(s.handleStream))).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(cors(r))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n := len(s.runs)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "runs": n})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Route)
}

// runRequest carries optional per-run overrides.
type runRequest struct {
	Seed         *int64             `json:"seed"`
	HorizonHours float64            `json:"horizon_hours"`
	FleetSize    int                `json:"fleet_size"`
	Interrupts   []driver.Interrupt `json:"interrupts"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.HorizonHours < 0 || req.FleetSize < 0 {
		writeError(w, http.StatusBadRequest, "horizon_hours and fleet_size must be >= 0")
		return
	}
	id := driver.NewRunID()
	sum, err := driver.RunWithID(r.Context(), id, s.Route, driver.Options{
		Seed:         req.Seed,
		HorizonHours: req.HorizonHours,
		FleetSize:    req.FleetSize,
		Interrupts:   req.Interrupts,
		ReportDir:    s.reportDir(id),
		Logger:       s.log,
		Metrics:      s.Opt.Metrics,
		Publisher:    s.Opt.Publisher,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrConfigInvalid) || errors.Is(err, model.ErrCapacityInvalid) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	s.store(&sum)
	writeJSON(w, http.StatusCreated, sum)
}

func (s *Server) reportDir(runID string) string {
	if s.Opt.ReportDir == "" {
		return ""
	}
	return filepath.Join(s.Opt.ReportDir, runID)
}

func (s *Server) store(sum *driver.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[sum.RunID]; !ok {
		s.order = append(s.order, sum.RunID)
	}
	s.runs[sum.RunID] = sum
	for len(s.order) > s.Opt.MaxRuns {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*driver.Summary, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	sum, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
	}
	return sum, ok
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]map[string]any, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		sum := s.runs[s.order[i]]
		out = append(out, map[string]any{
			"run_id":          sum.RunID,
			"seed":            sum.Seed,
			"started_at":      sum.StartedAt,
			"total_served":    sum.TotalServed,
			"trips_completed": sum.TripsCompleted,
			"trips_abandoned": sum.TripsAbandoned,
		})
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if sum, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, sum)
	}
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	sim.PrintConsoleReport(w, sum.Result)
}

func (s *Server) handleRunTram(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id, _ := strconv.Atoi(mux.Vars(r)["tram"])
	for _, t := range sum.Result.Trams {
		if t.ID == id {
			if r.URL.Query().Get("format") == "csv" {
				w.Header().Set("Content-Type", "text/csv")
				_ = sim.WriteTramLog(w, t)
				return
			}
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, http.StatusNotFound, "tram not found")
}

func (s *Server) handleRunStop(w http.ResponseWriter, r *http.Request) {
	sum, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id, _ := strconv.Atoi(mux.Vars(r)["stop"])
	if id < 1 || id > len(sum.Result.Stops) {
		writeError(w, http.StatusNotFound, "stop not found")
		return
	}
	stop := sum.Result.Stops[id-1]
	hours := int(math.Ceil(sum.HorizonMinutes / 60))
	hourly := sim.HourlyWaiting([]*model.TramStop{stop}, hours)[0]
	writeJSON(w, http.StatusOK, map[string]any{
		"stop":           stop,
		"summary":        sim.SummarizeStops([]*model.TramStop{stop})[0],
		"hourly_waiting": hourly,
	})
}

// handleStream runs a fresh simulation and streams its events as server-sent
// events. minute_ms paces the stream by wall-clock milliseconds per virtual minute.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream unsupported")
		return
	}
	q := r.URL.Query()
	opt := driver.Options{Logger: s.log, Metrics: s.Opt.Metrics}
	if v, err := strconv.ParseInt(q.Get("seed"), 10, 64); err == nil {
		opt.Seed = &v
	}
	if v, err := strconv.ParseFloat(q.Get("hours"), 64); err == nil && v > 0 {
		opt.HorizonHours = v
	}
	if v, err := strconv.Atoi(q.Get("fleet")); err == nil && v > 0 {
		opt.FleetSize = v
	}
	var pace time.Duration
	if v, err := strconv.ParseFloat(q.Get("minute_ms"), 64); err == nil && v > 0 {
		pace = time.Duration(v * float64(time.Millisecond))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flush := func(event string, payload any) {
		b, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\n", event)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	ctx := r.Context()
	ch := make(chan sim.Event, 256)
	opt.Subscribers = []func(sim.Event){func(e sim.Event) {
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	}}
	runID := driver.NewRunID()
	var sum driver.Summary
	var runErr error
	go func() {
		defer close(ch)
		sum, runErr = driver.RunWithID(ctx, runID, s.Route, opt)
	}()

	flush("init", map[string]any{"run_id": runID, "stops": s.Route.StopCount, "fleet_size": s.Route.FleetSize})
	var last float64
	for e := range ch {
		if t := sim.EventTime(e); pace > 0 && t > last {
			timer := time.NewTimer(time.Duration((t - last) * float64(pace)))
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			last = t
		}
		flush(sim.EventName(e), e)
	}
	if runErr != nil {
		if ctx.Err() == nil {
			flush("error", map[string]string{"error": runErr.Error()})
		}
		return
	}
	s.store(&sum)
}
