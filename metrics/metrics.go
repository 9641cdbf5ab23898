package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tramsim/sim"
)

// Metrics records simulation and HTTP activity on its own registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	tripsCompleted    prometheus.Counter
	tripsAbandoned    prometheus.Counter
	boarded           prometheus.Counter
	alighted          prometheus.Counter
	utilization       prometheus.Histogram
	stopWaiting       *prometheus.GaugeVec
	publishErrors     *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New builds the collectors and registers them together with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tramsim_runs_total",
			Help: "Simulation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tramsim_run_duration_seconds",
			Help:    "Wall-clock duration of simulation runs.",
			Buckets: prometheus.DefBuckets,
		}),
		tripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tramsim_trips_completed_total",
			Help: "Round trips finished and returned to the depot.",
		}),
		tripsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tramsim_trips_abandoned_total",
			Help: "Round trips interrupted before completion.",
		}),
		boarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tramsim_passengers_boarded_total",
			Help: "Passengers boarded at stops.",
		}),
		alighted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tramsim_passengers_alighted_total",
			Help: "Passengers alighted at stops.",
		}),
		utilization: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tramsim_tram_utilization_ratio",
			Help:    "Tram utilization observed after each stop visit.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		stopWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tramsim_stop_waiting_passengers",
			Help: "Passengers left waiting at a stop after the latest visit.",
		}, []string{"stop"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tramsim_publish_errors_total",
			Help: "Failed event publications by sink.",
		}, []string{"sink"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsTotal,
		m.runDuration,
		m.tripsCompleted,
		m.tripsAbandoned,
		m.boarded,
		m.alighted,
		m.utilization,
		m.stopWaiting,
		m.publishErrors,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Observe consumes a simulation event. It is meant to be passed to Simulator.Subscribe.
func (m *Metrics) Observe(e sim.Event) {
	if m == nil {
		return
	}
	switch ev := e.(type) {
	case sim.StopVisitEvent:
		m.boarded.Add(float64(ev.Visit.Boarded))
		m.alighted.Add(float64(ev.Visit.Alighted))
		m.utilization.Observe(ev.Visit.UtilizationAfter)
		m.stopWaiting.WithLabelValues(strconv.Itoa(ev.Visit.StopID)).Set(float64(ev.WaitingAfter))
	case sim.TripEndEvent:
		m.tripsCompleted.Inc()
	case sim.TripAbandonedEvent:
		m.tripsAbandoned.Inc()
	}
}

// RunFinished records a run outcome ("ok", "failed" or "cancelled") and its wall-clock duration.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// PublishFailed counts a failed publication to sink.
func (m *Metrics) PublishFailed(sink string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(sink).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush lets streaming handlers keep working behind the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
