package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tramsim/metrics"
	"tramsim/model"
	"tramsim/publish"
	"tramsim/sim"
)

// Options overrides route settings for one headless run and wires its collaborators.
type Options struct {
	Seed         *int64
	HorizonHours float64
	FleetSize    int
	ReportDir    string
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Publisher    publish.Publisher
	// Subscribers receive events while the run progresses.
	Subscribers []func(sim.Event)
	// Interrupts cancels trips at fixed virtual times.
	Interrupts []Interrupt
}

// Interrupt cancels the trip of TramID at virtual minute At, if one is in progress.
type Interrupt struct {
	At     float64 `json:"at"`
	TramID int     `json:"tram_id"`
	Cause  string  `json:"cause"`
}

// Summary is the outcome of a headless run.
type Summary struct {
	RunID                    string            `json:"run_id"`
	Seed                     int64             `json:"seed"`
	StartedAt                time.Time         `json:"started_at"`
	WallTime                 time.Duration     `json:"wall_time_ns"`
	HorizonMinutes           float64           `json:"horizon_minutes"`
	FleetSize                int               `json:"fleet_size"`
	TotalServed              int               `json:"total_served"`
	TripsCompleted           int               `json:"trips_completed"`
	TripsAbandoned           int               `json:"trips_abandoned"`
	MeanUtilizationDeviation float64           `json:"mean_utilization_deviation"`
	CheckedOutAtHorizon      int               `json:"checked_out_at_horizon"`
	Events                   int               `json:"events"`
	Trams                    []sim.TramSummary `json:"trams"`
	Stops                    []sim.StopSummary `json:"stops"`
	ReportFiles              []string          `json:"report_files,omitempty"`
	PublishError             string            `json:"publish_error,omitempty"`
	Result                   *sim.Result       `json:"-"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Apply returns a validated copy of route with the overrides of opt applied.
func Apply(route *model.Route, opt Options) (*model.Route, error) {
	if route == nil {
		return nil, fmt.Errorf("%w: nil route", model.ErrConfigInvalid)
	}
	r := route.Clone()
	if opt.Seed != nil {
		r.Seed = *opt.Seed
	}
	if opt.HorizonHours > 0 {
		r.HorizonHours = opt.HorizonHours
	}
	if opt.FleetSize > 0 {
		r.FleetSize = opt.FleetSize
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Run executes one simulation to its horizon without any real-time pacing,
// then writes reports and publishes the collected events.
func Run(ctx context.Context, route *model.Route, opt Options) (Summary, error) {
	return RunWithID(ctx, NewRunID(), route, opt)
}

// RunWithID is Run with a caller-chosen run id.
func RunWithID(ctx context.Context, runID string, route *model.Route, opt Options) (Summary, error) {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("run", runID)
	sum := Summary{RunID: runID, StartedAt: time.Now()}

	r, err := Apply(route, opt)
	if err != nil {
		opt.Metrics.RunFinished("failed", 0)
		return sum, err
	}
	sum.Seed = r.Seed
	sum.HorizonMinutes = r.HorizonMinutes()
	sum.FleetSize = r.FleetSize

	s, err := sim.New(r, sim.Options{Seed: r.Seed, Logger: log})
	if err != nil {
		opt.Metrics.RunFinished("failed", 0)
		return sum, err
	}
	var events []sim.Event
	s.Subscribe(func(e sim.Event) { events = append(events, e) })
	if opt.Metrics != nil {
		s.Subscribe(opt.Metrics.Observe)
	}
	for _, fn := range opt.Subscribers {
		s.Subscribe(fn)
	}
	for _, in := range opt.Interrupts {
		in := in
		if err := s.At(in.At, func() {
			if err := s.InterruptTrip(in.TramID, in.Cause); err != nil {
				log.Warn("interrupt skipped", "tram", in.TramID, "at", in.At, "err", err)
			}
		}); err != nil {
			return sum, err
		}
	}

	start := time.Now()
	res, runErr := s.Run(ctx)
	sum.WallTime = time.Since(start)
	if res != nil {
		fill(&sum, res)
	}
	sum.Events = len(events)
	if runErr != nil {
		outcome := "failed"
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		opt.Metrics.RunFinished(outcome, sum.WallTime)
		log.Error("run failed", "err", runErr, "wall", sum.WallTime)
		return sum, runErr
	}
	opt.Metrics.RunFinished("ok", sum.WallTime)

	if opt.ReportDir != "" {
		files, err := writeReports(opt.ReportDir, res)
		sum.ReportFiles = files
		if err != nil {
			log.Error("report write failed", "dir", opt.ReportDir, "err", err)
			return sum, err
		}
		log.Info("reports written", "dir", opt.ReportDir, "files", len(files))
	}

	if opt.Publisher != nil && len(events) > 0 {
		if err := opt.Publisher.Publish(publish.WithRunID(ctx, runID), events); err != nil {
			// the run itself succeeded; surface the sink failure in the summary only
			sum.PublishError = err.Error()
			opt.Metrics.PublishFailed("publisher")
			log.Error("publish failed", "err", err, "events", len(events))
		}
	}

	log.Info("run complete", "seed", sum.Seed, "served", sum.TotalServed, "trips", sum.TripsCompleted,
		"abandoned", sum.TripsAbandoned, "mean_util_dev", sum.MeanUtilizationDeviation, "wall", sum.WallTime)
	return sum, nil
}

func fill(sum *Summary, res *sim.Result) {
	sum.Result = res
	sum.TotalServed = res.TotalServed
	sum.TripsCompleted = res.TripsCompleted
	sum.TripsAbandoned = len(res.Abandoned)
	sum.MeanUtilizationDeviation = res.MeanUtilizationDeviation
	sum.CheckedOutAtHorizon = res.CheckedOut
	sum.Trams = sim.SummarizeTrams(res.Trams)
	sum.Stops = sim.SummarizeStops(res.Stops)
}

func writeReports(dir string, res *sim.Result) ([]string, error) {
	files, err := sim.WriteTramLogs(dir, res.Trams)
	if err != nil {
		return files, err
	}
	path, err := sim.WriteSummaryCSV(dir, res.Trams)
	if err != nil {
		return files, err
	}
	return append(files, path), nil
}
