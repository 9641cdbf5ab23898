package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"tramsim/model"
)

// ErrAlreadyRan is returned by a second call to Run.
var ErrAlreadyRan = errors.New("simulator already ran")

// ErrUnknownTrip is returned when interrupting a tram that has no trip in progress.
var ErrUnknownTrip = errors.New("no active trip for tram")

// Options tunes a single run.
type Options struct {
	Seed   int64
	Logger *slog.Logger
	// RNG overrides the source built from Seed.
	RNG *rand.Rand
}

// Abandonment records an interrupted trip.
type Abandonment struct {
	Time      float64         `json:"time"`
	TramID    int             `json:"tram_id"`
	StopID    int             `json:"stop_id"`
	Direction model.Direction `json:"direction"`
	Cause     string          `json:"cause"`
}

// Result is the state of the model when the horizon was reached.
type Result struct {
	Route                    *model.Route      `json:"-"`
	Seed                     int64             `json:"seed"`
	EndTime                  float64           `json:"end_time"`
	Trams                    []*model.Tram     `json:"trams"`
	Stops                    []*model.TramStop `json:"stops"`
	TotalServed              int               `json:"total_served"`
	TripsCompleted           int               `json:"trips_completed"`
	TargetUtilization        float64           `json:"target_utilization"`
	MeanUtilizationDeviation float64           `json:"mean_utilization_deviation"`
	Abandoned                []Abandonment     `json:"abandoned"`
	Available                int               `json:"available"`
	CheckedOut               int               `json:"checked_out"`
	EventsProcessed          uint64            `json:"events_processed"`
}

type activeTrip struct {
	proc   *Process
	tram   *model.Tram
	stopID int
}

// Simulator wires the route, fleet, depot and stops into one run.
type Simulator struct {
	route  *model.Route
	seed   int64
	env    *Env
	pool   *Pool
	demand *Demand
	trams  []*model.Tram
	stops  []*model.TramStop
	log    *slog.Logger
	subs   []func(Event)

	active     map[int]*activeTrip
	abandoned  []Abandonment
	dispatched int

	served     int
	trips      int
	deviation  float64
	deviations int
	ran        bool
}

// New builds a simulator for a validated copy of route. The caller's route is not modified.
func New(route *model.Route, opt Options) (*Simulator, error) {
	if route == nil {
		return nil, fmt.Errorf("%w: nil route", model.ErrConfigInvalid)
	}
	route = route.Clone()
	if err := route.Validate(); err != nil {
		return nil, err
	}
	trams, err := model.BuildFleet(route.FleetSize, route.TramCapacity)
	if err != nil {
		return nil, err
	}
	log := opt.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	rng := opt.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(opt.Seed))
	}
	env := NewEnv(log)
	stops := make([]*model.TramStop, route.StopCount)
	for i := range stops {
		stops[i] = &model.TramStop{ID: i + 1}
	}
	return &Simulator{
		route:  route,
		seed:   opt.Seed,
		env:    env,
		pool:   NewPool(env, trams, log),
		demand: NewDemand(route, rng),
		trams:  trams,
		stops:  stops,
		log:    log,
		active: make(map[int]*activeTrip),
	}, nil
}

// Subscribe registers fn to receive every event in emission order. Subscribers
// run inside the simulation and must not call back into the Simulator.
func (s *Simulator) Subscribe(fn func(Event)) {
	if fn != nil {
		s.subs = append(s.subs, fn)
	}
}

func (s *Simulator) emit(e Event) {
	for _, fn := range s.subs {
		fn(e)
	}
}

// Env exposes the underlying environment.
func (s *Simulator) Env() *Env { return s.env }

// Pool exposes the depot.
func (s *Simulator) Pool() *Pool { return s.pool }

// At schedules fn at absolute virtual time t, for injecting external actions into a run.
func (s *Simulator) At(t float64, fn func()) error {
	_, err := s.env.Schedule(t-s.env.Now(), fn)
	return err
}

// InterruptTrip cancels the trip currently run by a tram. The trip logs its
// abandonment at its next suspension point and keeps the tram out of the depot.
func (s *Simulator) InterruptTrip(tramID int, cause string) error {
	at, ok := s.active[tramID]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownTrip, tramID)
	}
	at.proc.Interrupt(cause)
	return nil
}

// Run drives the model until the route horizon and returns its final state.
// In-flight trips are frozen where they stand when the horizon is reached.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	if s.ran {
		return nil, ErrAlreadyRan
	}
	s.ran = true
	horizon := s.route.HorizonMinutes()
	s.log.Info("simulation_start", "route", s.route.Name, "stops", s.route.StopCount, "fleet", len(s.trams), "horizon_min", horizon, "seed", s.seed)
	if _, err := s.env.Process("dispatcher", s.dispatch); err != nil {
		return nil, err
	}
	runErr := s.env.RunUntil(ctx, horizon)
	res := s.result()
	s.emit(DoneEvent{
		Time:                     res.EndTime,
		Completed:                runErr == nil,
		TotalServed:              res.TotalServed,
		TripsCompleted:           res.TripsCompleted,
		TripsAbandoned:           len(res.Abandoned),
		MeanUtilizationDeviation: res.MeanUtilizationDeviation,
		CheckedOut:               res.CheckedOut,
	})
	s.env.Close()
	if runErr != nil {
		s.log.Error("simulation_failed", "t", s.env.Now(), "err", runErr)
		return res, runErr
	}
	s.log.Info("simulation_complete", "t", res.EndTime, "served", res.TotalServed, "trips", res.TripsCompleted,
		"abandoned", len(res.Abandoned), "mean_util_dev", res.MeanUtilizationDeviation)
	return res, nil
}

func (s *Simulator) result() *Result {
	res := &Result{
		Route:             s.route,
		Seed:              s.seed,
		EndTime:           s.env.Now(),
		Trams:             s.trams,
		Stops:             s.stops,
		TotalServed:       s.served,
		TripsCompleted:    s.trips,
		TargetUtilization: s.route.TargetUtilization,
		Abandoned:         append([]Abandonment(nil), s.abandoned...),
		Available:         s.pool.Available(),
		CheckedOut:        s.pool.CheckedOut(),
		EventsProcessed:   s.env.Fired(),
	}
	if s.deviations > 0 {
		res.MeanUtilizationDeviation = s.deviation / float64(s.deviations)
	}
	return res
}

// recordUtilization adds one stop-visit sample to the fleet deviation aggregate.
func (s *Simulator) recordUtilization(u float64) {
	s.deviation += math.Abs(u - s.route.TargetUtilization)
	s.deviations++
}
