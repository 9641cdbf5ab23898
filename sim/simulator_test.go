package sim

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"tramsim/model"
)

// simRoute builds a line of n stops 1 km apart with a flat hourly intensity at every stop.
// With no passengers a 3-stop round trip takes about 15 minutes.
func simRoute(t *testing.T, n int, intensity float64) *model.Route {
	t.Helper()
	r := &model.Route{
		Name:              "test",
		StopCount:         n,
		DistanceFromPrev:  make([]float64, n),
		Intensity:         make([][24]float64, n),
		Headways:          []model.HeadwayRule{{StartHour: 0, IntervalMin: 10}},
		FreeFlowSpeedKmph: 30,
		TramCapacity:      100,
		PeakStop:          1,
		AccelerationTime:  0.5,
		DwellTime:         0.5,
		TurnaroundTime:    2,
		HorizonHours:      1,
		FleetSize:         3,
		TargetUtilization: 0.75,
	}
	for i := 1; i < n; i++ {
		r.DistanceFromPrev[i] = 1000
	}
	for i := range r.Intensity {
		for h := range r.Intensity[i] {
			r.Intensity[i][h] = intensity
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return r
}

func TestRunWithoutDemandCompletesTrips(t *testing.T) {
	s, err := New(simRoute(t, 3, 0), Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalServed != 0 {
		t.Fatalf("expected nobody served, got %d", res.TotalServed)
	}
	// dispatches at 0..40 finish before the hour, the one at 50 does not
	if res.TripsCompleted != 5 {
		t.Fatalf("expected 5 completed trips, got %d", res.TripsCompleted)
	}
	if res.EndTime != 60 {
		t.Fatalf("expected end time 60, got %v", res.EndTime)
	}
	if res.CheckedOut != 1 || res.Available != 2 {
		t.Fatalf("expected one tram in service at the horizon, got %d out / %d idle", res.CheckedOut, res.Available)
	}
	for _, tr := range res.Trams {
		for _, u := range tr.Stats.UtilizationHistory {
			if u != 0 {
				t.Fatalf("tram %d has utilization %v without demand", tr.ID, u)
			}
		}
	}
	if res.MeanUtilizationDeviation != 0.75 {
		t.Fatalf("expected deviation 0.75 for empty trams, got %v", res.MeanUtilizationDeviation)
	}
}

func TestTwoStopLineWithoutDemand(t *testing.T) {
	r := simRoute(t, 2, 0)
	r.FreeFlowSpeedKmph = 40
	s, err := New(r, Options{Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range res.Trams {
		if tr.Stats.PassengersServed != 0 || tr.Stats.PassengersAlighted != 0 {
			t.Fatalf("tram %d moved passengers without demand", tr.ID)
		}
	}
	if res.TripsCompleted == 0 {
		t.Fatalf("expected completed trips")
	}
}

func runSeeded(t *testing.T, seed int64) *Result {
	t.Helper()
	r := simRoute(t, 6, 120)
	r.HorizonHours = 3
	s, err := New(r, Options{Seed: seed})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSameSeedSameRun(t *testing.T) {
	a, b := runSeeded(t, 42), runSeeded(t, 42)
	if a.TotalServed != b.TotalServed || a.TripsCompleted != b.TripsCompleted {
		t.Fatalf("runs differ: served %d/%d trips %d/%d", a.TotalServed, b.TotalServed, a.TripsCompleted, b.TripsCompleted)
	}
	if !reflect.DeepEqual(a.Trams, b.Trams) {
		t.Fatalf("tram logs differ between identical seeds")
	}
	if !reflect.DeepEqual(a.Stops, b.Stops) {
		t.Fatalf("stop histories differ between identical seeds")
	}
	if a.TotalServed == 0 {
		t.Fatalf("expected demand to be served")
	}
}

func TestCapacityAndFleetHoldDuringRun(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		checkRunInvariants(t, seed)
	}
}

// checkRunInvariants runs a saturated line and checks every emitted event.
func checkRunInvariants(t *testing.T, seed int64) {
	t.Helper()
	r := simRoute(t, 8, 600)
	r.TramCapacity = 30
	r.HorizonHours = 5
	r.FleetSize = 2
	s, err := New(r, Options{Seed: seed})
	if err != nil {
		t.Fatal(err)
	}
	var visits int
	last := -1.0
	s.Subscribe(func(e Event) {
		now := s.Env().Now()
		if now < last {
			t.Errorf("seed %d: clock went back from %v to %v", seed, last, now)
		}
		last = now
		pl := s.Pool()
		if pl.Available()+pl.CheckedOut() != r.FleetSize {
			t.Errorf("seed %d: fleet not conserved: %d + %d", seed, pl.Available(), pl.CheckedOut())
		}
		ev, ok := e.(StopVisitEvent)
		if !ok {
			return
		}
		visits++
		if ev.Passengers < 0 || ev.Passengers > r.TramCapacity {
			t.Errorf("seed %d: tram %d carries %d passengers", seed, ev.TramID, ev.Passengers)
		}
		if ev.Visit.Boarded > ev.Visit.WaitingBefore {
			t.Errorf("seed %d: boarded %d of %d waiting at stop %d", seed, ev.Visit.Boarded, ev.Visit.WaitingBefore, ev.Visit.StopID)
		}
		if ev.WaitingAfter < 0 {
			t.Errorf("seed %d: negative queue at stop %d", seed, ev.Visit.StopID)
		}
		if ev.Visit.StopID == r.Terminal(ev.Visit.Direction) && ev.Passengers != ev.Visit.Boarded {
			t.Errorf("seed %d: riders stayed on past the terminal", seed)
		}
	})
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if visits == 0 {
		t.Fatalf("seed %d: no stop visits observed", seed)
	}
	if last > res.EndTime {
		t.Fatalf("seed %d: event at %v after end time %v", seed, last, res.EndTime)
	}
	var served, remaining int
	for _, st := range res.Stops {
		served += st.PassengersServed
		remaining += st.Waiting
	}
	if served != res.TotalServed {
		t.Fatalf("seed %d: stop totals %d != fleet total %d", seed, served, res.TotalServed)
	}
	if remaining == 0 {
		t.Fatalf("seed %d: expected queues to saturate with capacity %d", seed, r.TramCapacity)
	}
}

func TestNewLeavesCallerRouteUntouched(t *testing.T) {
	r := &model.Route{
		StopCount:         3,
		DistanceFromPrev:  []float64{250, 600},
		Headways:          []model.HeadwayRule{{StartHour: 9, IntervalMin: 20}, {StartHour: 5, IntervalMin: 10}},
		FreeFlowSpeedKmph: 30,
		TramCapacity:      50,
		PeakStop:          2,
		HorizonHours:      1,
		FleetSize:         1,
	}
	s, err := New(r, Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Env().Close()
	if len(r.DistanceFromPrev) != 2 || r.DistanceFromPrev[0] != 250 {
		t.Fatalf("distances were rewritten: %v", r.DistanceFromPrev)
	}
	if r.Headways[0].StartHour != 9 || r.Intensity != nil {
		t.Fatalf("caller route was normalized in place")
	}
}

func TestTerminalEmptiesTram(t *testing.T) {
	r := simRoute(t, 3, 0)
	s, err := New(r, Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Env().Close()
	tram := s.trams[0]
	tram.Passengers = 95
	tram.Direction = model.Outbound
	s.serveStop(tram, 3)
	if tram.Passengers != 0 {
		t.Fatalf("expected empty tram at the terminal, got %d", tram.Passengers)
	}
	if got := tram.Stats.Log[0].Alighted; got != 95 {
		t.Fatalf("expected 95 alighted, got %d", got)
	}
}

func TestInterruptTripKeepsTramOut(t *testing.T) {
	s, err := New(simRoute(t, 3, 0), Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InterruptTrip(1, "early"); !errors.Is(err, ErrUnknownTrip) {
		t.Fatalf("expected ErrUnknownTrip before the run, got %v", err)
	}
	var got []TripAbandonedEvent
	s.Subscribe(func(e Event) {
		if ev, ok := e.(TripAbandonedEvent); ok {
			got = append(got, ev)
		}
	})
	if err := s.At(5, func() {
		if err := s.InterruptTrip(1, "breakdown"); err != nil {
			t.Errorf("interrupt: %v", err)
		}
	}); err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Abandoned) != 1 || len(got) != 1 {
		t.Fatalf("expected one abandonment, got %d (%d events)", len(res.Abandoned), len(got))
	}
	a := res.Abandoned[0]
	if a.TramID != 1 || a.Cause != "breakdown" || a.Time != 5 {
		t.Fatalf("unexpected abandonment %+v", a)
	}
	if res.Trams[0].Stats.Trips != 0 {
		t.Fatalf("abandoned trip was counted")
	}
	if res.Available+res.CheckedOut != 3 || res.CheckedOut < 1 {
		t.Fatalf("abandoned tram returned to the depot: %d out / %d idle", res.CheckedOut, res.Available)
	}
	if res.TripsCompleted != 4 {
		t.Fatalf("expected 4 completed trips with one tram lost, got %d", res.TripsCompleted)
	}
}

func TestRunTwice(t *testing.T) {
	s, err := New(simRoute(t, 2, 0), Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRan) {
		t.Fatalf("expected ErrAlreadyRan, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	s, err := New(simRoute(t, 3, 0), Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	var done *DoneEvent
	s.Subscribe(func(e Event) {
		if ev, ok := e.(DoneEvent); ok {
			done = &ev
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || done == nil || done.Completed {
		t.Fatalf("expected a partial result and an incomplete done event")
	}
}

func TestNewRejectsInvalidRoute(t *testing.T) {
	r := simRoute(t, 3, 0)
	r.TramCapacity = 0
	if _, err := New(r, Options{}); !errors.Is(err, model.ErrCapacityInvalid) {
		t.Fatalf("expected ErrCapacityInvalid, got %v", err)
	}
	if _, err := New(nil, Options{}); !errors.Is(err, model.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
