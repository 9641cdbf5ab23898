package sim

import (
	"errors"
	"fmt"

	"tramsim/model"
)

// dispatch sends a tram out every headway for as long as the run lasts.
// The interval is read before waiting for a tram, so a long wait does not
// shorten the following gap.
func (s *Simulator) dispatch(p *Process) error {
	for {
		interval := s.route.HeadwayAt(model.HourOf(s.env.Now()))
		tram, err := s.pool.Acquire(p)
		if err != nil {
			return stopReason(err)
		}
		if err := s.launch(tram); err != nil {
			return err
		}
		if err := p.Timeout(interval); err != nil {
			return stopReason(err)
		}
	}
}

// stopReason lets a process end quietly when it was interrupted or the run halted.
func stopReason(err error) error {
	if errors.Is(err, ErrInterrupted) || errors.Is(err, ErrHalted) {
		return nil
	}
	return err
}

func (s *Simulator) launch(tram *model.Tram) error {
	s.dispatched++
	trip := tram.Stats.Trips + 1
	name := fmt.Sprintf("tram-%d-trip-%d", tram.ID, trip)
	at := &activeTrip{tram: tram}
	proc, err := s.env.Process(name, func(p *Process) error {
		err := s.runTrip(p, at)
		delete(s.active, tram.ID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrInterrupted):
			s.abandon(at, err)
			return nil
		case errors.Is(err, ErrHalted):
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	at.proc = proc
	s.active[tram.ID] = at
	s.log.Info("tram_dispatched", "tram", tram.ID, "trip", trip, "t", s.env.Now(),
		"available", s.pool.Available(), "checked_out", s.pool.CheckedOut())
	s.emit(TripStartEvent{Time: s.env.Now(), TramID: tram.ID, Trip: trip})
	return nil
}

// runTrip drives one round trip: outbound, turnaround, inbound, then back to the depot.
func (s *Simulator) runTrip(p *Process, at *activeTrip) error {
	tram := at.tram
	for _, dir := range []model.Direction{model.Outbound, model.Inbound} {
		tram.Direction = dir
		seq := s.route.StopSequence(dir)
		for i, stopID := range seq {
			if i > 0 {
				dist := s.route.HopDistance(seq[i-1], stopID)
				travel := s.demand.TravelTime(dist, model.HourOf(s.env.Now()))
				if err := p.Timeout(travel); err != nil {
					return err
				}
			}
			at.stopID = stopID
			if err := p.Timeout(s.serveStop(tram, stopID)); err != nil {
				return err
			}
		}
		if dir == model.Outbound {
			if err := p.Timeout(s.route.TurnaroundTime); err != nil {
				return err
			}
		}
	}
	tram.Direction = model.Outbound
	tram.Stats.Trips++
	s.trips++
	s.log.Info("tram_returned", "tram", tram.ID, "trips", tram.Stats.Trips, "t", s.env.Now(),
		"served", tram.Stats.PassengersServed)
	s.emit(TripEndEvent{Time: s.env.Now(), TramID: tram.ID, Trips: tram.Stats.Trips, PassengersServed: tram.Stats.PassengersServed})
	s.pool.Release(tram)
	return nil
}

// serveStop performs the passenger exchange at an arrival and returns the dwell time.
func (s *Simulator) serveStop(tram *model.Tram, stopID int) float64 {
	stop := s.stops[stopID-1]
	now := s.env.Now()
	terminal := stopID == s.route.Terminal(tram.Direction)

	alighted := tram.Alight(AlightingRate(s.route, stopID, tram.Direction), terminal)
	arrivals := s.demand.NewArrivals(stopID, model.HourOf(now), stop.Elapsed(now))
	stop.AddArrivals(arrivals)
	waitingBefore := stop.Waiting
	stop.RecordWaiting(now)
	boarded := stop.Board(tram, now)
	stop.RecordWaiting(now)

	util := tram.Utilization()
	s.served += boarded
	s.recordUtilization(util)
	visit := model.StopVisit{
		Time:             now,
		StopID:           stopID,
		Direction:        tram.Direction,
		WaitingBefore:    waitingBefore,
		Alighted:         alighted,
		Boarded:          boarded,
		UtilizationAfter: util,
	}
	tram.LogVisit(visit)
	s.log.Debug("stop_visit", "tram", tram.ID, "stop", stopID, "dir", tram.Direction, "t", now,
		"alighted", alighted, "boarded", boarded, "waiting", stop.Waiting, "util", util)
	s.emit(StopVisitEvent{
		TramID:       tram.ID,
		Visit:        visit,
		WaitingAfter: stop.Waiting,
		NewArrivals:  arrivals,
		Passengers:   tram.Passengers,
	})
	return DwellTime(s.route, boarded, alighted)
}

func (s *Simulator) abandon(at *activeTrip, err error) {
	cause := err.Error()
	var ie *InterruptError
	if errors.As(err, &ie) {
		cause = ie.Cause
	}
	a := Abandonment{
		Time:      s.env.Now(),
		TramID:    at.tram.ID,
		StopID:    at.stopID,
		Direction: at.tram.Direction,
		Cause:     cause,
	}
	s.abandoned = append(s.abandoned, a)
	s.log.Warn("trip_abandoned", "tram", a.TramID, "stop", a.StopID, "dir", a.Direction, "t", a.Time, "cause", cause)
	s.emit(TripAbandonedEvent(a))
}
