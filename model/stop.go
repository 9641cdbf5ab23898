package model

// WaitingSample is one point of a stop's waiting-passenger time series.
type WaitingSample struct {
	Time    float64 `json:"time"`
	Waiting int     `json:"waiting"`
}

// TramStop holds the passenger queue of one stop and its service counters.
type TramStop struct {
	ID               int             `json:"id"`
	Waiting          int             `json:"waiting"`
	LastServed       float64         `json:"last_served"`
	TotalWaitMinutes float64         `json:"total_wait_minutes"`
	PassengersServed int             `json:"passengers_served"`
	TotalArrivals    int             `json:"total_arrivals"`
	History          []WaitingSample `json:"history"`
}

// Elapsed returns minutes since the stop was last served, never negative.
func (s *TramStop) Elapsed(now float64) float64 {
	d := now - s.LastServed
	if d < 0 {
		return 0
	}
	return d
}

// AddArrivals adds newly arrived passengers to the queue.
func (s *TramStop) AddArrivals(n int) {
	if n <= 0 {
		return
	}
	s.Waiting += n
	s.TotalArrivals += n
}

// RecordWaiting appends the current queue length to the history.
func (s *TramStop) RecordWaiting(now float64) {
	s.History = append(s.History, WaitingSample{Time: now, Waiting: s.Waiting})
}

// Board moves as many waiting passengers onto the tram as it can take and marks the stop served at now.
// Each boarded passenger is credited half of the interval since the previous service
// (arrivals are assumed uniform over that interval). Returns the number boarded.
func (s *TramStop) Board(t *Tram, now float64) int {
	elapsed := s.Elapsed(now)
	boarded := 0
	if t != nil {
		boarded = t.Board(s.Waiting)
	}
	s.Waiting -= boarded
	if s.Waiting < 0 {
		s.Waiting = 0
	}
	if boarded > 0 {
		s.TotalWaitMinutes += float64(boarded) * elapsed / 2.0
		s.PassengersServed += boarded
		t.Stats.PassengersServed += boarded
	}
	s.LastServed = now
	return boarded
}

// AverageWait returns the mean credited wait per served passenger in minutes.
func (s *TramStop) AverageWait() float64 {
	if s.PassengersServed == 0 {
		return 0
	}
	return s.TotalWaitMinutes / float64(s.PassengersServed)
}
