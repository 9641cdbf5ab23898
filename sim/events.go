package sim

import "tramsim/model"

// Event is a marker for all simulation events emitted to subscribers.
type Event interface{ isEvent() }

// TripStartEvent is emitted when the dispatcher sends a tram out.
type TripStartEvent struct {
	Time   float64 `json:"time"`
	TramID int     `json:"tram_id"`
	Trip   int     `json:"trip"`
}

func (TripStartEvent) isEvent() {}

// StopVisitEvent carries one stop visit together with the stop queue around boarding.
type StopVisitEvent struct {
	TramID       int             `json:"tram_id"`
	Visit        model.StopVisit `json:"visit"`
	WaitingAfter int             `json:"waiting_after"`
	NewArrivals  int             `json:"new_arrivals"`
	Passengers   int             `json:"passengers"`
}

func (StopVisitEvent) isEvent() {}

// TripEndEvent indicates a tram finished both legs and went back to the depot.
type TripEndEvent struct {
	Time             float64 `json:"time"`
	TramID           int     `json:"tram_id"`
	Trips            int     `json:"trips"`
	PassengersServed int     `json:"passengers_served"`
}

func (TripEndEvent) isEvent() {}

// TripAbandonedEvent indicates a trip was interrupted. The tram is not returned to the depot.
type TripAbandonedEvent struct {
	Time      float64         `json:"time"`
	TramID    int             `json:"tram_id"`
	StopID    int             `json:"stop_id"`
	Direction model.Direction `json:"direction"`
	Cause     string          `json:"cause"`
}

func (TripAbandonedEvent) isEvent() {}

// DoneEvent signals the horizon was reached and carries fleet aggregates.
type DoneEvent struct {
	Time                     float64 `json:"time"`
	Completed                bool    `json:"completed"`
	TotalServed              int     `json:"total_served"`
	TripsCompleted           int     `json:"trips_completed"`
	TripsAbandoned           int     `json:"trips_abandoned"`
	MeanUtilizationDeviation float64 `json:"mean_utilization_deviation"`
	CheckedOut               int     `json:"checked_out"`
}

func (DoneEvent) isEvent() {}

// EventName returns a short type name used for SSE event names and message headers.
func EventName(e Event) string {
	switch e.(type) {
	case TripStartEvent:
		return "trip_start"
	case StopVisitEvent:
		return "stop_visit"
	case TripEndEvent:
		return "trip_end"
	case TripAbandonedEvent:
		return "trip_abandoned"
	case DoneEvent:
		return "done"
	}
	return "unknown"
}

// EventTramID returns the tram an event refers to, or 0 for fleet-wide events.
func EventTramID(e Event) int {
	switch ev := e.(type) {
	case TripStartEvent:
		return ev.TramID
	case StopVisitEvent:
		return ev.TramID
	case TripEndEvent:
		return ev.TramID
	case TripAbandonedEvent:
		return ev.TramID
	}
	return 0
}

// EventTime returns the virtual time an event happened at.
func EventTime(e Event) float64 {
	switch ev := e.(type) {
	case TripStartEvent:
		return ev.Time
	case StopVisitEvent:
		return ev.Visit.Time
	case TripEndEvent:
		return ev.Time
	case TripAbandonedEvent:
		return ev.Time
	case DoneEvent:
		return ev.Time
	}
	return 0
}
