package model

import (
	"fmt"
	"sort"
)

const hoursPerDay = 24

// HeadwayRule starts dispatching every IntervalMin minutes from StartHour on.
type HeadwayRule struct {
	StartHour   int     `json:"start_hour"`
	IntervalMin float64 `json:"interval_min"`
}

// Route is the immutable description of the tram line and its demand.
// Stops are numbered 1..StopCount; outbound runs in ascending id order.
type Route struct {
	Name              string                 `json:"name,omitempty"`
	StopCount         int                    `json:"stop_number"`
	DistanceFromPrev  []float64              `json:"distance_from_prev_m"` // index stop-1, first entry 0
	Intensity         [][hoursPerDay]float64 `json:"intensity"`            // index stop-1, passengers/hour
	Headways          []HeadwayRule          `json:"headways"`
	RoadLoads         map[int]float64        `json:"road_loads"`
	DefaultRoadLoad   float64                `json:"default_road_load"`
	FreeFlowSpeedKmph float64                `json:"flow_speed"`
	TramCapacity      int                    `json:"tram_capacity"`
	PeakStop          int                    `json:"peak_stop"`
	AccelerationTime  float64                `json:"acceleration_time"`
	DwellTime         float64                `json:"stop_time"`
	TurnaroundTime    float64                `json:"turnaround_time"`
	HorizonHours      float64                `json:"simulation_hours"`
	FleetSize         int                    `json:"fleet_size"`
	TargetUtilization float64                `json:"target_utilization"`
	Seed              int64                  `json:"seed"`

	cumulative []float64
}

// Validate checks the route for structural errors and prepares derived lookups.
// It must be called once before the route is shared.
func (r *Route) Validate() error {
	if r.StopCount < 1 {
		return fmt.Errorf("%w: stop_number must be >= 1, got %d", ErrConfigInvalid, r.StopCount)
	}
	if r.TramCapacity <= 0 {
		return fmt.Errorf("%w: %d", ErrCapacityInvalid, r.TramCapacity)
	}
	if r.FreeFlowSpeedKmph <= 0 {
		return fmt.Errorf("%w: flow_speed must be > 0", ErrConfigInvalid)
	}
	if r.HorizonHours <= 0 {
		return fmt.Errorf("%w: simulation_hours must be > 0", ErrConfigInvalid)
	}
	if r.FleetSize <= 0 {
		return fmt.Errorf("%w: fleet_size must be > 0", ErrConfigInvalid)
	}
	if len(r.Headways) == 0 {
		return fmt.Errorf("%w: at least one bus_interval rule is required", ErrConfigInvalid)
	}
	for _, h := range r.Headways {
		if h.StartHour < 0 || h.StartHour >= hoursPerDay {
			return fmt.Errorf("%w: bus_interval start hour %d out of range", ErrConfigInvalid, h.StartHour)
		}
		if h.IntervalMin <= 0 {
			return fmt.Errorf("%w: bus_interval %d has non-positive interval", ErrConfigInvalid, h.StartHour)
		}
	}
	if r.PeakStop < 1 || r.PeakStop > r.StopCount {
		return fmt.Errorf("%w: peak_stop %d outside 1..%d", ErrConfigInvalid, r.PeakStop, r.StopCount)
	}
	if r.AccelerationTime < 0 || r.DwellTime < 0 || r.TurnaroundTime < 0 {
		return fmt.Errorf("%w: acceleration, stop and turnaround times must be >= 0", ErrConfigInvalid)
	}
	if r.DefaultRoadLoad < 0 || r.DefaultRoadLoad > 1 {
		return fmt.Errorf("%w: default_road_load %.2f outside [0,1]", ErrConfigInvalid, r.DefaultRoadLoad)
	}
	for h, f := range r.RoadLoads {
		if h < 0 || h >= hoursPerDay {
			return fmt.Errorf("%w: road_loads hour %d out of range", ErrConfigInvalid, h)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: road_loads hour %d factor %.2f outside [0,1]", ErrConfigInvalid, h, f)
		}
	}

	if len(r.DistanceFromPrev) > r.StopCount {
		return fmt.Errorf("%w: %d distances for %d stops", ErrConfigInvalid, len(r.DistanceFromPrev), r.StopCount)
	}
	for len(r.DistanceFromPrev) < r.StopCount {
		r.DistanceFromPrev = append(r.DistanceFromPrev, 0)
	}
	r.DistanceFromPrev[0] = 0
	for i, d := range r.DistanceFromPrev {
		if d < 0 {
			return fmt.Errorf("%w: stop %d has negative distance", ErrConfigInvalid, i+1)
		}
	}
	if len(r.Intensity) > r.StopCount {
		return fmt.Errorf("%w: intensity rows for %d stops, route has %d", ErrConfigInvalid, len(r.Intensity), r.StopCount)
	}
	for len(r.Intensity) < r.StopCount {
		r.Intensity = append(r.Intensity, [hoursPerDay]float64{})
	}
	for i, row := range r.Intensity {
		for h, v := range row {
			if v < 0 {
				return fmt.Errorf("%w: stop %d hour %d has negative intensity", ErrConfigInvalid, i+1, h)
			}
		}
	}

	sort.SliceStable(r.Headways, func(i, j int) bool { return r.Headways[i].StartHour < r.Headways[j].StartHour })
	r.cumulative = make([]float64, r.StopCount)
	var sum float64
	for i, d := range r.DistanceFromPrev {
		sum += d
		r.cumulative[i] = sum
	}
	return nil
}

// HourOf maps virtual minutes to hour-of-day.
func HourOf(minutes float64) int {
	if minutes < 0 {
		return 0
	}
	return int(minutes/60) % hoursPerDay
}

// HorizonMinutes returns the simulated duration in minutes.
func (r *Route) HorizonMinutes() float64 { return r.HorizonHours * 60 }

// IntensityAt returns expected passengers per hour for a stop at an hour of day.
func (r *Route) IntensityAt(stopID, hour int) float64 {
	if stopID < 1 || stopID > len(r.Intensity) || hour < 0 || hour >= hoursPerDay {
		return 0
	}
	return r.Intensity[stopID-1][hour]
}

// HeadwayAt returns the dispatch interval for an hour: the last rule whose start hour is <= hour,
// or the first rule when none matches.
func (r *Route) HeadwayAt(hour int) float64 {
	if len(r.Headways) == 0 {
		return 0
	}
	for i := len(r.Headways) - 1; i >= 0; i-- {
		if hour >= r.Headways[i].StartHour {
			return r.Headways[i].IntervalMin
		}
	}
	return r.Headways[0].IntervalMin
}

// RoadLoadAt returns the congestion factor for an hour, falling back to DefaultRoadLoad.
func (r *Route) RoadLoadAt(hour int) float64 {
	if f, ok := r.RoadLoads[hour]; ok {
		return f
	}
	return r.DefaultRoadLoad
}

// HopDistance returns meters between two adjacent stops in either direction, 0 otherwise.
func (r *Route) HopDistance(from, to int) float64 {
	switch {
	case to == from+1 && to >= 2 && to <= len(r.DistanceFromPrev):
		return r.DistanceFromPrev[to-1]
	case to == from-1 && from >= 2 && from <= len(r.DistanceFromPrev):
		return r.DistanceFromPrev[from-1]
	}
	return 0
}

// Terminal returns the last stop of a leg.
func (r *Route) Terminal(dir Direction) int {
	if dir == Inbound {
		return 1
	}
	return r.StopCount
}

// StopSequence returns stop ids in visiting order for a leg.
func (r *Route) StopSequence(dir Direction) []int {
	seq := make([]int, r.StopCount)
	for i := range seq {
		if dir == Inbound {
			seq[i] = r.StopCount - i
		} else {
			seq[i] = i + 1
		}
	}
	return seq
}

// Progress returns the fraction of the leg already covered at a stop:
// 0 at the origin terminal, 1 at the destination terminal.
func (r *Route) Progress(stopID int, dir Direction) float64 {
	n := r.StopCount
	if stopID < 1 || stopID > n {
		return 0
	}
	if n == 1 {
		return 1
	}
	var total, at float64
	if len(r.cumulative) == n {
		total = r.cumulative[n-1]
		at = r.cumulative[stopID-1]
	}
	if total <= 0 {
		if dir == Inbound {
			return float64(n-stopID) / float64(n-1)
		}
		return float64(stopID-1) / float64(n-1)
	}
	if dir == Inbound {
		return (total - at) / total
	}
	return at / total
}

// LengthMeters returns the end-to-end line length.
func (r *Route) LengthMeters() float64 {
	var sum float64
	for _, d := range r.DistanceFromPrev {
		sum += d
	}
	return sum
}

// Clone returns a deep copy that can be modified and validated independently.
func (r *Route) Clone() *Route {
	c := *r
	c.DistanceFromPrev = append([]float64(nil), r.DistanceFromPrev...)
	c.Intensity = append([][hoursPerDay]float64(nil), r.Intensity...)
	c.Headways = append([]HeadwayRule(nil), r.Headways...)
	c.RoadLoads = make(map[int]float64, len(r.RoadLoads))
	for h, f := range r.RoadLoads {
		c.RoadLoads[h] = f
	}
	c.cumulative = append([]float64(nil), r.cumulative...)
	return &c
}
