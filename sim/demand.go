package sim

import (
	"math"
	"math/rand"

	"tramsim/model"
)

// Tuning constants of the demand and motion model.
const (
	baseAlightRate    = 0.2
	peakAlightFactor  = 2.0
	progressAlightMul = 0.3
	maxAlightRate     = 0.8
	minSpeedKmph      = 5.0
	speedJitterLow    = 0.95
	speedJitterSpan   = 0.10
	perPassengerDwell = 0.05
)

// Demand draws every stochastic quantity of a run from one seeded source.
type Demand struct {
	route *model.Route
	rng   *rand.Rand
}

// NewDemand binds a route to a random source.
func NewDemand(route *model.Route, rng *rand.Rand) *Demand {
	return &Demand{route: route, rng: rng}
}

// NewArrivals samples the passengers that reached a stop during elapsed minutes.
func (d *Demand) NewArrivals(stopID, hour int, elapsed float64) int {
	expected := d.route.IntensityAt(stopID, hour) * elapsed / 60.0
	return SampleArrivals(d.rng, expected)
}

// SampleArrivals draws max(0, round(N(expected, sqrt(expected)))).
// A non-positive expectation yields 0 without consuming randomness.
func SampleArrivals(rng *rand.Rand, expected float64) int {
	if expected <= 0 {
		return 0
	}
	v := math.Round(rng.NormFloat64()*math.Sqrt(expected) + expected)
	if v < 0 {
		return 0
	}
	return int(v)
}

// AlightingRate is the share of riders leaving at a non-terminal stop.
// It grows with progress along the leg and doubles its base at the peak stop.
func AlightingRate(route *model.Route, stopID int, dir model.Direction) float64 {
	base := baseAlightRate
	if stopID == route.PeakStop {
		base *= peakAlightFactor
	}
	return math.Min(maxAlightRate, base+progressAlightMul*route.Progress(stopID, dir))
}

// TravelTime returns minutes needed for a hop of distance meters in the given hour.
// Zero-length hops take no time.
func (d *Demand) TravelTime(distance float64, hour int) float64 {
	if distance <= 0 {
		return 0
	}
	jitter := speedJitterLow + speedJitterSpan*d.rng.Float64()
	speed := d.route.FreeFlowSpeedKmph * (1 - d.route.RoadLoadAt(hour)) * jitter
	if speed < minSpeedKmph {
		speed = minSpeedKmph
	}
	return d.route.AccelerationTime + distance/1000.0*60.0/speed
}

// DwellTime returns how long a tram stays at a stop after exchanging passengers.
func DwellTime(route *model.Route, boarded, alighted int) float64 {
	return route.DwellTime + perPassengerDwell*float64(boarded+alighted)
}
