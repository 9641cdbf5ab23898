package data

// HourDemandCoefficient scales a stop's base intensity by hour of day.
// Morning peak at 7-8, evening peak at 17-18.
var HourDemandCoefficient = [24]float64{
	0.02, 0.01, 0.01, 0.01, 0.02, 0.1, // 0-5
	0.8, 2.0, 2.5, 1.2, 0.9, 0.9, // 6-11
	1.0, 0.9, 0.8, 0.9, 1.2, 2.2, // 12-17
	2.8, 1.5, 0.8, 0.5, 0.2, 0.05, // 18-23
}

// DefaultHeadways lists {start hour, dispatch interval in minutes}.
var DefaultHeadways = [][2]float64{
	{0, 120},
	{6, 30},
	{8, 15},
	{10, 20},
	{17, 15},
	{20, 30},
	{23, 120},
}

// PeakRoadHours are the hours with the heaviest road congestion.
var PeakRoadHours = []int{8, 9, 17, 18}

// RoadLoad returns the congestion factor (0..1) for an hour given the peak hours.
func RoadLoad(hour int, peak []int) float64 {
	for _, h := range peak {
		if h == hour {
			return 0.9
		}
	}
	switch {
	case (hour >= 7 && hour < 10) || (hour >= 16 && hour < 20):
		return 0.7
	case hour >= 10 && hour < 16:
		return 0.6
	case (hour >= 20 && hour < 23) || hour == 6:
		return 0.4
	}
	return 0.1
}

// BaseIntensity returns passengers/hour for stop (1-based) on a line of n stops;
// stops near the middle of the line are busier.
func BaseIntensity(stop, n int) float64 {
	center := float64(n) / 2
	d := float64(stop) - center
	if d < 0 {
		d = -d
	}
	return float64(80 + int((float64(n)-d)*5))
}
