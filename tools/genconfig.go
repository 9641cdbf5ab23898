package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"tramsim/data"
	"tramsim/model"
)

// genconfig writes a route file built from the hour tables in package data.
// Usage: go run ./tools -stops 10 -out configs/tram_config.yaml
func main() {
	stops := flag.Int("stops", 10, "number of stops")
	capacity := flag.Int("capacity", 120, "tram capacity")
	hours := flag.Float64("hours", 24, "simulated hours")
	speed := flag.Float64("speed", 40, "free-flow speed km/h")
	peak := flag.Int("peak_stop", 0, "busiest stop (0 = middle of the line)")
	fleet := flag.Int("fleet", model.DefaultFleetSize, "fleet size")
	minDist := flag.Int("min_distance", 400, "minimum hop length in meters")
	maxDist := flag.Int("max_distance", 800, "maximum hop length in meters")
	seed := flag.Int64("seed", 1, "seed for hop lengths, also written as the run seed")
	out := flag.String("out", "configs/tram_config.json", "output file (.json, .yaml or .yml)")
	flag.Parse()

	if *stops < 1 || *maxDist < *minDist || *minDist < 0 {
		fmt.Fprintln(os.Stderr, "invalid stop count or distance range")
		os.Exit(2)
	}
	if *peak == 0 {
		*peak = (*stops + 1) / 2
	}
	rng := rand.New(rand.NewSource(*seed))

	route := &model.Route{
		StopCount:         *stops,
		DistanceFromPrev:  make([]float64, *stops),
		FreeFlowSpeedKmph: *speed,
		TramCapacity:      *capacity,
		PeakStop:          *peak,
		AccelerationTime:  model.DefaultAccelerationTime,
		DwellTime:         model.DefaultDwellTime,
		TurnaroundTime:    model.DefaultTurnaroundTime,
		HorizonHours:      *hours,
		FleetSize:         *fleet,
		TargetUtilization: model.DefaultTargetUtilization,
		DefaultRoadLoad:   model.DefaultRoadLoad,
		RoadLoads:         make(map[int]float64, 24),
		Seed:              *seed,
	}
	// hop lengths rounded down to 50 m
	for i := 1; i < *stops; i++ {
		d := *minDist + rng.Intn(*maxDist-*minDist+1)
		route.DistanceFromPrev[i] = float64(d / 50 * 50)
	}
	for id := 1; id <= *stops; id++ {
		base := data.BaseIntensity(id, *stops)
		var row [24]float64
		for h := range row {
			row[h] = float64(int(base * data.HourDemandCoefficient[h]))
		}
		route.Intensity = append(route.Intensity, row)
	}
	for _, hw := range data.DefaultHeadways {
		route.Headways = append(route.Headways, model.HeadwayRule{StartHour: int(hw[0]), IntervalMin: hw[1]})
	}
	for h := 0; h < 24; h++ {
		route.RoadLoads[h] = data.RoadLoad(h, data.PeakRoadHours)
	}
	if err := route.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if dir := filepath.Dir(*out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := model.WriteRoute(f, route, model.FormatForPath(*out)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s: %d stops, %.1f km, capacity %d, %.0f h\n", *out, *stops, route.LengthMeters()/1000, *capacity, *hours)
}
