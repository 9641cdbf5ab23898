package model

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the encoding of a route file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// raw structure matching the generated config files
type rawRoute struct {
	Name              string      `json:"name" yaml:"name"`
	StopNumber        *int        `json:"stop_number" yaml:"stop_number"`
	Distance          [][]float64 `json:"distance" yaml:"distance"`
	Intensity         [][]float64 `json:"intensity" yaml:"intensity"`
	BusInterval       [][]float64 `json:"bus_interval" yaml:"bus_interval"`
	RoadLoads         [][]float64 `json:"road_loads" yaml:"road_loads"`
	FlowSpeed         *float64    `json:"flow_speed" yaml:"flow_speed"`
	PeakStop          *int        `json:"peak_stop" yaml:"peak_stop"`
	TramCapacity      *int        `json:"tram_capacity" yaml:"tram_capacity"`
	SimulationHours   *float64    `json:"simulation_hours" yaml:"simulation_hours"`
	AccelerationTime  *float64    `json:"acceleration_time" yaml:"acceleration_time"`
	StopTime          *float64    `json:"stop_time" yaml:"stop_time"`
	TurnaroundTime    *float64    `json:"turnaround_time" yaml:"turnaround_time"`
	FleetSize         *int        `json:"fleet_size" yaml:"fleet_size"`
	TargetUtilization *float64    `json:"target_utilization" yaml:"target_utilization"`
	DefaultRoadLoad   *float64    `json:"default_road_load" yaml:"default_road_load"`
	Seed              int64       `json:"seed" yaml:"seed"`
}

// Defaults applied when optional fields are absent.
const (
	DefaultAccelerationTime  = 0.5
	DefaultDwellTime         = 1.0
	DefaultTurnaroundTime    = 2.0
	DefaultFleetSize         = 8
	DefaultTargetUtilization = 0.75
	DefaultRoadLoad          = 0.5
)

// FormatForPath picks the encoding from a file extension; anything but .yaml/.yml is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadRouteFile opens and parses a route file.
func LoadRouteFile(path string) (*Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConfigInvalid, path, err)
	}
	defer f.Close()
	route, err := LoadRouteFromReader(f, FormatForPath(path))
	if err != nil {
		return nil, err
	}
	if route.Name == "" {
		route.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return route, nil
}

// LoadRouteFromReader parses and validates a route config in the given format.
func LoadRouteFromReader(r io.Reader, format Format) (*Route, error) {
	var raw rawRoute
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: decode route yaml: %v", ErrConfigInvalid, err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: decode route json: %v", ErrConfigInvalid, err)
		}
	}
	route, err := raw.build()
	if err != nil {
		return nil, err
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	return route, nil
}

func (raw *rawRoute) build() (*Route, error) {
	missing := make([]string, 0)
	if raw.StopNumber == nil {
		missing = append(missing, "stop_number")
	}
	if raw.Distance == nil {
		missing = append(missing, "distance")
	}
	if raw.Intensity == nil {
		missing = append(missing, "intensity")
	}
	if raw.BusInterval == nil {
		missing = append(missing, "bus_interval")
	}
	if raw.FlowSpeed == nil {
		missing = append(missing, "flow_speed")
	}
	if raw.PeakStop == nil {
		missing = append(missing, "peak_stop")
	}
	if raw.TramCapacity == nil {
		missing = append(missing, "tram_capacity")
	}
	if raw.SimulationHours == nil {
		missing = append(missing, "simulation_hours")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrConfigInvalid, strings.Join(missing, ", "))
	}

	n := *raw.StopNumber
	if n < 1 {
		return nil, fmt.Errorf("%w: stop_number must be >= 1, got %d", ErrConfigInvalid, n)
	}
	route := &Route{
		Name:              raw.Name,
		StopCount:         n,
		DistanceFromPrev:  make([]float64, n),
		Intensity:         make([][hoursPerDay]float64, n),
		RoadLoads:         make(map[int]float64, len(raw.RoadLoads)),
		FreeFlowSpeedKmph: *raw.FlowSpeed,
		TramCapacity:      *raw.TramCapacity,
		PeakStop:          *raw.PeakStop,
		HorizonHours:      *raw.SimulationHours,
		AccelerationTime:  floatOr(raw.AccelerationTime, DefaultAccelerationTime),
		DwellTime:         floatOr(raw.StopTime, DefaultDwellTime),
		TurnaroundTime:    floatOr(raw.TurnaroundTime, DefaultTurnaroundTime),
		TargetUtilization: floatOr(raw.TargetUtilization, DefaultTargetUtilization),
		DefaultRoadLoad:   floatOr(raw.DefaultRoadLoad, DefaultRoadLoad),
		FleetSize:         DefaultFleetSize,
		Seed:              raw.Seed,
	}
	if raw.FleetSize != nil {
		route.FleetSize = *raw.FleetSize
	}

	for i, row := range raw.Distance {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: distance entry %d must be [stop, meters]", ErrConfigInvalid, i)
		}
		id, err := stopIndex(row[0], n)
		if err != nil {
			return nil, fmt.Errorf("%w: distance entry %d: %v", ErrConfigInvalid, i, err)
		}
		route.DistanceFromPrev[id-1] = row[1]
	}
	for i, row := range raw.Intensity {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: intensity entry %d must be [stop, hour, passengers]", ErrConfigInvalid, i)
		}
		id, err := stopIndex(row[0], n)
		if err != nil {
			return nil, fmt.Errorf("%w: intensity entry %d: %v", ErrConfigInvalid, i, err)
		}
		hour, err := hourIndex(row[1])
		if err != nil {
			return nil, fmt.Errorf("%w: intensity entry %d: %v", ErrConfigInvalid, i, err)
		}
		route.Intensity[id-1][hour] = row[2]
	}
	for i, row := range raw.BusInterval {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: bus_interval entry %d must be [hour, minutes]", ErrConfigInvalid, i)
		}
		hour, err := hourIndex(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bus_interval entry %d: %v", ErrConfigInvalid, i, err)
		}
		route.Headways = append(route.Headways, HeadwayRule{StartHour: hour, IntervalMin: row[1]})
	}
	for i, row := range raw.RoadLoads {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: road_loads entry %d must be [hour, factor]", ErrConfigInvalid, i)
		}
		hour, err := hourIndex(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: road_loads entry %d: %v", ErrConfigInvalid, i, err)
		}
		route.RoadLoads[hour] = row[1]
	}
	return route, nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func stopIndex(v float64, n int) (int, error) {
	if v != math.Trunc(v) || v < 1 || int(v) > n {
		return 0, fmt.Errorf("stop %v outside 1..%d", v, n)
	}
	return int(v), nil
}

func hourIndex(v float64) (int, error) {
	if v != math.Trunc(v) || v < 0 || v >= hoursPerDay {
		return 0, fmt.Errorf("hour %v outside 0..23", v)
	}
	return int(v), nil
}

// WriteRoute encodes a route in the same shape LoadRouteFromReader reads.
func WriteRoute(w io.Writer, r *Route, format Format) error {
	raw := map[string]any{
		"name":               r.Name,
		"stop_number":        r.StopCount,
		"distance":           distanceRows(r),
		"intensity":          intensityRows(r),
		"bus_interval":       headwayRows(r),
		"road_loads":         roadLoadRows(r),
		"flow_speed":         r.FreeFlowSpeedKmph,
		"peak_stop":          r.PeakStop,
		"tram_capacity":      r.TramCapacity,
		"simulation_hours":   r.HorizonHours,
		"acceleration_time":  r.AccelerationTime,
		"stop_time":          r.DwellTime,
		"turnaround_time":    r.TurnaroundTime,
		"fleet_size":         r.FleetSize,
		"target_utilization": r.TargetUtilization,
		"default_road_load":  r.DefaultRoadLoad,
		"seed":               r.Seed,
	}
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(raw); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

func distanceRows(r *Route) [][]float64 {
	rows := make([][]float64, 0, len(r.DistanceFromPrev))
	for i, d := range r.DistanceFromPrev {
		rows = append(rows, []float64{float64(i + 1), d})
	}
	return rows
}

func intensityRows(r *Route) [][]float64 {
	rows := make([][]float64, 0, len(r.Intensity)*hoursPerDay)
	for i, row := range r.Intensity {
		for h, v := range row {
			rows = append(rows, []float64{float64(i + 1), float64(h), v})
		}
	}
	return rows
}

func headwayRows(r *Route) [][]float64 {
	rows := make([][]float64, 0, len(r.Headways))
	for _, h := range r.Headways {
		rows = append(rows, []float64{float64(h.StartHour), h.IntervalMin})
	}
	return rows
}

func roadLoadRows(r *Route) [][]float64 {
	rows := make([][]float64, 0, hoursPerDay)
	for h := 0; h < hoursPerDay; h++ {
		if f, ok := r.RoadLoads[h]; ok {
			rows = append(rows, []float64{float64(h), f})
		}
	}
	return rows
}
