package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"tramsim/model"
)

// TramSummary carries end-of-run figures for one tram.
type TramSummary struct {
	TramID           int     `json:"tram_id"`
	Trips            int     `json:"trips"`
	PassengersServed int     `json:"passengers_served"`
	AvgUtilization   float64 `json:"avg_utilization"`
	PeakUtilization  float64 `json:"peak_utilization"`
	StopsVisited     int     `json:"stops_visited"`
}

// StopSummary carries end-of-run figures for one stop.
type StopSummary struct {
	StopID           int     `json:"stop_id"`
	PassengersServed int     `json:"passengers_served"`
	TotalArrivals    int     `json:"total_arrivals"`
	AvgWaitMin       float64 `json:"avg_wait_min"`
	Remaining        int     `json:"remaining"`
	PeakWaiting      int     `json:"peak_waiting"`
}

// SummarizeTrams reduces every tram's log. Trams that never left the depot get zero figures.
func SummarizeTrams(trams []*model.Tram) []TramSummary {
	out := make([]TramSummary, 0, len(trams))
	for _, t := range trams {
		s := TramSummary{
			TramID:           t.ID,
			Trips:            t.Stats.Trips,
			PassengersServed: t.Stats.PassengersServed,
			StopsVisited:     len(t.Stats.Log),
		}
		if h := t.Stats.UtilizationHistory; len(h) > 0 {
			var sum float64
			for _, u := range h {
				sum += u
				if u > s.PeakUtilization {
					s.PeakUtilization = u
				}
			}
			s.AvgUtilization = sum / float64(len(h))
		}
		out = append(out, s)
	}
	return out
}

// SummarizeStops reduces every stop's counters and history.
func SummarizeStops(stops []*model.TramStop) []StopSummary {
	out := make([]StopSummary, 0, len(stops))
	for _, st := range stops {
		s := StopSummary{
			StopID:           st.ID,
			PassengersServed: st.PassengersServed,
			TotalArrivals:    st.TotalArrivals,
			AvgWaitMin:       st.AverageWait(),
			Remaining:        st.Waiting,
		}
		for _, w := range st.History {
			if w.Waiting > s.PeakWaiting {
				s.PeakWaiting = w.Waiting
			}
		}
		out = append(out, s)
	}
	return out
}

// HourlyWaiting returns, per stop, the mean sampled queue length of every hour of the run.
// Hours without samples are 0.
func HourlyWaiting(stops []*model.TramStop, hours int) [][]float64 {
	if hours < 0 {
		hours = 0
	}
	out := make([][]float64, len(stops))
	for i, st := range stops {
		sums := make([]float64, hours)
		counts := make([]int, hours)
		for _, w := range st.History {
			h := int(w.Time / 60)
			if h < 0 || h >= hours {
				continue
			}
			sums[h] += float64(w.Waiting)
			counts[h]++
		}
		for h := range sums {
			if counts[h] > 0 {
				sums[h] /= float64(counts[h])
			}
		}
		out[i] = sums
	}
	return out
}

var tramLogHeader = []string{"time_min", "hour", "stop", "direction", "waiting_before", "alighted", "boarded", "utilization_pct"}

// WriteTramLog writes one tram's stop log as CSV.
func WriteTramLog(w io.Writer, t *model.Tram) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tramLogHeader); err != nil {
		return err
	}
	for _, v := range t.Stats.Log {
		rec := []string{
			strconv.FormatFloat(v.Time, 'f', 2, 64),
			strconv.Itoa(model.HourOf(v.Time)),
			strconv.Itoa(v.StopID),
			string(v.Direction),
			strconv.Itoa(v.WaitingBefore),
			strconv.Itoa(v.Alighted),
			strconv.Itoa(v.Boarded),
			strconv.FormatFloat(v.UtilizationAfter*100, 'f', 1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTramLogs writes tram_%03d.csv into dir for every tram with at least one visit.
// It returns the written paths.
func WriteTramLogs(dir string, trams []*model.Tram) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	var paths []string
	for _, t := range trams {
		if len(t.Stats.Log) == 0 {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("tram_%03d.csv", t.ID))
		if err := writeFile(path, func(w io.Writer) error { return WriteTramLog(w, t) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteSummaryCSV writes trams_summary.csv into dir, skipping trams that never served a stop.
func WriteSummaryCSV(dir string, trams []*model.Tram) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, "trams_summary.csv")
	err := writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"tram_id", "trips", "passengers_served", "avg_utilization_pct", "peak_utilization_pct", "stops_visited"})
		for _, s := range SummarizeTrams(trams) {
			if s.StopsVisited == 0 {
				continue
			}
			_ = cw.Write([]string{
				strconv.Itoa(s.TramID),
				strconv.Itoa(s.Trips),
				strconv.Itoa(s.PassengersServed),
				strconv.FormatFloat(s.AvgUtilization*100, 'f', 1, 64),
				strconv.FormatFloat(s.PeakUtilization*100, 'f', 1, 64),
				strconv.Itoa(s.StopsVisited),
			})
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// PrintConsoleReport prints a human-readable report.
func PrintConsoleReport(w io.Writer, res *Result) {
	fmt.Fprintln(w, "=== Simulation Report ===")
	if res.Route != nil {
		fmt.Fprintf(w, "Route: %s, %d stops, %.1f km\n", res.Route.Name, res.Route.StopCount, res.Route.LengthMeters()/1000)
	}
	fmt.Fprintf(w, "Simulated time: %.1f minutes\n", res.EndTime)
	fmt.Fprintf(w, "Fleet: %d trams (%d in depot, %d in service)\n", len(res.Trams), res.Available, res.CheckedOut)
	fmt.Fprintf(w, "Trips completed: %d\n", res.TripsCompleted)
	fmt.Fprintf(w, "Trips abandoned: %d\n", len(res.Abandoned))
	fmt.Fprintf(w, "Passengers served: %d\n", res.TotalServed)
	fmt.Fprintf(w, "Mean utilization deviation from %.0f%%: %.1f%%\n", res.TargetUtilization*100, res.MeanUtilizationDeviation*100)
	for _, s := range SummarizeTrams(res.Trams) {
		fmt.Fprintf(w, "Tram %d trips=%d served=%d avg_util=%.1f%% peak_util=%.1f%%\n",
			s.TramID, s.Trips, s.PassengersServed, s.AvgUtilization*100, s.PeakUtilization*100)
	}
	for _, s := range SummarizeStops(res.Stops) {
		fmt.Fprintf(w, "Stop %d served=%d avg_wait=%.2f min remaining=%d peak=%d\n",
			s.StopID, s.PassengersServed, s.AvgWaitMin, s.Remaining, s.PeakWaiting)
	}
}
