package sim

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tramsim/model"
)

func loggedTram() *model.Tram {
	t := &model.Tram{ID: 2, Capacity: 100}
	t.Stats.Trips = 1
	t.Stats.PassengersServed = 30
	t.LogVisit(model.StopVisit{Time: 12.5, StopID: 1, Direction: model.Outbound, WaitingBefore: 20, Boarded: 20, UtilizationAfter: 0.2})
	t.LogVisit(model.StopVisit{Time: 75, StopID: 2, Direction: model.Outbound, WaitingBefore: 10, Alighted: 4, Boarded: 10, UtilizationAfter: 0.26})
	return t
}

func TestWriteTramLog(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTramLog(&buf, loggedTram()); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "time_min,hour,stop,direction,waiting_before,alighted,boarded,utilization_pct" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	want := []string{"75.00", "1", "2", "outbound", "10", "4", "10", "26.0"}
	for i := range want {
		if rows[2][i] != want[i] {
			t.Fatalf("column %d: expected %s, got %s", i, want[i], rows[2][i])
		}
	}
}

func TestWriteTramLogsSkipsIdleTrams(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	trams := []*model.Tram{loggedTram(), {ID: 3, Capacity: 100}}
	paths, err := WriteTramLogs(dir, trams)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "tram_002.csv" {
		t.Fatalf("unexpected files %v", paths)
	}
	summary, err := WriteSummaryCSV(dir, trams)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(summary)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2,1,30,23.0,26.0,2") {
		t.Fatalf("unexpected summary:\n%s", b)
	}
}

func TestHourlyWaiting(t *testing.T) {
	st := &model.TramStop{ID: 1, History: []model.WaitingSample{
		{Time: 10, Waiting: 4},
		{Time: 20, Waiting: 6},
		{Time: 70, Waiting: 3},
		{Time: 200, Waiting: 50},
	}}
	got := HourlyWaiting([]*model.TramStop{st}, 3)[0]
	want := []float64{5, 3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hour %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSummaries(t *testing.T) {
	ts := SummarizeTrams([]*model.Tram{loggedTram()})[0]
	if ts.PeakUtilization != 0.26 || ts.StopsVisited != 2 {
		t.Fatalf("unexpected tram summary %+v", ts)
	}
	st := &model.TramStop{ID: 4, Waiting: 2, PassengersServed: 10, TotalWaitMinutes: 25,
		History: []model.WaitingSample{{Waiting: 7}, {Waiting: 2}}}
	ss := SummarizeStops([]*model.TramStop{st})[0]
	if ss.AvgWaitMin != 2.5 || ss.PeakWaiting != 7 || ss.Remaining != 2 {
		t.Fatalf("unexpected stop summary %+v", ss)
	}
}

func TestPrintConsoleReport(t *testing.T) {
	res, err := mustRun(t)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	PrintConsoleReport(&buf, res)
	out := buf.String()
	for _, want := range []string{"Route: test, 3 stops, 2.0 km", "Trips completed: 5", "Passengers served: 0", "Stop 3 "} {
		if !strings.Contains(out, want) {
			t.Fatalf("report misses %q:\n%s", want, out)
		}
	}
}

func mustRun(t *testing.T) (*Result, error) {
	t.Helper()
	s, err := New(simRoute(t, 3, 0), Options{Seed: 1})
	if err != nil {
		return nil, err
	}
	return s.Run(context.Background())
}
