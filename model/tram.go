package model

// Direction is the leg a tram is currently running.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)


// StopVisit is one entry of a tram's per-stop event log.
type StopVisit struct {
	Time             float64   `json:"time"`
	StopID           int       `json:"stop_id"`
	Direction        Direction `json:"direction"`
	WaitingBefore    int       `json:"waiting_before"` // includes arrivals generated at this visit
	Alighted         int       `json:"alighted"`
	Boarded          int       `json:"boarded"`
	UtilizationAfter float64   `json:"utilization_after"`
}

// TramStats holds cumulative per-tram statistics.
type TramStats struct {
	Trips              int         `json:"trips"`
	PassengersServed   int         `json:"passengers_served"`
	PassengersAlighted int         `json:"passengers_alighted"`
	UtilizationHistory []float64   `json:"utilization_history"`
	Log                []StopVisit `json:"log"`
}

// Tram represents an individual vehicle of the fleet.
type Tram struct {
	ID         int       `json:"id"`
	Capacity   int       `json:"capacity"`
	Passengers int       `json:"passengers"`
	Direction  Direction `json:"direction"`
	Stats      TramStats `json:"stats"`
}

// FreeSeats returns how many more passengers can board.
func (t *Tram) FreeSeats() int {
	rem := t.Capacity - t.Passengers
	if rem < 0 {
		return 0
	}
	return rem
}

// Utilization returns the fraction (0..1) of capacity occupied.
func (t *Tram) Utilization() float64 {
	if t.Capacity <= 0 {
		return 0
	}
	return float64(t.Passengers) / float64(t.Capacity)
}

// Board attempts to board up to n waiting passengers.
// It returns the number actually boarded (0..n).
func (t *Tram) Board(n int) int {
	if n <= 0 {
		return 0
	}
	boarded := n
	if free := t.FreeSeats(); boarded > free {
		boarded = free
	}
	t.Passengers += boarded
	t.clamp()
	return boarded
}

// Alight removes floor(passengers*rate) passengers, or everyone when terminal is set.
// It returns the number removed.
func (t *Tram) Alight(rate float64, terminal bool) int {
	if t.Passengers <= 0 {
		t.Passengers = 0
		return 0
	}
	removed := t.Passengers
	if !terminal {
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		removed = int(float64(t.Passengers) * rate)
	}
	t.Passengers -= removed
	t.clamp()
	t.Stats.PassengersAlighted += removed
	return removed
}

// LogVisit appends a stop visit to the tram log and its utilization series.
func (t *Tram) LogVisit(v StopVisit) {
	t.Stats.Log = append(t.Stats.Log, v)
	t.Stats.UtilizationHistory = append(t.Stats.UtilizationHistory, v.UtilizationAfter)
}

func (t *Tram) clamp() {
	if t.Passengers < 0 {
		t.Passengers = 0
	}
	if t.Capacity > 0 && t.Passengers > t.Capacity {
		t.Passengers = t.Capacity
	}
}
