package model

import "fmt"

// BuildFleet creates n trams of the given capacity with ids 1..n, parked for an outbound start.
func BuildFleet(n, capacity int) ([]*Tram, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacityInvalid, capacity)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: fleet size must be > 0, got %d", ErrConfigInvalid, n)
	}
	trams := make([]*Tram, 0, n)
	for id := 1; id <= n; id++ {
		trams = append(trams, &Tram{ID: id, Capacity: capacity, Direction: Outbound})
	}
	return trams, nil
}
