package data

import "testing"

func TestRoadLoad(t *testing.T) {
	cases := map[int]float64{8: 0.9, 7: 0.7, 12: 0.6, 6: 0.4, 21: 0.4, 3: 0.1}
	for hour, want := range cases {
		if got := RoadLoad(hour, PeakRoadHours); got != want {
			t.Fatalf("hour %d: expected %.1f, got %.1f", hour, want, got)
		}
	}
}

func TestBaseIntensityPeaksMidLine(t *testing.T) {
	n := 10
	mid := BaseIntensity(5, n)
	if BaseIntensity(1, n) >= mid || BaseIntensity(10, n) >= mid {
		t.Fatalf("expected the middle of the line to be busiest")
	}
}

func TestDefaultHeadwaysAreOrdered(t *testing.T) {
	for i := 1; i < len(DefaultHeadways); i++ {
		if DefaultHeadways[i][0] <= DefaultHeadways[i-1][0] {
			t.Fatalf("rule %d starts before rule %d", i, i-1)
		}
	}
}

func TestHourDemandCoefficientPeaks(t *testing.T) {
	morning, evening := 0, 12
	for h := 0; h < 12; h++ {
		if HourDemandCoefficient[h] > HourDemandCoefficient[morning] {
			morning = h
		}
		if HourDemandCoefficient[h+12] > HourDemandCoefficient[evening] {
			evening = h + 12
		}
	}
	if morning != 8 || evening != 18 {
		t.Fatalf("expected peaks at 8 and 18, got %d and %d", morning, evening)
	}
	if HourDemandCoefficient[23] != 0.05 {
		t.Fatalf("table misaligned: hour 23 is %v", HourDemandCoefficient[23])
	}
}
