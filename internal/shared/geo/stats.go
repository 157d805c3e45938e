package geo

import "math"

// Metrics is the stat panel shown next to a drafted route.
type Metrics struct {
	DistanceKm     float64 `json:"distance_km"`
	ElevationGainM int     `json:"elevation_gain_m"`
	ElevationLossM int     `json:"elevation_loss_m"`
}

// ElevationStats accumulates positive and negative steps of series.
// Gain and loss are rounded to whole meters.
func ElevationStats(series []float64) (gain, loss int) {
	if len(series) < 2 {
		return 0, 0
	}
	var up, down float64
	for i := 1; i < len(series); i++ {
		diff := series[i] - series[i-1]
		if diff > 0 {
			up += diff
		} else {
			down -= diff
		}
	}
	return int(math.Round(up)), int(math.Round(down))
}

// Compute derives the stat panel from a resolved path and its elevation series.
// A missing series yields zero gain and loss.
func Compute(path []Coordinate, series []float64) Metrics {
	gain, loss := ElevationStats(series)
	return Metrics{
		DistanceKm:     RoundKm(TotalDistanceKm(path)),
		ElevationGainM: gain,
		ElevationLossM: loss,
	}
}

// RoundKm rounds a distance to two decimals.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}
