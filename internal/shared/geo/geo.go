package geo

import "math"

const earthRadiusKm = 6371.0

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// TotalDistanceKm sums the pairwise haversine distances along path.
func TotalDistanceKm(path []Coordinate) float64 {
	if len(path) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += HaversineKm(path[i-1].Lat, path[i-1].Lng, path[i].Lat, path[i].Lng)
	}
	return total
}

// Equal reports whether a and b hold the same points in the same order.
func Equal(a, b []Coordinate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of path that never aliases the input.
func Clone(path []Coordinate) []Coordinate {
	out := make([]Coordinate, len(path))
	copy(out, path)
	return out
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
