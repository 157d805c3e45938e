package geo

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// DecodePolyline decodes a Google encoded polyline into coordinates.
func DecodePolyline(encoded string) ([]Coordinate, error) {
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	path := make([]Coordinate, 0, len(coords))
	for _, c := range coords {
		path = append(path, Coordinate{Lat: c[0], Lng: c[1]})
	}
	return path, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(path []Coordinate) string {
	coords := make([][]float64, 0, len(path))
	for _, p := range path {
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	return string(polyline.EncodeCoords(coords))
}
