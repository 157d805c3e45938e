package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// LineString converts path to an orb line (lng, lat order).
func LineString(path []Coordinate) orb.LineString {
	ls := make(orb.LineString, 0, len(path))
	for _, p := range path {
		ls = append(ls, orb.Point{p.Lng, p.Lat})
	}
	return ls
}

// WKT returns the LINESTRING text for PostGIS, or "" when path has fewer than two points.
func WKT(path []Coordinate) string {
	if len(path) < 2 {
		return ""
	}
	return wkt.MarshalString(LineString(path))
}

// FeatureCollection renders path as a single LineString feature plus one
// Point feature per waypoint.
func FeatureCollection(path []Coordinate, props map[string]any) ([]byte, error) {
	fc := geojson.NewFeatureCollection()

	line := geojson.NewFeature(LineString(path))
	for k, v := range props {
		line.Properties[k] = v
	}
	if len(path) > 0 {
		b := LineString(path).Bound()
		line.BBox = geojson.NewBBox(b)
	}
	fc.Append(line)

	for i, p := range path {
		pt := geojson.NewFeature(orb.Point{p.Lng, p.Lat})
		pt.Properties["index"] = i
		fc.Append(pt)
	}
	return fc.MarshalJSON()
}
