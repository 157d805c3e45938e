package snap

import "backend-runconnect/internal/shared/geo"

// Request is the body accepted by the snap endpoint.
type Request struct {
	Waypoints []geo.Coordinate `json:"waypoints" validate:"min=2,dive"`
}

// Result is the snap endpoint contract. On any degraded outcome Success is
// false and Coordinates echoes the original waypoints.
type Result struct {
	Success     bool             `json:"success"`
	Coordinates []geo.Coordinate `json:"coordinates"`
	DistanceM   *float64         `json:"distance,omitempty"`
	Message     string           `json:"message,omitempty"`
}

func degraded(waypoints []geo.Coordinate, message string) Result {
	return Result{Success: false, Coordinates: geo.Clone(waypoints), Message: message}
}
