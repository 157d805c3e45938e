package route

import (
	"time"

	"backend-runconnect/internal/shared/geo"
)

// Route is the hosting entity a drafting session persists to. Only the
// waypoint list is stored; the drawn path is always recomputed.
type Route struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	CreatedBy   string           `json:"created_by"`
	Waypoints   []geo.Coordinate `json:"waypoints"`
	DistanceKm  *float64         `json:"distance_km,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type CreateRequest struct {
	Name        string           `json:"name" validate:"required,max=120"`
	Description string           `json:"description" validate:"max=2000"`
	Waypoints   []geo.Coordinate `json:"waypoints" validate:"dive"`
	DistanceKm  *float64         `json:"distance_km" validate:"omitempty,gte=0"`
}
