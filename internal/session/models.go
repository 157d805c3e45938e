package session

import (
	"errors"

	"backend-runconnect/internal/resolver"
	"backend-runconnect/internal/shared/geo"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotEditable     = errors.New("session is read-only")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrNameRequired    = errors.New("name is required for a new route")
)

type CreateInput struct {
	RouteID  string `json:"route_id" validate:"omitempty,uuid"`
	Editable bool   `json:"editable"`
	Snapping bool   `json:"snapping"`
	UserID   string `json:"-"`
}

type SubmitInput struct {
	Name            string `json:"name" validate:"max=120"`
	Description     string `json:"description" validate:"max=2000"`
	IncludeDistance bool   `json:"include_distance"`
}

// Snapshot is the externally visible state of a drafting session.
type Snapshot struct {
	ID               string           `json:"id"`
	RouteID          string           `json:"route_id,omitempty"`
	Editable         bool             `json:"editable"`
	Snapping         bool             `json:"snapping"`
	Phase            resolver.Phase   `json:"phase"`
	Generation       uint64           `json:"generation"`
	Waypoints        []geo.Coordinate `json:"waypoints"`
	Path             []geo.Coordinate `json:"path"`
	Snapped          bool             `json:"snapped"`
	Elevation        []float64        `json:"elevation"`
	ElevationPending bool             `json:"elevation_pending"`
	Metrics          geo.Metrics      `json:"metrics"`
}

const (
	EventWaypoints = "waypoints"
	EventState     = "state"
	EventClosed    = "closed"
)

// Event is what stream subscribers of a session receive. Waypoints events
// carry the editor's list only; state events carry the full snapshot.
type Event struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Waypoints []geo.Coordinate `json:"waypoints,omitempty"`
	Session   *Snapshot        `json:"session,omitempty"`
}
