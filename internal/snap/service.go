package snap

import (
	"context"
	"errors"

	"backend-runconnect/internal/directions"
	"backend-runconnect/internal/shared/geo"

	"go.uber.org/zap"
)

const (
	msgNotConfigured = "Google Maps API key not configured"
	msgTooFew        = "at least two waypoints are required"
	msgNoRoute       = "no route found between waypoints"
	msgFailed        = "routing service unavailable"
)

// Router is the directions collaborator behind the proxy.
type Router interface {
	Route(ctx context.Context, waypoints []geo.Coordinate) (directions.Route, error)
}

// Service is the in-process snap proxy.
type Service struct {
	router Router
	log    *zap.Logger
}

func NewService(router Router, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{router: router, log: log}
}

// Snap never returns an error; every failure is a degraded Result carrying
// the original waypoints.
func (s *Service) Snap(ctx context.Context, waypoints []geo.Coordinate) (Result, error) {
	if len(waypoints) < 2 {
		return degraded(waypoints, msgTooFew), nil
	}

	route, err := s.router.Route(ctx, waypoints)
	switch {
	case errors.Is(err, directions.ErrNotConfigured):
		return degraded(waypoints, msgNotConfigured), nil
	case err != nil:
		var statusErr *directions.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == "ZERO_RESULTS" {
			return degraded(waypoints, msgNoRoute), nil
		}
		s.log.Warn("snap routing failed", zap.Int("waypoints", len(waypoints)), zap.Error(err))
		return degraded(waypoints, msgFailed), nil
	case len(route.Path) == 0:
		return degraded(waypoints, msgNoRoute), nil
	}

	distance := route.DistanceM
	return Result{Success: true, Coordinates: route.Path, DistanceM: &distance}, nil
}
