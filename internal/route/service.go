package route

import (
	"context"
	"errors"
	"fmt"

	"backend-runconnect/internal/db"
	"backend-runconnect/internal/shared/geo"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("route not found")

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Create(ctx context.Context, input Route) (Route, error) {
	input.ID = uuid.NewString()
	input.Waypoints = geo.Clone(input.Waypoints)
	raw, err := json.Marshal(input.Waypoints)
	if err != nil {
		return Route{}, fmt.Errorf("encode waypoints: %w", err)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO routes (id, name, description, created_by, waypoints, path, distance_km)
		VALUES ($1,$2,$3,$4,$5::jsonb, ST_GeogFromText($6), $7)
		RETURNING created_at, updated_at
	`, input.ID, input.Name, input.Description, input.CreatedBy, string(raw), pathWKT(input.Waypoints), input.DistanceKm)
	if err := row.Scan(&input.CreatedAt, &input.UpdatedAt); err != nil {
		return Route{}, fmt.Errorf("insert route: %w", err)
	}
	return input, nil
}

func (s *Service) Get(ctx context.Context, id string) (Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, description, created_by, waypoints, distance_km, created_at, updated_at
		FROM routes WHERE id=$1
	`, id)

	var (
		r   Route
		raw []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedBy, &raw, &r.DistanceKm, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Route{}, ErrNotFound
		}
		return Route{}, fmt.Errorf("select route: %w", err)
	}
	if err := json.Unmarshal(raw, &r.Waypoints); err != nil {
		return Route{}, fmt.Errorf("decode waypoints: %w", err)
	}
	if r.Waypoints == nil {
		r.Waypoints = []geo.Coordinate{}
	}
	return r, nil
}

// UpdateGeometry replaces the waypoint list and the derived columns of an
// existing route. A nil distance clears the stored value.
func (s *Service) UpdateGeometry(ctx context.Context, id string, waypoints []geo.Coordinate, distanceKm *float64) (Route, error) {
	wps := geo.Clone(waypoints)
	raw, err := json.Marshal(wps)
	if err != nil {
		return Route{}, fmt.Errorf("encode waypoints: %w", err)
	}

	r := Route{ID: id, Waypoints: wps, DistanceKm: distanceKm}
	row := s.db.QueryRow(ctx, `
		UPDATE routes
		SET waypoints=$2::jsonb, path=ST_GeogFromText($3), distance_km=$4, updated_at=now()
		WHERE id=$1
		RETURNING name, description, created_by, created_at, updated_at
	`, id, string(raw), pathWKT(wps), distanceKm)
	if err := row.Scan(&r.Name, &r.Description, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Route{}, ErrNotFound
		}
		return Route{}, fmt.Errorf("update route: %w", err)
	}
	return r, nil
}

// Delete removes a route owned by userID.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM routes WHERE id=$1 AND created_by=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Route, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, created_by, waypoints, distance_km, created_at, updated_at
		FROM routes WHERE created_by=$1
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	routes := []Route{}
	for rows.Next() {
		var (
			r   Route
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedBy, &raw, &r.DistanceKm, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &r.Waypoints); err != nil {
			return nil, fmt.Errorf("decode waypoints of %s: %w", r.ID, err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// GeoJSON renders the stored waypoint list as a FeatureCollection.
func (s *Service) GeoJSON(ctx context.Context, id string) ([]byte, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	props := map[string]any{"id": r.ID, "name": r.Name}
	if r.DistanceKm != nil {
		props["distance_km"] = *r.DistanceKm
	}
	return geo.FeatureCollection(r.Waypoints, props)
}

// pathWKT is nil for lists that cannot form a line, which stores NULL.
func pathWKT(wps []geo.Coordinate) *string {
	wkt := geo.WKT(wps)
	if wkt == "" {
		return nil
	}
	return &wkt
}
