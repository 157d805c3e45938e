package db

import (
	"context"
	"fmt"
)

// schema holds the only table the drafting sessions persist to. path is
// derived from waypoints and kept for spatial queries by other services.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS routes (
		id          uuid PRIMARY KEY,
		name        text NOT NULL,
		description text NOT NULL DEFAULT '',
		created_by  text NOT NULL,
		waypoints   jsonb NOT NULL DEFAULT '[]'::jsonb,
		path        geography(LineString, 4326),
		distance_km double precision,
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS routes_created_by_idx ON routes (created_by)`,
}

// EnsureSchema creates the routes table when it is missing.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
