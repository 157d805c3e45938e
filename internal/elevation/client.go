package elevation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"backend-runconnect/internal/shared/geo"
	"backend-runconnect/internal/upstream"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const breakerName = "open-elevation"

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupRequest struct {
	Locations []location `json:"locations"`
}

type lookupResponse struct {
	Results []struct {
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// Client queries an Open-Elevation compatible lookup endpoint.
type Client struct {
	url  string
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]float64]
}

func NewClient(url string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:  url,
		http: httpClient,
		cb:   upstream.NewBreaker[[]float64](breakerName, log, nil),
	}
}

// Lookup returns one elevation in meters per point, index-aligned with path.
func (c *Client) Lookup(ctx context.Context, path []geo.Coordinate) ([]float64, error) {
	if len(path) == 0 {
		return nil, nil
	}
	return upstream.Execute(c.cb, func() ([]float64, error) {
		return c.fetch(ctx, path)
	})
}

func (c *Client) fetch(ctx context.Context, path []geo.Coordinate) ([]float64, error) {
	body := lookupRequest{Locations: make([]location, 0, len(path))}
	for _, p := range path {
		body.Locations = append(body.Locations, location{Latitude: p.Lat, Longitude: p.Lng})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode elevation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create elevation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevation request failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode elevation response: %w", err)
	}
	if len(payload.Results) != len(path) {
		return nil, fmt.Errorf("elevation response has %d results for %d points", len(payload.Results), len(path))
	}

	series := make([]float64, len(payload.Results))
	for i, r := range payload.Results {
		if r.Elevation == nil {
			return nil, fmt.Errorf("elevation result %d has no elevation", i)
		}
		series[i] = *r.Elevation
	}
	return series, nil
}
