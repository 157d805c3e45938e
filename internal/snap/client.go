package snap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"backend-runconnect/internal/shared/geo"

	"github.com/goccy/go-json"
)

// Client calls a remote snap endpoint with the same contract as Service.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, http: httpClient}
}

func (c *Client) Snap(ctx context.Context, waypoints []geo.Coordinate) (Result, error) {
	body, err := json.Marshal(Request{Waypoints: waypoints})
	if err != nil {
		return Result{}, fmt.Errorf("encode snap request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create snap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("snap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("snap request failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode snap response: %w", err)
	}
	return res, nil
}
