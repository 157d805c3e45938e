package directions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"backend-runconnect/internal/shared/geo"
	"backend-runconnect/internal/upstream"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const breakerName = "google-directions"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("google maps api key not configured")

// StatusError is a non-OK status reported by the Directions API itself.
type StatusError struct {
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "directions status " + e.Status
	}
	return "directions status " + e.Status + ": " + e.Message
}

// Route is the road/trail following path between the requested waypoints.
type Route struct {
	Path      []geo.Coordinate
	DistanceM float64
}

type Options struct {
	BaseURL    string
	APIKey     string
	Mode       string
	RatePerSec float64
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL string
	apiKey  string
	mode    string
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[Route]
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Mode == "" {
		opts.Mode = "walking"
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		mode:    opts.Mode,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, burst),
		cb: upstream.NewBreaker[Route](breakerName, opts.Logger, func(err error) bool {
			var statusErr *StatusError
			return err == nil || errors.As(err, &statusErr)
		}),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Route asks the Directions API for a path visiting waypoints in order.
func (c *Client) Route(ctx context.Context, waypoints []geo.Coordinate) (Route, error) {
	if !c.Configured() {
		return Route{}, ErrNotConfigured
	}
	if len(waypoints) < 2 {
		return Route{}, fmt.Errorf("directions: need at least 2 waypoints, got %d", len(waypoints))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Route{}, fmt.Errorf("directions rate limit: %w", err)
	}
	return upstream.Execute(c.cb, func() (Route, error) {
		return c.fetch(ctx, waypoints)
	})
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Value float64 `json:"value"`
			} `json:"distance"`
		} `json:"legs"`
	} `json:"routes"`
}

func (c *Client) fetch(ctx context.Context, waypoints []geo.Coordinate) (Route, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(waypoints), http.NoBody)
	if err != nil {
		return Route{}, fmt.Errorf("create request failed: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Route{}, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var payload directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Route{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Status != "OK" {
		return Route{}, &StatusError{Status: payload.Status, Message: payload.ErrorMessage}
	}
	if len(payload.Routes) == 0 {
		return Route{}, &StatusError{Status: "ZERO_RESULTS"}
	}

	first := payload.Routes[0]
	path, err := geo.DecodePolyline(first.OverviewPolyline.Points)
	if err != nil {
		return Route{}, err
	}
	var distance float64
	for _, leg := range first.Legs {
		distance += leg.Distance.Value
	}
	return Route{Path: path, DistanceM: distance}, nil
}

func (c *Client) buildURL(waypoints []geo.Coordinate) string {
	params := url.Values{}
	params.Set("origin", formatPoint(waypoints[0]))
	params.Set("destination", formatPoint(waypoints[len(waypoints)-1]))
	if len(waypoints) > 2 {
		via := make([]string, 0, len(waypoints)-2)
		for _, wp := range waypoints[1 : len(waypoints)-1] {
			via = append(via, "via:"+formatPoint(wp))
		}
		params.Set("waypoints", strings.Join(via, "|"))
	}
	params.Set("mode", c.mode)
	params.Set("key", c.apiKey)
	return c.baseURL + "?" + params.Encode()
}

func formatPoint(c geo.Coordinate) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}
