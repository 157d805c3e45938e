// Package resolver turns a waypoint list into the path that is drawn and
// measured, snapping it to roads and trails when asked to.
package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-runconnect/internal/metrics"
	"backend-runconnect/internal/shared/geo"
	"backend-runconnect/internal/snap"

	"go.uber.org/zap"
)

const DefaultDebounce = 300 * time.Millisecond

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDebouncing Phase = "debouncing"
	PhaseRequesting Phase = "requesting"
	PhaseResolved   Phase = "resolved"
)

// Snapper is the path-snap collaborator.
type Snapper interface {
	Snap(ctx context.Context, waypoints []geo.Coordinate) (snap.Result, error)
}

// ElevationLookup returns one elevation per point of path.
type ElevationLookup interface {
	Lookup(ctx context.Context, path []geo.Coordinate) ([]float64, error)
}

// Timer is the part of *time.Timer the resolver needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Mode is the resolution setting in effect for one waypoint list.
type Mode struct {
	Snapping bool
	Editable bool
}

// State is an immutable snapshot. Path always belongs to the latest waypoint
// list: while debouncing or requesting it is that list drawn straight.
type State struct {
	Generation       uint64
	Phase            Phase
	Waypoints        []geo.Coordinate
	Path             []geo.Coordinate
	Snapped          bool
	Elevation        []float64
	ElevationPending bool
}

func (s State) Metrics() geo.Metrics {
	return geo.Compute(s.Path, s.Elevation)
}

func (s State) clone() State {
	s.Waypoints = geo.Clone(s.Waypoints)
	s.Path = geo.Clone(s.Path)
	if s.Elevation != nil {
		s.Elevation = append([]float64(nil), s.Elevation...)
	}
	return s
}

type Options struct {
	Snapper   Snapper
	Elevation ElevationLookup
	Debounce  time.Duration
	Logger    *zap.Logger
	// OnChange receives the latest state after every transition. Calls are
	// serialized; a call may repeat a state but never follows a newer one
	// with an older one.
	OnChange  func(State)
	AfterFunc AfterFunc
}

// Resolver runs one resolution per waypoint-list change. Every change bumps a
// generation; completions carrying an older generation are dropped.
type Resolver struct {
	snapper   Snapper
	elevation ElevationLookup
	debounce  time.Duration
	log       *zap.Logger
	onChange  func(State)
	afterFunc AfterFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	generation uint64
	timer      Timer
	state      State
	closed     bool

	publishMu sync.Mutex
}

func New(opts Options) *Resolver {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		snapper:   opts.Snapper,
		elevation: opts.Elevation,
		debounce:  opts.Debounce,
		log:       opts.Logger,
		onChange:  opts.OnChange,
		afterFunc: opts.AfterFunc,
		ctx:       ctx,
		cancel:    cancel,
		state:     State{Phase: PhaseIdle},
	}
}

// Current returns a copy of the latest state.
func (r *Resolver) Current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Update starts resolving waypoints, superseding any pending or in-flight
// work. It never blocks on the network.
func (r *Resolver) Update(waypoints []geo.Coordinate, mode Mode) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.generation++
	gen := r.generation
	if r.timer != nil {
		if r.timer.Stop() {
			metrics.DebounceSuperseded.Inc()
		}
		r.timer = nil
	}

	wps := geo.Clone(waypoints)
	r.state = State{Generation: gen, Waypoints: wps, Path: wps}

	lookup := false
	switch {
	case len(wps) < 2:
		r.state.Phase = PhaseResolved
	case !mode.Snapping || !mode.Editable || r.snapper == nil:
		r.state.Phase = PhaseResolved
		lookup = mode.Editable && r.elevation != nil
		r.state.ElevationPending = lookup
	default:
		r.state.Phase = PhaseDebouncing
		r.timer = r.afterFunc(r.debounce, func() { r.fire(gen, wps) })
	}
	r.mu.Unlock()

	go r.publish()
	if lookup {
		go r.lookupElevation(gen, wps)
	}
}

// Close cancels pending timers and invalidates in-flight work. Once it
// returns OnChange is not called again. It must not be called from OnChange.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.cancel()
	r.mu.Unlock()

	// wait out a publish already in progress
	r.publishMu.Lock()
	r.publishMu.Unlock()
}

func (r *Resolver) fire(gen uint64, wps []geo.Coordinate) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.state.Phase = PhaseRequesting
	r.mu.Unlock()
	r.publish()

	path, snapped := r.snap(wps)

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		metrics.SnapRequests.WithLabelValues("stale").Inc()
		r.log.Debug("discarding stale snap response", zap.Uint64("generation", gen))
		return
	}
	r.state.Phase = PhaseResolved
	r.state.Path = path
	r.state.Snapped = snapped
	lookup := r.elevation != nil
	r.state.ElevationPending = lookup
	r.mu.Unlock()
	r.publish()

	if lookup {
		r.lookupElevation(gen, path)
	}
}

// snap issues the single request for this debounce window. Any failure falls
// back to the waypoints drawn straight.
func (r *Resolver) snap(wps []geo.Coordinate) ([]geo.Coordinate, bool) {
	res, err := r.snapper.Snap(r.ctx, wps)
	switch {
	case err != nil:
		r.log.Warn("snap request failed, using straight lines", zap.Int("waypoints", len(wps)), zap.Error(err))
	case !res.Success:
		r.log.Info("snap degraded, using straight lines", zap.String("message", res.Message))
	case len(res.Coordinates) == 0:
		r.log.Info("snap returned no coordinates, using straight lines")
	default:
		metrics.SnapRequests.WithLabelValues("snapped").Inc()
		return geo.Clone(res.Coordinates), true
	}
	metrics.SnapRequests.WithLabelValues("fallback").Inc()
	return wps, false
}

func (r *Resolver) lookupElevation(gen uint64, path []geo.Coordinate) {
	series, err := r.elevation.Lookup(r.ctx, path)
	if err == nil && len(series) != len(path) {
		err = fmt.Errorf("got %d elevations for %d points", len(series), len(path))
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		series = nil
		r.log.Warn("elevation lookup failed", zap.Int("points", len(path)), zap.Error(err))
	}

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		metrics.ElevationLookups.WithLabelValues("stale").Inc()
		return
	}
	r.state.Elevation = series
	r.state.ElevationPending = false
	r.mu.Unlock()

	metrics.ElevationLookups.WithLabelValues(outcome).Inc()
	r.publish()
}

func (r *Resolver) publish() {
	if r.onChange == nil {
		return
	}
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	st := r.state.clone()
	r.mu.Unlock()
	if closed {
		return
	}
	r.onChange(st)
}
