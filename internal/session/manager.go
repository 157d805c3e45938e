// Package session hosts route drafting sessions: one waypoint editor and one
// path resolver per open map editor, from mount until submit or unmount.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-runconnect/internal/editor"
	"backend-runconnect/internal/metrics"
	"backend-runconnect/internal/resolver"
	"backend-runconnect/internal/route"
	"backend-runconnect/internal/shared/geo"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultIdleTTL = 30 * time.Minute

// RouteStore persists the hosting route entity.
type RouteStore interface {
	Get(ctx context.Context, id string) (route.Route, error)
	Create(ctx context.Context, r route.Route) (route.Route, error)
	UpdateGeometry(ctx context.Context, id string, waypoints []geo.Coordinate, distanceKm *float64) (route.Route, error)
}

// Broadcaster fans session events out to stream subscribers. CloseSession
// disconnects them once the session has ended.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
	CloseSession(sessionID string)
}

type Options struct {
	Store RouteStore
	Hub   Broadcaster
	// Resolver is the template for every session's resolver; OnChange is
	// overwritten per session.
	Resolver resolver.Options
	IdleTTL  time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

type Manager struct {
	store    RouteStore
	hub      Broadcaster
	template resolver.Options
	idleTTL  time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Resolver.Logger == nil {
		opts.Resolver.Logger = opts.Logger
	}
	return &Manager{
		store:    opts.Store,
		hub:      opts.Hub,
		template: opts.Resolver,
		idleTTL:  opts.IdleTTL,
		log:      opts.Logger,
		now:      opts.Now,
		sessions: map[string]*Session{},
	}
}

// Create opens a session. With a RouteID the stored waypoints are loaded as
// an external sync; only the route's creator may open it editable.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Session, error) {
	var loaded []geo.Coordinate
	editable := in.Editable
	if in.RouteID != "" {
		if m.store == nil {
			return nil, errors.New("route store not configured")
		}
		r, err := m.store.Get(ctx, in.RouteID)
		if err != nil {
			return nil, fmt.Errorf("load route %s: %w", in.RouteID, err)
		}
		loaded = r.Waypoints
		if r.CreatedBy != in.UserID {
			editable = false
		}
	}

	s := &Session{
		id:         uuid.NewString(),
		routeID:    in.RouteID,
		owner:      in.UserID,
		now:        m.now,
		lastActive: m.now(),
	}
	s.snapping.Store(in.Snapping)

	ropts := m.template
	ropts.OnChange = func(st resolver.State) { m.publishState(s, st) }
	s.resolver = resolver.New(ropts)
	s.editor = editor.New(editable,
		editor.WithOnChange(func(wps []geo.Coordinate) {
			m.publish(Event{Type: EventWaypoints, SessionID: s.id, Waypoints: wps})
		}),
		editor.WithRecompute(func(wps []geo.Coordinate) {
			s.resolver.Update(wps, s.mode())
		}),
	)
	if !s.editor.Sync(loaded) {
		s.editor.Refresh()
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	m.log.Info("drafting session opened",
		zap.String("session_id", s.id),
		zap.String("route_id", in.RouteID),
		zap.Bool("editable", editable),
		zap.Int("waypoints", len(loaded)))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends a session without persisting anything.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.closeSession(s, "closed")
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Submit persists the waypoint list, creating the route or updating the one
// the session was opened from, and ends the session. The distance stored is
// recomputed from the currently resolved path.
func (m *Manager) Submit(ctx context.Context, id, userID string, in SubmitInput) (route.Route, error) {
	s, err := m.Get(id)
	if err != nil {
		return route.Route{}, err
	}
	if s.owner != userID {
		return route.Route{}, ErrForbidden
	}
	if !s.editor.Editable() {
		return route.Route{}, ErrNotEditable
	}
	if s.routeID == "" && in.Name == "" {
		return route.Route{}, ErrNameRequired
	}
	if m.store == nil {
		return route.Route{}, errors.New("route store not configured")
	}

	// Claim the session so a concurrent Submit or Close sees it gone.
	m.mu.Lock()
	if m.sessions[id] != s {
		m.mu.Unlock()
		return route.Route{}, ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	waypoints := s.editor.Waypoints()
	var distance *float64
	if in.IncludeDistance {
		d := s.Snapshot().Metrics.DistanceKm
		distance = &d
	}

	var saved route.Route
	if s.routeID != "" {
		saved, err = m.store.UpdateGeometry(ctx, s.routeID, waypoints, distance)
	} else {
		saved, err = m.store.Create(ctx, route.Route{
			Name:        in.Name,
			Description: in.Description,
			CreatedBy:   userID,
			Waypoints:   waypoints,
			DistanceKm:  distance,
		})
	}
	if err != nil {
		s.touch()
		m.mu.Lock()
		m.sessions[id] = s
		m.mu.Unlock()
		return route.Route{}, fmt.Errorf("persist session %s: %w", id, err)
	}

	m.closeSession(s, "submitted")
	return saved, nil
}

// Sweep closes sessions idle for longer than the TTL and reports how many.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.closeSession(s, "expired")
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Info("reaped idle drafting sessions", zap.Int("count", n))
			}
		}
	}
}

// Shutdown closes every open session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.closeSession(s, "shutdown")
	}
}

// InitialMessage renders the state event a new stream subscriber receives.
func (m *Manager) InitialMessage(id string) ([]byte, bool) {
	s, err := m.Get(id)
	if err != nil {
		return nil, false
	}
	snap := s.Snapshot()
	payload, err := json.Marshal(Event{Type: EventState, SessionID: id, Session: &snap})
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (m *Manager) closeSession(s *Session, reason string) {
	s.close()
	metrics.ActiveSessions.Dec()
	m.publish(Event{Type: EventClosed, SessionID: s.id})
	if m.hub != nil {
		m.hub.CloseSession(s.id)
	}
	m.log.Info("drafting session ended", zap.String("session_id", s.id), zap.String("reason", reason))
}

func (m *Manager) publishState(s *Session, st resolver.State) {
	snap := s.snapshotOf(st, st.Waypoints)
	m.publish(Event{Type: EventState, SessionID: s.id, Session: &snap})
}

func (m *Manager) publish(ev Event) {
	if m.hub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("encode session event", zap.String("session_id", ev.SessionID), zap.Error(err))
		return
	}
	m.hub.Broadcast(ev.SessionID, payload)
}
