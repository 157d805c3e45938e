package session

import (
	"sync"
	"sync/atomic"
	"time"

	"backend-runconnect/internal/editor"
	"backend-runconnect/internal/resolver"
	"backend-runconnect/internal/shared/geo"
)

// Session is one route drafting session: an editor whose every change is
// fed to a resolver.
type Session struct {
	id      string
	routeID string
	owner   string

	editor   *editor.Editor
	resolver *resolver.Resolver
	snapping atomic.Bool

	mu         sync.Mutex
	lastActive time.Time
	now        func() time.Time
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Owner() string { return s.owner }

func (s *Session) AddWaypoint(c geo.Coordinate) (Snapshot, error) {
	s.touch()
	if !s.editor.Add(c) {
		return Snapshot{}, ErrNotEditable
	}
	return s.Snapshot(), nil
}

func (s *Session) UndoLast() Snapshot {
	s.touch()
	s.editor.Undo()
	return s.Snapshot()
}

func (s *Session) ClearAll() Snapshot {
	s.touch()
	s.editor.Clear()
	return s.Snapshot()
}

// SyncFromExternal replaces the list the way loading a stored route does,
// without an upward change notification.
func (s *Session) SyncFromExternal(cs []geo.Coordinate) Snapshot {
	s.touch()
	s.editor.Sync(cs)
	return s.Snapshot()
}

// SetSnapping changes the resolution mode and re-resolves the current list.
func (s *Session) SetSnapping(on bool) Snapshot {
	s.touch()
	if s.snapping.Swap(on) != on {
		s.editor.Refresh()
	}
	return s.Snapshot()
}

func (s *Session) Snapshot() Snapshot {
	st := s.resolver.Current()
	waypoints := st.Waypoints
	if st.Phase == resolver.PhaseIdle {
		waypoints = s.editor.Waypoints()
	}
	return s.snapshotOf(st, waypoints)
}

func (s *Session) snapshotOf(st resolver.State, waypoints []geo.Coordinate) Snapshot {
	if waypoints == nil {
		waypoints = []geo.Coordinate{}
	}
	path := st.Path
	if path == nil {
		path = waypoints
	}
	return Snapshot{
		ID:               s.id,
		RouteID:          s.routeID,
		Editable:         s.editor.Editable(),
		Snapping:         s.snapping.Load(),
		Phase:            st.Phase,
		Generation:       st.Generation,
		Waypoints:        waypoints,
		Path:             path,
		Snapped:          st.Snapped,
		Elevation:        st.Elevation,
		ElevationPending: st.ElevationPending,
		Metrics:          geo.Compute(path, st.Elevation),
	}
}

func (s *Session) mode() resolver.Mode {
	return resolver.Mode{Snapping: s.snapping.Load(), Editable: s.editor.Editable()}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) close() {
	s.resolver.Close()
}
