// Package editor owns the ordered, user-intended waypoint list of a route draft.
package editor

import (
	"sync"

	"backend-runconnect/internal/shared/geo"
)

// Listener receives a copy of the full waypoint list.
type Listener func([]geo.Coordinate)

type Option func(*Editor)

// WithOnChange installs the upward callback to the hosting form. It fires for
// user gestures only, never for Sync.
func WithOnChange(fn Listener) Option {
	return func(e *Editor) { e.onChange = fn }
}

// WithRecompute installs the trigger for path resolution. It fires for every
// mutation, including Sync.
func WithRecompute(fn Listener) Option {
	return func(e *Editor) { e.recompute = fn }
}

// Editor serializes mutations and the callbacks they fire, so listeners see
// lists in mutation order. Listeners must not call back into the Editor.
type Editor struct {
	mu        sync.Mutex
	editable  bool
	waypoints []geo.Coordinate
	onChange  Listener
	recompute Listener
}

func New(editable bool, opts ...Option) *Editor {
	e := &Editor{editable: editable}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Editable() bool {
	return e.editable
}

// Waypoints returns a copy of the current list.
func (e *Editor) Waypoints() []geo.Coordinate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return geo.Clone(e.waypoints)
}

func (e *Editor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waypoints)
}

// Add appends c. It is a no-op on a read-only editor.
func (e *Editor) Add(c geo.Coordinate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.editable {
		return false
	}
	e.waypoints = append(e.waypoints, c)
	e.notify(true)
	return true
}

// Undo removes the last waypoint. It is a no-op on an empty list.
func (e *Editor) Undo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.waypoints) == 0 {
		return false
	}
	e.waypoints = e.waypoints[:len(e.waypoints)-1]
	e.notify(true)
	return true
}

// Clear empties the list unconditionally.
func (e *Editor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waypoints = nil
	e.notify(true)
}

// Sync replaces the list with an externally supplied one, e.g. a stored route
// being loaded. The upward callback is not fired. Syncing an identical list is a no-op.
func (e *Editor) Sync(cs []geo.Coordinate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if geo.Equal(e.waypoints, cs) {
		return false
	}
	e.waypoints = geo.Clone(cs)
	e.notify(false)
	return true
}

// Refresh re-fires the recompute trigger with the current list, e.g. after a
// resolution setting changed.
func (e *Editor) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify(false)
}

// notify must be called with mu held.
func (e *Editor) notify(upward bool) {
	if upward && e.onChange != nil {
		e.onChange(geo.Clone(e.waypoints))
	}
	if e.recompute != nil {
		e.recompute(geo.Clone(e.waypoints))
	}
}
