package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-runconnect/internal/metrics"
	"backend-runconnect/internal/resolver"
	"backend-runconnect/internal/route"
	"backend-runconnect/internal/shared/geo"
	"backend-runconnect/internal/snap"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	p1 = geo.Coordinate{Lat: 43.2557, Lng: -79.8711}
	p2 = geo.Coordinate{Lat: 43.2601, Lng: -79.8690}
	p3 = geo.Coordinate{Lat: 43.2701, Lng: -79.8711}
)

type fakeStore struct {
	mu      sync.Mutex
	routes  map[string]route.Route
	created []route.Route
	updated []route.Route
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{routes: map[string]route.Route{}}
}

func (f *fakeStore) Get(_ context.Context, id string) (route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return route.Route{}, route.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) Create(_ context.Context, r route.Route) (route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return route.Route{}, f.err
	}
	r.ID = "new-route"
	f.created = append(f.created, r)
	return r, nil
}

func (f *fakeStore) UpdateGeometry(_ context.Context, id string, wps []geo.Coordinate, dist *float64) (route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return route.Route{}, route.ErrNotFound
	}
	r.Waypoints = wps
	r.DistanceKm = dist
	f.updated = append(f.updated, r)
	return r, nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []Event
	closed []string
}

func (h *fakeHub) CloseSession(sessionID string) {
	h.mu.Lock()
	h.closed = append(h.closed, sessionID)
	h.mu.Unlock()
}

func (h *fakeHub) Closed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.closed...)
}

func (h *fakeHub) count(typ string) int {
	n := 0
	for _, ev := range h.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (h *fakeHub) Broadcast(sessionID string, payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		panic(err)
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *fakeHub) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// slowStore holds Create open long enough for a second caller to race it.
type slowStore struct {
	*fakeStore
	delay time.Duration
}

func (s slowStore) Create(ctx context.Context, r route.Route) (route.Route, error) {
	time.Sleep(s.delay)
	return s.fakeStore.Create(ctx, r)
}

type echoSnapper struct{}

func (echoSnapper) Snap(_ context.Context, wps []geo.Coordinate) (snap.Result, error) {
	out := []geo.Coordinate{wps[0]}
	for i := 1; i < len(wps); i++ {
		out = append(out, geo.Coordinate{Lat: (wps[i-1].Lat + wps[i].Lat) / 2, Lng: wps[i-1].Lng}, wps[i])
	}
	return snap.Result{Success: true, Coordinates: out}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition not met before timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newManager(store RouteStore, hub Broadcaster) *Manager {
	return NewManager(Options{
		Store:    store,
		Hub:      hub,
		Resolver: resolver.Options{Snapper: echoSnapper{}, Debounce: 5 * time.Millisecond},
	})
}

func TestCreateAndEdit(t *testing.T) {
	hub := &fakeHub{}
	m := newManager(newFakeStore(), hub)
	defer m.Shutdown()

	s, err := m.Create(context.Background(), CreateInput{Editable: true, UserID: "user-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one session")
	}

	snap := s.Snapshot()
	if snap.Phase != resolver.PhaseResolved || len(snap.Waypoints) != 0 || snap.Metrics.DistanceKm != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}

	if _, err := s.AddWaypoint(p1); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap, _ = s.AddWaypoint(p3)
	if !geo.Equal(snap.Waypoints, []geo.Coordinate{p1, p3}) || !geo.Equal(snap.Path, snap.Waypoints) {
		t.Fatalf("expected straight path with snapping off: %+v", snap)
	}
	if snap.Metrics.DistanceKm < 1.59 || snap.Metrics.DistanceKm > 1.61 {
		t.Fatalf("unexpected distance %v", snap.Metrics.DistanceKm)
	}

	snap = s.UndoLast()
	if !geo.Equal(snap.Waypoints, []geo.Coordinate{p1}) {
		t.Fatalf("undo did not restore previous list: %+v", snap.Waypoints)
	}

	snap = s.ClearAll()
	if len(snap.Waypoints) != 0 {
		t.Fatalf("clear did not empty the list")
	}

	var upward int
	for _, ev := range hub.Events() {
		if ev.Type == EventWaypoints {
			upward++
		}
	}
	if upward != 4 {
		t.Fatalf("expected 4 upward waypoint events, got %d", upward)
	}
}

func TestSnappingToggle(t *testing.T) {
	m := newManager(newFakeStore(), nil)
	defer m.Shutdown()

	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "user-1"})
	s.AddWaypoint(p1)
	s.AddWaypoint(p3)

	snap := s.SetSnapping(true)
	if !snap.Snapping {
		t.Fatalf("expected snapping on")
	}
	waitFor(t, func() bool { return s.Snapshot().Snapped })
	if got := s.Snapshot(); len(got.Path) != 3 || !geo.Equal(got.Waypoints, []geo.Coordinate{p1, p3}) {
		t.Fatalf("unexpected snapped state: %+v", got)
	}

	snap = s.SetSnapping(false)
	if snap.Snapped || !geo.Equal(snap.Path, []geo.Coordinate{p1, p3}) {
		t.Fatalf("expected straight path after disabling snapping: %+v", snap)
	}
}

func TestSyncFromExternalHasNoUpwardEvent(t *testing.T) {
	hub := &fakeHub{}
	m := newManager(newFakeStore(), hub)
	defer m.Shutdown()

	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "user-1"})
	snap := s.SyncFromExternal([]geo.Coordinate{p1, p2, p3})
	if len(snap.Waypoints) != 3 {
		t.Fatalf("expected synced list")
	}
	time.Sleep(20 * time.Millisecond)
	for _, ev := range hub.Events() {
		if ev.Type == EventWaypoints {
			t.Fatalf("sync must not fire the upward callback")
		}
	}
}

func TestCreateFromStoredRoute(t *testing.T) {
	store := newFakeStore()
	store.routes["r1"] = route.Route{ID: "r1", CreatedBy: "owner", Waypoints: []geo.Coordinate{p1, p2}}
	m := newManager(store, nil)
	defer m.Shutdown()

	s, err := m.Create(context.Background(), CreateInput{RouteID: "r1", Editable: true, UserID: "owner"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap := s.Snapshot(); !snap.Editable || !geo.Equal(snap.Waypoints, []geo.Coordinate{p1, p2}) {
		t.Fatalf("unexpected loaded session: %+v", snap)
	}

	viewer, err := m.Create(context.Background(), CreateInput{RouteID: "r1", Editable: true, UserID: "someone-else"})
	if err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	if viewer.Snapshot().Editable {
		t.Fatalf("expected non-owner session to be read-only")
	}
	if _, err := viewer.AddWaypoint(p3); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	if len(viewer.Snapshot().Waypoints) != 2 {
		t.Fatalf("read-only add must leave the list unchanged")
	}

	if _, err := m.Create(context.Background(), CreateInput{RouteID: "missing", UserID: "owner"}); !errors.Is(err, route.ErrNotFound) {
		t.Fatalf("expected route.ErrNotFound, got %v", err)
	}
}

func TestSubmitCreatesRoute(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	m := newManager(store, hub)

	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "user-1"})
	s.AddWaypoint(p1)
	s.AddWaypoint(p3)

	if _, err := m.Submit(context.Background(), s.ID(), "user-1", SubmitInput{}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if _, err := m.Submit(context.Background(), s.ID(), "intruder", SubmitInput{Name: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	saved, err := m.Submit(context.Background(), s.ID(), "user-1", SubmitInput{Name: "Loop", IncludeDistance: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if saved.ID != "new-route" || !geo.Equal(saved.Waypoints, []geo.Coordinate{p1, p3}) {
		t.Fatalf("unexpected saved route: %+v", saved)
	}
	if saved.DistanceKm == nil || *saved.DistanceKm < 1.59 || *saved.DistanceKm > 1.61 {
		t.Fatalf("unexpected distance: %v", saved.DistanceKm)
	}
	if m.Len() != 0 {
		t.Fatalf("expected session to end on submit")
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after submit")
	}

	events := hub.Events()
	if events[len(events)-1].Type != EventClosed {
		t.Fatalf("expected closed event last, got %+v", events[len(events)-1])
	}
	if closed := hub.Closed(); len(closed) != 1 || closed[0] != s.ID() {
		t.Fatalf("expected stream subscribers to be closed once, got %v", closed)
	}
}

func TestConcurrentSubmitPersistsOnce(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	m := newManager(slowStore{fakeStore: store, delay: 50 * time.Millisecond}, hub)
	defer m.Shutdown()

	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "u1"})
	s.AddWaypoint(p1)
	before := testutil.ToFloat64(metrics.ActiveSessions)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Submit(context.Background(), s.ID(), "u1", SubmitInput{Name: "x"})
		}(i)
	}
	wg.Wait()

	var ok, gone int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSessionNotFound):
			gone++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}
	if ok != 1 || gone != 1 {
		t.Fatalf("expected one success and one ErrSessionNotFound, got %v", errs)
	}
	store.mu.Lock()
	created := len(store.created)
	store.mu.Unlock()
	if created != 1 {
		t.Fatalf("expected one route created, got %d", created)
	}
	if n := hub.count(EventClosed); n != 1 {
		t.Fatalf("expected one closed event, got %d", n)
	}
	if delta := testutil.ToFloat64(metrics.ActiveSessions) - before; delta != -1 {
		t.Fatalf("expected gauge delta -1, got %v", delta)
	}
}

func TestCloseDuringSubmit(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	m := newManager(slowStore{fakeStore: store, delay: 50 * time.Millisecond}, hub)
	defer m.Shutdown()

	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "u1"})
	before := testutil.ToFloat64(metrics.ActiveSessions)

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), s.ID(), "u1", SubmitInput{Name: "x"})
		done <- err
	}()
	waitFor(t, func() bool { return m.Len() == 0 })
	if err := m.Close(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound while submit is persisting, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := hub.count(EventClosed); n != 1 {
		t.Fatalf("expected one closed event, got %d", n)
	}
	if delta := testutil.ToFloat64(metrics.ActiveSessions) - before; delta != -1 {
		t.Fatalf("expected gauge delta -1, got %v", delta)
	}
}

func TestSubmitUpdatesRouteWithoutDistance(t *testing.T) {
	store := newFakeStore()
	store.routes["r1"] = route.Route{ID: "r1", CreatedBy: "user-1", Waypoints: []geo.Coordinate{p1}}
	m := newManager(store, nil)

	s, _ := m.Create(context.Background(), CreateInput{RouteID: "r1", Editable: true, UserID: "user-1"})
	s.AddWaypoint(p2)

	saved, err := m.Submit(context.Background(), s.ID(), "user-1", SubmitInput{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if saved.DistanceKm != nil || len(store.updated) != 1 || len(store.updated[0].Waypoints) != 2 {
		t.Fatalf("unexpected update: %+v", store.updated)
	}
}

func TestSubmitStoreErrorKeepsSession(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("db down")
	m := newManager(store, nil)
	defer m.Shutdown()

	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "user-1"})
	if _, err := m.Submit(context.Background(), s.ID(), "user-1", SubmitInput{Name: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if m.Len() != 1 {
		t.Fatalf("expected session to survive a failed submit")
	}
}

func TestCloseAndSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	m := NewManager(Options{IdleTTL: time.Minute, Now: clock})
	a, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "u"})
	b, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "u"})

	if err := m.Close(a.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second close")
	}

	advance(30 * time.Second)
	b.AddWaypoint(p1)
	advance(45 * time.Second)
	if n := m.Sweep(); n != 0 {
		t.Fatalf("expected recently active session to survive, reaped %d", n)
	}
	advance(time.Minute)
	if n := m.Sweep(); n != 1 || m.Len() != 0 {
		t.Fatalf("expected idle session to be reaped, reaped %d", n)
	}
}

func TestInitialMessage(t *testing.T) {
	m := newManager(nil, nil)
	defer m.Shutdown()

	if _, ok := m.InitialMessage("missing"); ok {
		t.Fatalf("expected no message for unknown session")
	}
	s, _ := m.Create(context.Background(), CreateInput{Editable: true, UserID: "u"})
	s.AddWaypoint(p1)

	raw, ok := m.InitialMessage(s.ID())
	if !ok {
		t.Fatalf("expected initial message")
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventState || ev.Session == nil || len(ev.Session.Waypoints) != 1 {
		t.Fatalf("unexpected initial message: %s", raw)
	}
}
