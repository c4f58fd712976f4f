package navigation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unav/navclient/pkg/backend"
	"github.com/unav/navclient/pkg/config"
	"github.com/unav/navclient/pkg/feed"
	"github.com/unav/navclient/pkg/geometry"
	customlog "github.com/unav/navclient/pkg/log"
	nav "github.com/unav/navclient/pkg/navigation"
	"github.com/unav/navclient/pkg/processing"
	"github.com/unav/navclient/pkg/render"
	"github.com/unav/navclient/pkg/spatial"
	"github.com/unav/navclient/pkg/view"
)

type fakeBackend struct {
	mu           sync.Mutex
	floorplan    backend.Floorplan
	floorplanErr error
	pose         nav.Pose
	poseErr      error
	plan         backend.Plan
	scale        float64
	selected     []string
	settings     []backend.Location
}

func (f *fakeBackend) GetFloorplanAndDestinations(ctx context.Context) (backend.Floorplan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.floorplan, f.floorplanErr
}

func (f *fakeBackend) Planner(ctx context.Context) (backend.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plan, nil
}

func (f *fakeBackend) Localize(ctx context.Context, queryImage []byte) (nav.Pose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose, f.poseErr
}

func (f *fakeBackend) SelectDestination(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeBackend) GetScale(ctx context.Context, loc backend.Location) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scale, nil
}

func (f *fakeBackend) UpdateSettings(ctx context.Context, loc backend.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, loc)
	return nil
}

type countingPresenter struct {
	mu     sync.Mutex
	frames int
	last   Snapshot
	png    []byte
}

func (p *countingPresenter) Present(frame []byte, snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	p.last = snap
	p.png = frame
}

func (p *countingPresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func testFloorplan(dests ...spatial.Destination) backend.Floorplan {
	return backend.Floorplan{Image: image.NewRGBA(image.Rect(0, 0, 400, 300)), Destinations: dests}
}

var twoDestinations = []spatial.Destination{
	{ID: "a", Name: "Elevator", Location: geometry.Point{X: 0, Y: 0}},
	{ID: "b", Name: "Exit", Location: geometry.Point{X: 100, Y: 0}},
}

func newTestNavigator(b Backend) (*Navigator, *countingPresenter) {
	p := &countingPresenter{}
	r := render.NewRenderer(render.DefaultStyle(), customlog.NewNopLogger())
	n := NewNavigator(b, r, p, customlog.NewNopLogger(), Options{MetersPerPixel: 0.05})
	return n, p
}

// run executes a command and feeds its result back.
func run(t *testing.T, n *Navigator, cmd Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd(context.Background())
	next := n.Update(msg)
	for next != nil {
		next = n.Update(next(context.Background()))
	}
}

func loaded(t *testing.T, n *Navigator) {
	t.Helper()
	run(t, n, n.Update(LoadFloorplan{}))
}

func TestLoadFloorplanRendersOnce(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, p := newTestNavigator(b)

	loaded(t, n)

	assert.Equal(t, 1, p.count())
	snap := n.Snapshot()
	assert.Len(t, snap.Destinations, 2)
	assert.Equal(t, image.Pt(400, 300), snap.FloorplanSize)
	assert.Equal(t, view.Identity(), snap.View)

	img, err := png.Decode(bytes.NewReader(n.LastFrame()))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(400, 300), img.Bounds().Size())
}

func TestEmptyDestinationsDisableSelection(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan()}
	n, _ := newTestNavigator(b)
	loaded(t, n)
	assert.Equal(t, StatusNoDestinations, n.Snapshot().Status)

	assert.Nil(t, n.Update(Click{Screen: geometry.Point{X: 5, Y: 5}}))
	snap := n.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.Equal(t, StatusNoDestinations, snap.Status)
}

func TestStaleFloorplanIsDiscarded(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations[0])}
	n, p := newTestNavigator(b)

	first := n.Update(LoadFloorplan{})
	staleMsg := first(context.Background())

	b.floorplan = testFloorplan(twoDestinations...)
	second := n.Update(LoadFloorplan{})
	fresh := second(context.Background())

	n.Update(fresh)
	frames := p.count()
	n.Update(staleMsg)

	assert.Len(t, n.Snapshot().Destinations, 2)
	assert.Equal(t, frames, p.count(), "stale result must not redraw")
}

func TestLocalizeFailureStatus(t *testing.T) {
	b := &fakeBackend{poseErr: fmt.Errorf("localize: %w", backend.ErrLocalizationFailed)}
	n, _ := newTestNavigator(b)

	run(t, n, n.Update(Localize{Image: []byte{1}}))

	snap := n.Snapshot()
	assert.Equal(t, StatusLocalizationFailed, snap.Status)
	assert.Nil(t, snap.Pose)
}

func TestLocalizeRoundsPose(t *testing.T) {
	b := &fakeBackend{pose: nav.Pose{X: 10.4, Y: 19.6, Heading: 89.5}}
	n, _ := newTestNavigator(b)

	run(t, n, n.Update(Localize{Image: []byte{1}}))

	snap := n.Snapshot()
	require.NotNil(t, snap.Pose)
	assert.Equal(t, nav.Pose{X: 10, Y: 20, Heading: 90}, *snap.Pose)
}

func TestClickUsesViewTransform(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, _ := newTestNavigator(b)
	loaded(t, n)

	n.Update(Click{Screen: geometry.Point{X: 40, Y: 0}})
	require.NotNil(t, n.Snapshot().Selected)
	assert.Equal(t, "a", n.Snapshot().Selected.ID)

	// Shift the image 100px left: screen 40 is now image 140.
	n.Update(PanBy{Deltas: []geometry.Point{{X: -100, Y: 0}}})
	n.Update(Click{Screen: geometry.Point{X: 40, Y: 0}})
	assert.Equal(t, "b", n.Snapshot().Selected.ID)
}

func TestPanBatchRedrawsOnce(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, p := newTestNavigator(b)
	loaded(t, n)
	before := p.count()

	n.Update(PanBy{Deltas: []geometry.Point{{X: 1}, {X: 2}, {Y: 3}}})

	assert.Equal(t, before+1, p.count())
	assert.Equal(t, view.State{Scale: 1, OriginX: 3, OriginY: 3}, n.Snapshot().View)
}

func TestDragEndsOnLeave(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, _ := newTestNavigator(b)
	loaded(t, n)

	n.Update(PanPress{Screen: geometry.Point{X: 10, Y: 10}})
	n.Update(PanMove{Screen: geometry.Point{X: 15, Y: 10}})
	n.Update(PointerLeave{})
	n.Update(PanMove{Screen: geometry.Point{X: 50, Y: 50}})

	assert.Equal(t, view.State{Scale: 1, OriginX: 5}, n.Snapshot().View)

	n.Update(ResetView{})
	assert.Equal(t, view.Identity(), n.Snapshot().View)
}

func TestSubmitDestination(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, _ := newTestNavigator(b)
	loaded(t, n)

	assert.Nil(t, n.Update(SubmitDestination{}))
	assert.Equal(t, StatusNoSelection, n.Snapshot().Status)

	n.Update(Click{Screen: geometry.Point{X: 90, Y: 0}})
	run(t, n, n.Update(SubmitDestination{}))

	assert.Equal(t, []string{"b"}, b.selected)
	assert.Equal(t, "Destination b set", n.Snapshot().Status)
}

func TestNavigateDerivesInstructions(t *testing.T) {
	b := &fakeBackend{
		floorplan: testFloorplan(twoDestinations...),
		pose:      nav.Pose{X: 0, Y: 100, Heading: 0},
		plan: backend.Plan{Path: nav.Path{
			{X: 0, Y: 0},
			{X: 100, Y: 0},
		}},
	}
	n, _ := newTestNavigator(b)
	loaded(t, n)

	assert.Nil(t, n.Update(Navigate{}))
	assert.Equal(t, StatusNoPose, n.Snapshot().Status)

	run(t, n, n.Update(Localize{Image: []byte{1}}))
	run(t, n, n.Update(Navigate{}))

	snap := n.Snapshot()
	require.Len(t, snap.Instructions, 2)
	assert.Equal(t, 12, snap.Instructions[0].Clock)
	assert.InDelta(t, 5.0, snap.Instructions[0].DistanceMeters, 1e-9)
	assert.Equal(t, 3, snap.Instructions[1].Clock)
	assert.Equal(t, "2 instructions, 10.00 meters total", snap.Status)
}

func TestNavigateUnreachable(t *testing.T) {
	b := &fakeBackend{
		pose: nav.Pose{X: 5, Y: 5},
		plan: backend.Plan{Path: nav.Path{{X: 5, Y: 5}}},
	}
	n, _ := newTestNavigator(b)
	run(t, n, n.Update(Localize{Image: []byte{1}}))
	run(t, n, n.Update(Navigate{}))

	snap := n.Snapshot()
	assert.Equal(t, StatusBlocked, snap.Status)
	assert.Empty(t, snap.Instructions)
}

func TestInvalidScaleShowsNoInstructions(t *testing.T) {
	b := &fakeBackend{
		pose: nav.Pose{X: 0, Y: 0},
		plan: backend.Plan{Path: nav.Path{{X: 0, Y: -10}, {X: 0, Y: -20}}},
	}
	n := NewNavigator(b, nil, nil, customlog.NewNopLogger(), Options{})
	run(t, n, n.Update(Localize{Image: []byte{1}}))
	run(t, n, n.Update(Navigate{}))

	snap := n.Snapshot()
	assert.Equal(t, StatusNoInstructions, snap.Status)
	assert.Empty(t, snap.Instructions)
	assert.Len(t, snap.Path, 2)
}

func TestLocationChangeInvalidatesPendingRequests(t *testing.T) {
	b := &fakeBackend{
		floorplan: testFloorplan(twoDestinations...),
		pose:      nav.Pose{X: 1, Y: 2},
		scale:     0.02,
	}
	n, _ := newTestNavigator(b)

	pending := n.Update(Localize{Image: []byte{1}})(context.Background())

	settings := n.Update(LocationChanged{Location: config.LocationConfig{Place: "p", Building: "b", Floor: "2"}})
	require.NotNil(t, settings)

	n.Update(pending)
	assert.Nil(t, n.Snapshot().Pose, "localization issued before the location change is stale")

	run(t, n, settings)

	snap := n.Snapshot()
	assert.Equal(t, backend.Location{Place: "p", Building: "b", Floor: "2"}, snap.Location)
	assert.Equal(t, []backend.Location{{Place: "p", Building: "b", Floor: "2"}}, b.settings)
	assert.Len(t, snap.Destinations, 2)
	assert.InDelta(t, 0.02, snap.MetersPerPixel, 1e-12)
}

func TestPlannerUpdateFiltersSession(t *testing.T) {
	n := NewNavigator(&fakeBackend{}, nil, nil, customlog.NewNopLogger(), Options{SessionID: "mine", MetersPerPixel: 1})
	update := &feed.PlannerUpdate{Trajectory: [][]float64{{0, 10, 0}, {0, 0}, {10, 0}}}

	n.Update(PlannerUpdate{SessionID: "other", Update: update})
	assert.Nil(t, n.Snapshot().Pose)

	n.Update(PlannerUpdate{SessionID: "mine", Update: update})
	snap := n.Snapshot()
	require.NotNil(t, snap.Pose)
	assert.Equal(t, nav.Pose{X: 0, Y: 10}, *snap.Pose)
	require.Len(t, snap.Instructions, 2)
	assert.InDelta(t, 10.0, snap.Instructions[0].DistanceMeters, 1e-9)
}

func TestServerLogIsBounded(t *testing.T) {
	n := NewNavigator(&fakeBackend{}, nil, nil, customlog.NewNopLogger(), Options{})
	for i := 0; i < ServerLogLimit+20; i++ {
		n.Update(ServerLog{Line: fmt.Sprintf("line %d", i)})
	}
	log := n.Snapshot().ServerLog
	require.Len(t, log, ServerLogLimit)
	assert.Equal(t, "line 20", log[0])
	assert.Equal(t, fmt.Sprintf("line %d", ServerLogLimit+19), log[len(log)-1])
}

func TestFloorplanErrorKeepsState(t *testing.T) {
	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, _ := newTestNavigator(b)
	loaded(t, n)

	b.floorplanErr = errors.New("boom")
	loaded(t, n)

	snap := n.Snapshot()
	assert.Len(t, snap.Destinations, 2)
	assert.Contains(t, snap.Status, "boom")
}

func TestRunnerDrivesNavigatorThroughLoop(t *testing.T) {
	loop := processing.NewEventLoop("nav", 16, customlog.NewNopLogger())
	loop.Start()
	defer loop.Stop()

	b := &fakeBackend{floorplan: testFloorplan(twoDestinations...)}
	n, p := newTestNavigator(b)
	r := NewRunner(n, loop, customlog.NewNopLogger(), time.Second)
	defer r.Stop()

	require.NoError(t, r.Send(LoadFloorplan{}))
	require.Eventually(t, func() bool { return len(n.Snapshot().Destinations) == 2 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snap, err := r.Do(ctx, Click{Screen: geometry.Point{X: 99, Y: 1}})
	require.NoError(t, err)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "Exit", snap.Selected.Name)
	assert.GreaterOrEqual(t, p.count(), 2)
}

func TestRunnerFeedHandlers(t *testing.T) {
	loop := processing.NewEventLoop("nav", 16, customlog.NewNopLogger())
	d := processing.NewEventDirector(loop, processing.NewKindRegistry(customlog.NewNopLogger()), customlog.NewNopLogger(), nil)
	n := NewNavigator(&fakeBackend{}, nil, nil, customlog.NewNopLogger(), Options{})
	r := NewRunner(n, loop, customlog.NewNopLogger(), time.Second)
	r.RegisterFeedHandlers(d)
	d.Start()
	defer d.Stop()
	defer r.Stop()

	require.NoError(t, d.RouteEvent(feed.Event{Kind: feed.KindLog, Message: "hello", Received: time.Now()}))
	require.NoError(t, d.RouteEvent(feed.Event{
		Kind:     feed.KindPlannerUpdate,
		Planner:  &feed.PlannerUpdate{Trajectory: [][]float64{{3, 4, 0}}},
		Received: time.Now(),
	}))

	require.Eventually(t, func() bool {
		s := n.Snapshot()
		return len(s.ServerLog) == 1 && s.Pose != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", n.Snapshot().ServerLog[0])
}

func TestFilePresenterReplacesFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	var seen int
	p := Presenters{
		FilePresenter{Path: path, Logger: customlog.NewNopLogger()},
		PresenterFunc(func([]byte, Snapshot) { seen++ }),
	}

	p.Present([]byte("one"), Snapshot{})
	p.Present([]byte("two"), Snapshot{})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Equal(t, 2, seen)
}
