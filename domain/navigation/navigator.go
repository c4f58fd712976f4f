// Package navigation drives the navigation view: every state change goes
// through Navigator.Update on one goroutine, backend calls run as commands
// off that goroutine and their results come back as messages.
package navigation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/unav/navclient/pkg/backend"
	customlog "github.com/unav/navclient/pkg/log"
	nav "github.com/unav/navclient/pkg/navigation"
	"github.com/unav/navclient/pkg/render"
	"github.com/unav/navclient/pkg/spatial"
	"github.com/unav/navclient/pkg/view"
)

// ErrStaleResponse marks a result superseded by a newer request.
var ErrStaleResponse = errors.New("stale response")

// ServerLogLimit is how many server log lines are kept.
const ServerLogLimit = 100

// Status lines shown to the operator.
const (
	StatusLocalizationFailed = "Localization failed"
	StatusBlocked            = "Way to destination is blocked"
	StatusNoInstructions     = "no instructions available"
	StatusNoDestinations     = "no destinations available"
	StatusNoSelection        = "no destination selected"
	StatusNoPose             = "no pose available"
)

// Backend is what the navigator needs from the localization server.
type Backend interface {
	GetFloorplanAndDestinations(ctx context.Context) (backend.Floorplan, error)
	Planner(ctx context.Context) (backend.Plan, error)
	Localize(ctx context.Context, queryImage []byte) (nav.Pose, error)
	SelectDestination(ctx context.Context, destinationID string) error
	GetScale(ctx context.Context, loc backend.Location) (float64, error)
	UpdateSettings(ctx context.Context, loc backend.Location) error
}

// Presenter receives every rendered frame as PNG.
type Presenter interface {
	Present(frame []byte, snap Snapshot)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(frame []byte, snap Snapshot)

// Present implements Presenter.
func (f PresenterFunc) Present(frame []byte, snap Snapshot) { f(frame, snap) }

type requestKind int

const (
	reqFloorplan requestKind = iota
	reqLocalize
	reqSelect
	reqPlan
	reqScale
	reqSettings
	numRequestKinds
)

func (k requestKind) String() string {
	return [...]string{"floorplan", "localize", "select_destination", "planner", "scale", "settings"}[k]
}

// Options configures a Navigator.
type Options struct {
	// SessionID filters planner updates. Empty accepts every session.
	SessionID string
	// Surface is the drawing size. Zero uses the floorplan's size.
	Surface        image.Point
	Location       backend.Location
	MetersPerPixel float64
}

// Snapshot is a copy of the navigation state safe to hold across updates.
type Snapshot struct {
	Location       backend.Location      `json:"location"`
	MetersPerPixel float64               `json:"meters_per_pixel"`
	FloorplanSize  image.Point           `json:"floorplan_size"`
	Destinations   []spatial.Destination `json:"destinations"`
	Selected       *spatial.Destination  `json:"selected,omitempty"`
	Pose           *nav.Pose             `json:"pose,omitempty"`
	Path           nav.Path              `json:"path,omitempty"`
	Instructions   []nav.Instruction     `json:"instructions"`
	View           view.State            `json:"view"`
	Status         string                `json:"status"`
	ServerLog      []string              `json:"server_log"`
	Frames         uint64                `json:"frames"`
}

// Navigator owns the navigation state.
type Navigator struct {
	logger    customlog.Logger
	backend   Backend
	renderer  *render.Renderer
	presenter Presenter
	sessionID string
	surface   image.Point

	view  *view.Transform
	dirty bool

	gens [numRequestKinds]uint64

	mu             sync.RWMutex
	location       backend.Location
	metersPerPixel float64
	floorplan      image.Image
	destinations   []spatial.Destination
	selected       *spatial.Destination
	pose           *nav.Pose
	path           nav.Path
	instructions   []nav.Instruction
	status         string
	serverLog      []string
	frames         uint64
	lastFrame      []byte
}

// NewNavigator creates a navigator. presenter may be nil.
func NewNavigator(b Backend, renderer *render.Renderer, presenter Presenter, logger customlog.Logger, opts Options) *Navigator {
	n := &Navigator{
		logger:         logger,
		backend:        b,
		renderer:       renderer,
		presenter:      presenter,
		sessionID:      opts.SessionID,
		surface:        opts.Surface,
		location:       opts.Location,
		metersPerPixel: opts.MetersPerPixel,
	}
	n.view = view.NewTransform(func(view.State) { n.dirty = true })
	return n
}

// Update applies one message and returns the follow-up command, if any.
// It must only be called from the event loop. At most one frame is
// rendered per call.
func (n *Navigator) Update(msg Msg) Cmd {
	n.mu.Lock()
	n.dirty = false
	cmd := n.update(msg)
	var frame []byte
	var snap Snapshot
	if n.dirty {
		frame = n.renderLocked()
		snap = n.snapshotLocked()
	}
	n.mu.Unlock()

	if frame != nil && n.presenter != nil {
		n.presenter.Present(frame, snap)
	}
	return cmd
}

func (n *Navigator) update(msg Msg) Cmd {
	switch m := msg.(type) {
	case batchMsg:
		var cmds []Cmd
		for _, sub := range m {
			cmds = append(cmds, n.update(sub))
		}
		return Batch(cmds...)

	case LoadFloorplan:
		return n.loadFloorplan()

	case FloorplanLoaded:
		if n.stale(reqFloorplan, m.Gen) {
			return nil
		}
		if m.Err != nil {
			n.setStatus(fmt.Sprintf("Failed to load floorplan: %v", m.Err))
			return nil
		}
		n.floorplan = m.Floorplan.Image
		n.destinations = m.Floorplan.Destinations
		n.selected = nil
		n.path = nil
		n.recomputeInstructions()
		n.view.Reset()
		if len(n.destinations) == 0 {
			n.setStatus(StatusNoDestinations)
		} else {
			n.setStatus(fmt.Sprintf("Loaded floorplan with %d destinations", len(n.destinations)))
		}
		n.dirty = true
		return nil

	case Localize:
		gen := n.next(reqLocalize)
		b, img := n.backend, m.Image
		n.setStatus("Localizing...")
		return func(ctx context.Context) Msg {
			pose, err := b.Localize(ctx, img)
			return PoseReceived{Gen: gen, Pose: pose, Err: err}
		}

	case PoseReceived:
		if n.stale(reqLocalize, m.Gen) {
			return nil
		}
		if m.Err != nil {
			if !errors.Is(m.Err, backend.ErrLocalizationFailed) {
				n.logger.Warnf("Localization request failed: %v", m.Err)
			}
			n.setStatus(StatusLocalizationFailed)
			return nil
		}
		pose := m.Pose.Rounded()
		n.pose = &pose
		n.setStatus(fmt.Sprintf("Localized at %s", pose))
		n.recomputeInstructions()
		n.dirty = true
		return nil

	case Click:
		pt := n.view.ToImageSpace(m.Screen)
		d, err := spatial.NearestDestination(pt, n.destinations)
		if err != nil {
			n.setStatus(StatusNoDestinations)
			return nil
		}
		if n.selected != nil && n.selected.ID == d.ID {
			return nil
		}
		n.selected = &d
		n.setStatus(fmt.Sprintf("Selected %s", d.Name))
		n.dirty = true
		return nil

	case SubmitDestination:
		if n.selected == nil {
			n.setStatus(StatusNoSelection)
			return nil
		}
		gen := n.next(reqSelect)
		b, id := n.backend, n.selected.ID
		return func(ctx context.Context) Msg {
			return DestinationSubmitted{Gen: gen, ID: id, Err: b.SelectDestination(ctx, id)}
		}

	case DestinationSubmitted:
		if n.stale(reqSelect, m.Gen) {
			return nil
		}
		if m.Err != nil {
			n.setStatus(fmt.Sprintf("Failed to set destination: %v", m.Err))
			return nil
		}
		n.setStatus(fmt.Sprintf("Destination %s set", m.ID))
		return nil

	case Navigate:
		if n.pose == nil {
			n.setStatus(StatusNoPose)
			return nil
		}
		gen := n.next(reqPlan)
		b := n.backend
		return func(ctx context.Context) Msg {
			plan, err := b.Planner(ctx)
			return PathReceived{Gen: gen, Plan: plan, Err: err}
		}

	case PathReceived:
		if n.stale(reqPlan, m.Gen) {
			return nil
		}
		if m.Err != nil {
			n.setStatus(fmt.Sprintf("Planning failed: %v", m.Err))
			return nil
		}
		n.path = m.Plan.Path
		n.recomputeInstructions()
		if nav.IsUnreachable(n.path) {
			n.setStatus(StatusBlocked)
		}
		n.dirty = true
		return nil

	case ScaleReceived:
		if n.stale(reqScale, m.Gen) {
			return nil
		}
		if m.Err != nil {
			n.logger.Warnf("Scale lookup for %s failed: %v", n.location, m.Err)
			n.metersPerPixel = 0
		} else {
			n.metersPerPixel = m.Scale
		}
		n.recomputeInstructions()
		return nil

	case PlannerUpdate:
		if n.sessionID != "" && m.SessionID != "" && m.SessionID != n.sessionID {
			return nil
		}
		n.applyPlannerUpdate(m)
		return nil

	case PanPress:
		n.view.Press(m.Screen)
	case PanMove:
		n.view.Move(m.Screen)
	case PanRelease:
		n.view.Release()
	case PointerLeave:
		n.view.Leave()
	case PanBy:
		n.view.PanBatch(m.Deltas...)
	case ResetView:
		n.view.Reset()

	case LocationChanged:
		for k := range n.gens {
			n.gens[k]++
		}
		loc := m.Location.Location()
		n.location = loc
		n.metersPerPixel = m.Location.MetersPerPixel
		n.selected = nil
		n.path = nil
		n.recomputeInstructions()
		n.setStatus(fmt.Sprintf("Switching to %s", loc))
		n.dirty = true

		gen := n.gens[reqSettings]
		b := n.backend
		return func(ctx context.Context) Msg {
			return SettingsApplied{Gen: gen, Err: b.UpdateSettings(ctx, loc)}
		}

	case SettingsApplied:
		if n.stale(reqSettings, m.Gen) {
			return nil
		}
		if m.Err != nil {
			n.setStatus(fmt.Sprintf("Failed to switch location: %v", m.Err))
			return nil
		}
		cmds := []Cmd{n.loadFloorplan()}
		if !(n.metersPerPixel > 0) {
			cmds = append(cmds, n.fetchScale())
		}
		return Batch(cmds...)

	case ServerLog:
		n.serverLog = append(n.serverLog, m.Line)
		if over := len(n.serverLog) - ServerLogLimit; over > 0 {
			n.serverLog = append([]string(nil), n.serverLog[over:]...)
		}

	case nil:
	default:
		n.logger.Warnf("Navigator ignoring unknown message %T", msg)
	}
	return nil
}

func (n *Navigator) loadFloorplan() Cmd {
	gen := n.next(reqFloorplan)
	b := n.backend
	return func(ctx context.Context) Msg {
		fp, err := b.GetFloorplanAndDestinations(ctx)
		return FloorplanLoaded{Gen: gen, Floorplan: fp, Err: err}
	}
}

func (n *Navigator) fetchScale() Cmd {
	gen := n.next(reqScale)
	b, loc := n.backend, n.location
	return func(ctx context.Context) Msg {
		scale, err := b.GetScale(ctx, loc)
		return ScaleReceived{Gen: gen, Scale: scale, Err: err}
	}
}

func (n *Navigator) applyPlannerUpdate(m PlannerUpdate) {
	if len(m.Update.Floorplan) > 0 && n.floorplan == nil {
		img, _, err := image.Decode(bytes.NewReader(m.Update.Floorplan))
		if err != nil {
			n.logger.Warnf("Planner update for %s carried an undecodable floorplan: %v", m.SessionID, err)
		} else {
			n.floorplan = img
			n.view.Reset()
		}
	}
	if pose, ok := m.Update.Pose(); ok {
		pose = pose.Rounded()
		n.pose = &pose
	}
	n.path = m.Update.Path()
	n.recomputeInstructions()
	n.dirty = true
}

// recomputeInstructions derives instructions from the committed pose, path
// and scale.
func (n *Navigator) recomputeInstructions() {
	n.instructions = nil
	if n.pose == nil || len(n.path) == 0 {
		return
	}
	if nav.IsUnreachable(n.path) {
		n.setStatus(StatusBlocked)
		return
	}
	ins, err := nav.DeriveInstructions(*n.pose, n.path, n.metersPerPixel)
	if err != nil {
		n.logger.Debugf("No instructions: %v", err)
		n.setStatus(StatusNoInstructions)
		return
	}
	n.instructions = ins
	n.setStatus(fmt.Sprintf("%d instructions, %.2f meters total", len(ins), nav.TotalDistance(ins)))
}

func (n *Navigator) next(k requestKind) uint64 {
	n.gens[k]++
	return n.gens[k]
}

func (n *Navigator) stale(k requestKind, gen uint64) bool {
	if gen == n.gens[k] {
		return false
	}
	n.logger.Debugf("Discarding %s response: %v (generation %d, latest %d)", k, ErrStaleResponse, gen, n.gens[k])
	return true
}

func (n *Navigator) setStatus(s string) {
	if s != n.status {
		n.status = s
		n.dirty = true
	}
}

func (n *Navigator) renderLocked() []byte {
	if n.renderer == nil {
		return nil
	}
	if n.floorplan == nil && n.surface == (image.Point{}) {
		return nil
	}
	img, err := n.renderer.Render(render.Scene{
		Floorplan:    n.floorplan,
		Size:         n.surface,
		Destinations: n.destinations,
		Selected:     n.selected,
		Pose:         n.pose,
		Path:         n.path,
		View:         n.view.State(),
	})
	if err != nil {
		n.logger.Errorf("Render failed: %v", err)
		return nil
	}
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		n.logger.Errorf("Encoding frame failed: %v", err)
		return nil
	}
	n.frames++
	n.lastFrame = buf.Bytes()
	return n.lastFrame
}

func (n *Navigator) snapshotLocked() Snapshot {
	s := Snapshot{
		Location:       n.location,
		MetersPerPixel: n.metersPerPixel,
		Destinations:   append([]spatial.Destination(nil), n.destinations...),
		Path:           append(nav.Path(nil), n.path...),
		Instructions:   append([]nav.Instruction(nil), n.instructions...),
		View:           n.view.State(),
		Status:         n.status,
		ServerLog:      append([]string(nil), n.serverLog...),
		Frames:         n.frames,
	}
	if n.floorplan != nil {
		s.FloorplanSize = n.floorplan.Bounds().Size()
	}
	if n.selected != nil {
		sel := *n.selected
		s.Selected = &sel
	}
	if n.pose != nil {
		p := *n.pose
		s.Pose = &p
	}
	return s
}

// Snapshot returns a copy of the current state. Safe from any goroutine.
func (n *Navigator) Snapshot() Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.snapshotLocked()
}

// LastFrame returns the most recent PNG frame, or nil before the first
// render.
func (n *Navigator) LastFrame() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastFrame
}
