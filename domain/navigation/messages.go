package navigation

import (
	"context"

	"github.com/unav/navclient/pkg/backend"
	"github.com/unav/navclient/pkg/config"
	"github.com/unav/navclient/pkg/feed"
	"github.com/unav/navclient/pkg/geometry"
	nav "github.com/unav/navclient/pkg/navigation"
)

// Msg is anything Update understands.
type Msg interface{}

// Cmd performs I/O off the event loop and reports back with a Msg. A nil
// Cmd does nothing.
type Cmd func(ctx context.Context) Msg

// Batch runs cmds concurrently. Nil entries are skipped.
func Batch(cmds ...Cmd) Cmd {
	var valid []Cmd
	for _, c := range cmds {
		if c != nil {
			valid = append(valid, c)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0]
	}
	return func(ctx context.Context) Msg {
		out := make(batchMsg, len(valid))
		done := make(chan struct{}, len(valid))
		for i, c := range valid {
			go func(i int, c Cmd) {
				out[i] = c(ctx)
				done <- struct{}{}
			}(i, c)
		}
		for range valid {
			<-done
		}
		return out
	}
}

type batchMsg []Msg

// LoadFloorplan fetches the floorplan and destinations for the current
// location.
type LoadFloorplan struct{}

// FloorplanLoaded is the floorplan fetch result.
type FloorplanLoaded struct {
	Gen       uint64
	Floorplan backend.Floorplan
	Err       error
}

// Localize sends a query image to the localizer.
type Localize struct {
	Image []byte
}

// PoseReceived is the localization result.
type PoseReceived struct {
	Gen  uint64
	Pose nav.Pose
	Err  error
}

// Click selects the destination nearest to a screen point.
type Click struct {
	Screen geometry.Point
}

// SubmitDestination sends the selected destination to the backend.
type SubmitDestination struct{}

// DestinationSubmitted is the select_destination result.
type DestinationSubmitted struct {
	Gen uint64
	ID  string
	Err error
}

// Navigate asks the planner for a path from the pose to the selected
// destination.
type Navigate struct{}

// PathReceived is the planner result.
type PathReceived struct {
	Gen  uint64
	Plan backend.Plan
	Err  error
}

// ScaleReceived is the get_scale result.
type ScaleReceived struct {
	Gen   uint64
	Scale float64
	Err   error
}

// PlannerUpdate applies a pushed pose and path for a session.
type PlannerUpdate struct {
	SessionID string
	Update    *feed.PlannerUpdate
}

// PanPress starts a drag at a screen point.
type PanPress struct{ Screen geometry.Point }

// PanMove continues a drag.
type PanMove struct{ Screen geometry.Point }

// PanRelease ends a drag.
type PanRelease struct{}

// PointerLeave ends a drag when the pointer leaves the surface.
type PointerLeave struct{}

// PanBy pans by screen deltas with a single redraw.
type PanBy struct{ Deltas []geometry.Point }

// ResetView restores the identity view.
type ResetView struct{}

// LocationChanged switches to another floor. A non-positive
// MetersPerPixel asks the backend for the scale.
type LocationChanged struct {
	Location config.LocationConfig
}

// SettingsApplied reports that the backend switched location.
type SettingsApplied struct {
	Gen uint64
	Err error
}

// ServerLog appends a line to the server log.
type ServerLog struct {
	Line string
}
