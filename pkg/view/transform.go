// Package view maps between screen pixels and floorplan image space.
//
// The mapping is screen = (image + origin) * scale. Pan gestures move the
// origin by screen deltas divided by the current scale, so the content tracks
// the pointer at any zoom level. Nothing here clamps the origin: panning the
// image off the surface is legal and simply shows empty space.
package view

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/unav/navclient/pkg/geometry"
)

// ErrInvalidViewScale is returned by Restore for a non-positive scale.
var ErrInvalidViewScale = errors.New("view scale must be positive")

// Point is a 2D coordinate, in screen or image space depending on context.
type Point = geometry.Point

// State is a snapshot of the transform parameters.
type State struct {
	Scale   float64 `json:"scale"`
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
}

// Identity is the state after Reset.
func Identity() State {
	return State{Scale: 1}
}

// ToScreenSpace maps an image point to the screen.
func (s State) ToScreenSpace(p Point) Point {
	return r2.Scale(s.Scale, r2.Add(p, Point{X: s.OriginX, Y: s.OriginY}))
}

// ToImageSpace maps a screen point into the image.
func (s State) ToImageSpace(p Point) Point {
	return r2.Sub(r2.Scale(1/s.Scale, p), Point{X: s.OriginX, Y: s.OriginY})
}

// Matrix returns the image->screen affine as a row-major 2x3 matrix
// [a b c; d e f] with screen.x = a*x + b*y + c and screen.y = d*x + e*y + f.
func (s State) Matrix() f64.Aff3 {
	return f64.Aff3{
		s.Scale, 0, s.OriginX * s.Scale,
		0, s.Scale, s.OriginY * s.Scale,
	}
}

// RedrawFunc is called once per mutation of the transform.
type RedrawFunc func(State)

// Transform owns the mutable view state and drag gesture.
type Transform struct {
	mu       sync.Mutex
	state    State
	onRedraw RedrawFunc

	dragging bool
	last     Point
}

// NewTransform creates an identity transform. onRedraw may be nil.
func NewTransform(onRedraw RedrawFunc) *Transform {
	return &Transform{state: Identity(), onRedraw: onRedraw}
}

// State returns a copy of the current view state.
func (t *Transform) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ToImageSpace maps a screen point into image space under the current state.
func (t *Transform) ToImageSpace(p Point) Point {
	return t.State().ToImageSpace(p)
}

// ToScreenSpace maps an image point onto the screen under the current state.
func (t *Transform) ToScreenSpace(p Point) Point {
	return t.State().ToScreenSpace(p)
}

// Pan moves the view by a screen-space delta.
func (t *Transform) Pan(dxScreen, dyScreen float64) {
	t.PanBatch(Point{X: dxScreen, Y: dyScreen})
}

// PanBatch applies several screen deltas and requests a single redraw.
// An empty batch does nothing.
func (t *Transform) PanBatch(deltas ...Point) {
	if len(deltas) == 0 {
		return
	}
	t.mu.Lock()
	for _, d := range deltas {
		t.applyLocked(d)
	}
	s := t.state
	t.mu.Unlock()
	t.redraw(s)
}

// Reset restores scale 1 and a zero origin. Called whenever a new base image
// is loaded. Any drag in progress is dropped.
func (t *Transform) Reset() {
	t.mu.Lock()
	t.state = Identity()
	t.dragging = false
	s := t.state
	t.mu.Unlock()
	t.redraw(s)
}

// Restore reinstates a previously captured state.
func (t *Transform) Restore(s State) error {
	if !(s.Scale > 0) {
		return fmt.Errorf("restore view (scale %v): %w", s.Scale, ErrInvalidViewScale)
	}
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.redraw(s)
	return nil
}

// Press starts a drag at screen point p.
func (t *Transform) Press(p Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dragging = true
	t.last = p
}

// Move pans by the distance from the previous pointer position while a drag
// is active. It reports whether the view changed.
func (t *Transform) Move(p Point) bool {
	t.mu.Lock()
	if !t.dragging {
		t.mu.Unlock()
		return false
	}
	d := r2.Sub(p, t.last)
	t.last = p
	if d.X == 0 && d.Y == 0 {
		t.mu.Unlock()
		return false
	}
	t.applyLocked(d)
	s := t.state
	t.mu.Unlock()
	t.redraw(s)
	return true
}

// Release ends the drag.
func (t *Transform) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dragging = false
}

// Leave ends the drag when the pointer exits the surface.
func (t *Transform) Leave() {
	t.Release()
}

// Dragging reports whether a drag is in progress.
func (t *Transform) Dragging() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dragging
}

func (t *Transform) applyLocked(d Point) {
	t.state.OriginX += d.X / t.state.Scale
	t.state.OriginY += d.Y / t.state.Scale
}

func (t *Transform) redraw(s State) {
	if t.onRedraw != nil {
		t.onRedraw(s)
	}
}
