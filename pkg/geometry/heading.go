// Package geometry holds the heading and bearing math shared by the planner,
// the hit tester and the renderer.
//
// All angles are degrees measured clockwise from image "up" (negative y), the
// convention the localization backend reports headings in.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a location in floorplan image space (pixels, y grows downward).
type Point = r2.Vec

// NormalizeHeading wraps h into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	// math.Mod can hand back -0 or a value that rounds to 360 after the add.
	if h >= 360 || h == 0 {
		return 0
	}
	return h
}

// Bearing returns the direction of the vector from -> to, clockwise from up,
// in [0, 360). ok is false for a zero-length vector.
func Bearing(from, to Point) (bearing float64, ok bool) {
	d := r2.Sub(to, from)
	if d.X == 0 && d.Y == 0 {
		return 0, false
	}
	return NormalizeHeading(math.Atan2(d.X, -d.Y) * 180 / math.Pi), true
}

// SignedTurn returns the turn from current to target in (-180, 180].
// Positive values are clockwise.
func SignedTurn(target, current float64) float64 {
	d := NormalizeHeading(target - current)
	if d > 180 {
		d -= 360
	}
	return d
}

// Distance is the euclidean distance between two image points.
func Distance(a, b Point) float64 {
	return r2.Norm(r2.Sub(b, a))
}

// HeadingVector returns the unit vector for a heading, in image coordinates.
func HeadingVector(heading float64) Point {
	rad := heading * math.Pi / 180
	return Point{X: math.Sin(rad), Y: -math.Cos(rad)}
}
