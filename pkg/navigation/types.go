// Package navigation turns a pose and a planned path into clock-face turn
// instructions.
package navigation

import (
	"fmt"
	"math"
	"strings"

	"github.com/unav/navclient/pkg/geometry"
)

// Pose is the localization estimate in floorplan image coordinates.
// Heading is in degrees clockwise from image up.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Point returns the pose position.
func (p Pose) Point() geometry.Point {
	return geometry.Point{X: p.X, Y: p.Y}
}

// Rounded returns the pose with every component rounded to the nearest integer,
// the precision the operator UI displays.
func (p Pose) Rounded() Pose {
	return Pose{X: math.Round(p.X), Y: math.Round(p.Y), Heading: math.Round(p.Heading)}
}

func (p Pose) String() string {
	return fmt.Sprintf("[%.0f, %.0f, %.0f]", p.X, p.Y, p.Heading)
}

// Waypoint is one point of a planned path. Floor is set on multi-floor paths.
type Waypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Floor string  `json:"floor,omitempty"`
}

// Point returns the waypoint position.
func (w Waypoint) Point() geometry.Point {
	return geometry.Point{X: w.X, Y: w.Y}
}

func (w Waypoint) String() string {
	if w.Floor != "" {
		return fmt.Sprintf("(%.0f, %.0f, %s)", w.X, w.Y, w.Floor)
	}
	return fmt.Sprintf("(%.0f, %.0f)", w.X, w.Y)
}

// Path is an ordered list of waypoints from the current position to the goal.
type Path []Waypoint

// IsUnreachable reports whether the planner signalled that the destination
// cannot be reached. A single point means start and goal coincide with no route.
func IsUnreachable(p Path) bool {
	return len(p) <= 1
}

// String lists the waypoints one per line.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, w := range p {
		parts[i] = w.String()
	}
	return strings.Join(parts, "\n")
}

// Instruction is a single "turn, then walk" step.
type Instruction struct {
	Clock          int      `json:"clock"`
	DistanceMeters float64  `json:"distance_meters"`
	Turn           float64  `json:"turn_degrees"`
	Bearing        float64  `json:"bearing_degrees"`
	To             Waypoint `json:"to"`
}

func (i Instruction) String() string {
	return fmt.Sprintf("Rotate to %d o'clock, walk %.2f meters", i.Clock, i.DistanceMeters)
}

// TotalDistance sums the walking distance of a set of instructions.
func TotalDistance(instructions []Instruction) float64 {
	total := 0.0
	for _, in := range instructions {
		total += in.DistanceMeters
	}
	return total
}
