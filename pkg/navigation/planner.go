package navigation

import (
	"errors"
	"fmt"
	"math"

	"github.com/unav/navclient/pkg/geometry"
)

// ErrInvalidScale is matched by every InvalidScaleError.
var ErrInvalidScale = errors.New("meters per pixel must be positive")

// InvalidScaleError reports a non-positive metres-per-pixel scale.
type InvalidScaleError struct {
	MetersPerPixel float64
}

func (e *InvalidScaleError) Error() string {
	return fmt.Sprintf("invalid scale %v: %v", e.MetersPerPixel, ErrInvalidScale)
}

func (e *InvalidScaleError) Unwrap() error {
	return ErrInvalidScale
}

// ClockDirection maps a signed turn in (-180, 180] onto a 12-hour clock face.
// 12 is straight ahead, 3 is a right angle clockwise, 9 counter-clockwise.
// The turn is quantised to the nearest 30 degrees; an exact half step (15, 45,
// ...) rounds away from 12.
func ClockDirection(turn float64) int {
	hour := int(math.Round(turn/30)) % 12
	if hour < 0 {
		hour += 12
	}
	if hour == 0 {
		return 12
	}
	return hour
}

// DeriveInstructions converts a pose and path into one instruction per
// segment: pose -> path[0], path[0] -> path[1], and so on. The walker is
// assumed to face along each segment before the next turn is measured.
//
// A path with fewer than two points is unreachable and yields no
// instructions. Neither argument is modified.
func DeriveInstructions(pose Pose, path Path, metersPerPixel float64) ([]Instruction, error) {
	if math.IsNaN(metersPerPixel) || metersPerPixel <= 0 || math.IsInf(metersPerPixel, 0) {
		return nil, &InvalidScaleError{MetersPerPixel: metersPerPixel}
	}
	if IsUnreachable(path) {
		return []Instruction{}, nil
	}

	instructions := make([]Instruction, 0, len(path))
	heading := geometry.NormalizeHeading(pose.Heading)
	from := pose.Point()

	for _, wp := range path {
		to := wp.Point()
		turn := 0.0
		// A zero-length segment has no bearing; keep facing the same way.
		if bearing, ok := geometry.Bearing(from, to); ok {
			turn = geometry.SignedTurn(bearing, heading)
			heading = bearing
		}
		instructions = append(instructions, Instruction{
			Clock:          ClockDirection(turn),
			DistanceMeters: geometry.Distance(from, to) * metersPerPixel,
			Turn:           turn,
			Bearing:        heading,
			To:             wp,
		})
		from = to
	}

	return instructions, nil
}
