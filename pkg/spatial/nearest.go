// Package spatial resolves pointer coordinates to floorplan destinations.
package spatial

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/unav/navclient/pkg/geometry"
)

// ErrEmptySet is matched by EmptySetError.
var ErrEmptySet = errors.New("no destinations to select from")

// EmptySetError is returned when a lookup runs against an empty destination set.
type EmptySetError struct{}

func (EmptySetError) Error() string { return ErrEmptySet.Error() }
func (EmptySetError) Unwrap() error { return ErrEmptySet }

// Point is an image-space coordinate.
type Point = geometry.Point

// Destination is a selectable target on the current floorplan.
type Destination struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location Point  `json:"location"`
}

// NearestIndex returns the index of the destination closest to p.
//
// The scan is linear in len(destinations). On equal distance the destination
// that appears first wins, so the result is deterministic for a given order.
func NearestIndex(p Point, destinations []Destination) (int, error) {
	if len(destinations) == 0 {
		return -1, EmptySetError{}
	}
	best := -1
	bestDist := math.Inf(1)
	for i, d := range destinations {
		// Squared distance preserves ordering and avoids the sqrt.
		dist := r2.Norm2(r2.Sub(d.Location, p))
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		// Every distance was NaN; fall back to the first entry.
		best = 0
	}
	return best, nil
}

// NearestDestination returns the destination closest to p in image space.
func NearestDestination(p Point, destinations []Destination) (Destination, error) {
	i, err := NearestIndex(p, destinations)
	if err != nil {
		return Destination{}, err
	}
	return destinations[i], nil
}

// FindByID looks a destination up by its id.
func FindByID(id string, destinations []Destination) (Destination, bool) {
	for _, d := range destinations {
		if d.ID == id {
			return d, true
		}
	}
	return Destination{}, false
}
