package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/unav/navclient/pkg/navigation"
	"github.com/unav/navclient/pkg/spatial"
)

// Location identifies one floor of one building.
type Location struct {
	Place    string `json:"place" yaml:"place"`
	Building string `json:"building" yaml:"building"`
	Floor    string `json:"floor" yaml:"floor"`
}

func (l Location) String() string {
	return l.Place + "/" + l.Building + "/" + l.Floor
}

// Floorplan is a decoded floorplan with its destinations.
type Floorplan struct {
	Image        image.Image
	Encoded      []byte
	Destinations []spatial.Destination
}

// Plan is the planner's answer. Path is unreachable when it has one point.
type Plan struct {
	Path      navigation.Path
	Floorplan []byte
	Actions   json.RawMessage
}

// Options lists floors per building per place.
type Options map[string]map[string][]string

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

type destinationDTO struct {
	ID       flexString `json:"id"`
	Name     string     `json:"name"`
	Location []float64  `json:"location"`
}

type floorplanDTO struct {
	Floorplan    string           `json:"floorplan"`
	Destinations []destinationDTO `json:"destinations"`
}

type plannerDTO struct {
	Paths     [][]json.RawMessage `json:"paths"`
	Floorplan string              `json:"floorplan"`
	Actions   json.RawMessage     `json:"actions"`
	Error     string              `json:"error"`
}

type poseDTO struct {
	Pose []float64 `json:"pose"`
}

type scaleDTO struct {
	Scale float64 `json:"scale"`
}

type errorDTO struct {
	Error string `json:"error"`
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(b64 string) ([]byte, image.Image, error) {
	if i := strings.IndexByte(b64, ','); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, fmt.Errorf("floorplan is not base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decode floorplan image: %w", err)
	}
	return raw, img, nil
}

func (d floorplanDTO) toFloorplan() (Floorplan, error) {
	raw, img, err := decodeImage(d.Floorplan)
	if err != nil {
		return Floorplan{}, err
	}
	dests := make([]spatial.Destination, 0, len(d.Destinations))
	for i, dd := range d.Destinations {
		if len(dd.Location) < 2 {
			return Floorplan{}, fmt.Errorf("destination %d (%s) has no location", i, dd.Name)
		}
		dests = append(dests, spatial.Destination{
			ID:       string(dd.ID),
			Name:     dd.Name,
			Location: spatial.Point{X: dd.Location[0], Y: dd.Location[1]},
		})
	}
	return Floorplan{Image: img, Encoded: raw, Destinations: dests}, nil
}

// parsePath converts [[x, y(, floor)], ...]. The floor may be a string or
// a number.
func parsePath(points [][]json.RawMessage) (navigation.Path, error) {
	path := make(navigation.Path, 0, len(points))
	for i, p := range points {
		if len(p) < 2 {
			return nil, fmt.Errorf("path point %d has %d coordinates", i, len(p))
		}
		var w navigation.Waypoint
		if err := json.Unmarshal(p[0], &w.X); err != nil {
			return nil, fmt.Errorf("path point %d x: %w", i, err)
		}
		if err := json.Unmarshal(p[1], &w.Y); err != nil {
			return nil, fmt.Errorf("path point %d y: %w", i, err)
		}
		if len(p) > 2 {
			var floor flexString
			if err := json.Unmarshal(p[2], &floor); err != nil {
				return nil, fmt.Errorf("path point %d floor: %w", i, err)
			}
			w.Floor = string(floor)
		}
		path = append(path, w)
	}
	return path, nil
}
