package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// Style holds marker colours and sizes. Sizes are in floorplan pixels and
// scale with the view.
type Style struct {
	Background color.RGBA

	DestinationColor  color.RGBA
	DestinationRadius float64
	LabelColor        color.RGBA

	SelectedColor  color.RGBA
	SelectedRadius float64

	PoseColor  color.RGBA
	PoseRadius float64
	RayLength  float64
	RayWidth   float64

	PathColor   color.RGBA
	PathWidth   float64
	StartColor  color.RGBA
	StartRadius float64
	EndColor    color.RGBA
	EndRadius   float64

	// ShowLabels draws "idx: name" beside destinations and the name
	// beside the selected one.
	ShowLabels bool
}

// DefaultStyle matches the marker sizes operators are used to.
func DefaultStyle() Style {
	return Style{
		Background:        colornames.White,
		DestinationColor:  colornames.Red,
		DestinationRadius: 5,
		LabelColor:        colornames.Red,
		SelectedColor:     colornames.Red,
		SelectedRadius:    100,
		PoseColor:         colornames.Blue,
		PoseRadius:        70,
		RayLength:         200,
		RayWidth:          40,
		PathColor:         colornames.Green,
		PathWidth:         40,
		StartColor:        colornames.Blue,
		StartRadius:       70,
		EndColor:          colornames.Red,
		EndRadius:         100,
		ShowLabels:        true,
	}
}

// ParseColor accepts an SVG colour name ("red", "steelblue") or #rrggbb /
// #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") || (len(s) != 7 && len(s) != 9) {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	if len(s) == 7 {
		return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
	}
	n := color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
	return color.RGBAModel.Convert(n).(color.RGBA), nil
}
