package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/navigation"
	"github.com/unav/navclient/pkg/spatial"
	"github.com/unav/navclient/pkg/view"
)

var gray = color.RGBA{R: 200, G: 200, B: 200, A: 255}

func floorplan(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], []uint8{gray.R, gray.G, gray.B, gray.A})
	}
	return img
}

func fullScene() Scene {
	pose := navigation.Pose{X: 100, Y: 100, Heading: 90}
	return Scene{
		Floorplan:    floorplan(400, 400),
		Destinations: []spatial.Destination{{ID: "d0", Name: "Lobby", Location: spatial.Point{X: 30, Y: 380}}},
		Pose:         &pose,
		Path:         navigation.Path{{X: 100, Y: 300}, {X: 300, Y: 300}},
		View:         view.Identity(),
	}
}

func near(t *testing.T, want color.RGBA, img *image.RGBA, x, y int) {
	t.Helper()
	got := img.RGBAAt(x, y)
	diff := func(a, b uint8) int {
		if a > b {
			return int(a - b)
		}
		return int(b - a)
	}
	if diff(got.R, want.R) > 2 || diff(got.G, want.G) > 2 || diff(got.B, want.B) > 2 {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

func TestRenderDrawsLayers(t *testing.T) {
	style := DefaultStyle()
	r := NewRenderer(style, customlog.NewNopLogger())

	img, err := r.Render(fullScene())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 400), img.Bounds())

	near(t, gray, img, 380, 20)
	near(t, style.DestinationColor, img, 30, 380)
	near(t, style.PoseColor, img, 100, 100)
	near(t, style.PoseColor, img, 250, 100) // heading ray to the right
	near(t, style.PathColor, img, 100, 250) // first leg, outside the start disc
	near(t, style.PathColor, img, 200, 300) // second leg
	near(t, style.EndColor, img, 300, 300)  // end star
}

func TestRenderIsIdempotent(t *testing.T) {
	r := NewRenderer(DefaultStyle(), customlog.NewNopLogger())
	scene := fullScene()

	a, err := r.Render(scene)
	require.NoError(t, err)
	b, err := r.Render(scene)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a.Pix, b.Pix), "two renders of one scene differ")
}

func TestRenderFollowsView(t *testing.T) {
	style := DefaultStyle()
	style.ShowLabels = false
	r := NewRenderer(style, customlog.NewNopLogger())

	scene := Scene{
		Floorplan:    floorplan(200, 200),
		Destinations: []spatial.Destination{{ID: "a", Location: spatial.Point{X: 20, Y: 20}}},
		View:         view.State{Scale: 1, OriginX: 50, OriginY: 10},
	}
	img, err := r.Render(scene)
	require.NoError(t, err)

	near(t, style.DestinationColor, img, 70, 30)
	near(t, gray, img, 100, 100)
	// Panning right uncovers background on the left edge.
	near(t, style.Background, img, 20, 20)
	near(t, style.Background, img, 10, 100)
}

func TestRenderSelectedOnly(t *testing.T) {
	style := DefaultStyle()
	style.ShowLabels = false
	r := NewRenderer(style, customlog.NewNopLogger())

	sel := spatial.Destination{ID: "b", Name: "Exit", Location: spatial.Point{X: 150, Y: 150}}
	img, err := r.Render(Scene{
		Floorplan:    floorplan(300, 300),
		Destinations: []spatial.Destination{{ID: "a", Location: spatial.Point{X: 20, Y: 20}}, sel},
		Selected:     &sel,
		View:         view.Identity(),
	})
	require.NoError(t, err)

	near(t, style.SelectedColor, img, 150, 150)
	near(t, gray, img, 20, 20)
}

func TestRenderUnreachablePathDrawsOnlyPose(t *testing.T) {
	style := DefaultStyle()
	r := NewRenderer(style, customlog.NewNopLogger())
	scene := fullScene()
	scene.Destinations = nil
	scene.Path = navigation.Path{{X: 300, Y: 300}}

	img, err := r.Render(scene)
	require.NoError(t, err)
	near(t, style.PoseColor, img, 100, 100)
	near(t, gray, img, 300, 300)
}

func TestRenderErrors(t *testing.T) {
	r := NewRenderer(DefaultStyle(), customlog.NewNopLogger())

	_, err := r.Render(Scene{View: view.Identity()})
	assert.ErrorIs(t, err, ErrNoSurface)

	_, err = r.Render(Scene{Size: image.Pt(10, 10)})
	assert.ErrorIs(t, err, view.ErrInvalidViewScale)

	img, err := r.Render(Scene{Size: image.Pt(10, 10), View: view.Identity()})
	require.NoError(t, err)
	near(t, DefaultStyle().Background, img, 5, 5)
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, floorplan(4, 3)))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), decoded.Bounds())
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("Red")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, c)

	c, err = ParseColor("#10ff80")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0xff, B: 0x80, A: 0xff}, c)

	c, err = ParseColor("#ffffff00")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{}, c)

	_, err = ParseColor("#12")
	assert.Error(t, err)
	_, err = ParseColor("nope")
	assert.Error(t, err)
}
