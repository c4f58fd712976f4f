// Package render draws the navigation scene: floorplan, destinations, pose
// and path, in that order, onto a fresh raster on every call.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/unav/navclient/pkg/geometry"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/navigation"
	"github.com/unav/navclient/pkg/spatial"
	"github.com/unav/navclient/pkg/view"
)

// ErrNoSurface is returned when neither a floorplan nor an explicit size
// gives the raster dimensions.
var ErrNoSurface = errors.New("render: no surface size")

// One vg point per pixel.
const dpi = 72

// Scene is everything one frame shows. The renderer never mutates it.
type Scene struct {
	Floorplan image.Image
	// Size of the drawing surface. Zero means the floorplan's size.
	Size         image.Point
	Destinations []spatial.Destination
	Selected     *spatial.Destination
	Pose         *navigation.Pose
	Path         navigation.Path
	View         view.State
}

// Renderer draws scenes with a fixed style.
type Renderer struct {
	style  Style
	logger customlog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(style Style, logger customlog.Logger) *Renderer {
	return &Renderer{style: style, logger: logger}
}

// Style returns the renderer's style.
func (r *Renderer) Style() Style { return r.style }

// Render clears the surface and draws the whole scene. The same scene
// always produces the same pixels.
func (r *Renderer) Render(s Scene) (*image.RGBA, error) {
	size := s.Size
	if size == (image.Point{}) && s.Floorplan != nil {
		size = s.Floorplan.Bounds().Size()
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, ErrNoSurface
	}
	st := s.View
	if !(st.Scale > 0) {
		return nil, fmt.Errorf("render: %w", view.ErrInvalidViewScale)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.style.Background), image.Point{}, draw.Src)

	if s.Floorplan != nil {
		draw.ApproxBiLinear.Transform(dst, st.Matrix(), s.Floorplan, s.Floorplan.Bounds(), draw.Over, nil)
	}

	p := painter{style: r.style, view: st, height: float64(size.Y)}

	// Destinations and their labels sit under the pose and path.
	dst = p.layer(dst, func(c *vgimg.Canvas) {
		if s.Selected != nil {
			p.star(c, s.Selected.Location, r.style.SelectedRadius, r.style.SelectedColor)
			return
		}
		for _, d := range s.Destinations {
			p.disc(c, d.Location, r.style.DestinationRadius, r.style.DestinationColor)
		}
	})
	if r.style.ShowLabels {
		if s.Selected != nil {
			p.label(dst, s.Selected.Location, s.Selected.Name)
		} else {
			for i, d := range s.Destinations {
				p.label(dst, d.Location, fmt.Sprintf("%d: %s", i, d.Name))
			}
		}
	}

	if s.Pose == nil && len(s.Path) == 0 {
		return dst, nil
	}
	dst = p.layer(dst, func(c *vgimg.Canvas) {
		if s.Pose != nil {
			at := s.Pose.Point()
			p.disc(c, at, r.style.PoseRadius, r.style.PoseColor)
			dir := geometry.HeadingVector(s.Pose.Heading)
			tip := geometry.Point{X: at.X + r.style.RayLength*dir.X, Y: at.Y + r.style.RayLength*dir.Y}
			p.polyline(c, []geometry.Point{at, tip}, r.style.RayWidth, r.style.PoseColor)
		}
		if navigation.IsUnreachable(s.Path) {
			return
		}
		pts := make([]geometry.Point, 0, len(s.Path)+1)
		if s.Pose != nil {
			pts = append(pts, s.Pose.Point())
		}
		for _, w := range s.Path {
			pts = append(pts, w.Point())
		}
		p.polyline(c, pts, r.style.PathWidth, r.style.PathColor)
		p.disc(c, pts[0], r.style.StartRadius, r.style.StartColor)
		p.star(c, pts[len(pts)-1], r.style.EndRadius, r.style.EndColor)
	})
	return dst, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// painter maps image-space geometry onto a vgimg canvas whose origin is
// bottom-left.
type painter struct {
	style  Style
	view   view.State
	height float64
}

func (p painter) pt(ip geometry.Point) vg.Point {
	sp := p.view.ToScreenSpace(ip)
	return vg.Point{X: vg.Length(sp.X), Y: vg.Length(p.height - sp.Y)}
}

func (p painter) length(l float64) vg.Length {
	return vg.Length(l * p.view.Scale)
}

// layer draws fn on a transparent canvas and composites it over img.
func (p painter) layer(img *image.RGBA, fn func(c *vgimg.Canvas)) *image.RGBA {
	b := img.Bounds()
	c := vgimg.NewWith(
		vgimg.UseDPI(dpi),
		vgimg.UseWH(vg.Length(b.Dx()), vg.Length(b.Dy())),
		vgimg.UseBackgroundColor(color.Transparent),
	)
	fn(c)
	overlay := c.Image()
	draw.Draw(img, b, overlay, overlay.Bounds().Min, draw.Over)
	return img
}

func (p painter) disc(c *vgimg.Canvas, at geometry.Point, radius float64, col color.Color) {
	center := p.pt(at)
	r := p.length(radius)
	var path vg.Path
	path.Move(vg.Point{X: center.X + r, Y: center.Y})
	path.Arc(center, r, 0, 2*math.Pi)
	path.Close()
	c.SetColor(col)
	c.Fill(path)
}

// star fills a five-pointed star with outer radius radius, point up.
func (p painter) star(c *vgimg.Canvas, at geometry.Point, radius float64, col color.Color) {
	const innerRatio = 0.381966
	var path vg.Path
	for i := 0; i < 10; i++ {
		rad := radius
		if i%2 == 1 {
			rad = radius * innerRatio
		}
		v := geometry.HeadingVector(float64(i) * 36)
		q := p.pt(geometry.Point{X: at.X + rad*v.X, Y: at.Y + rad*v.Y})
		if i == 0 {
			path.Move(q)
		} else {
			path.Line(q)
		}
	}
	path.Close()
	c.SetColor(col)
	c.Fill(path)
}

func (p painter) polyline(c *vgimg.Canvas, pts []geometry.Point, width float64, col color.Color) {
	if len(pts) < 2 {
		return
	}
	var path vg.Path
	path.Move(p.pt(pts[0]))
	for _, q := range pts[1:] {
		path.Line(p.pt(q))
	}
	c.SetColor(col)
	c.SetLineWidth(p.length(width))
	c.Stroke(path)
}

// label draws text with its baseline at the point, in screen pixels.
func (p painter) label(img *image.RGBA, at geometry.Point, text string) {
	sp := p.view.ToScreenSpace(at)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(p.style.LabelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(sp.X)), int(math.Round(sp.Y))),
	}
	d.DrawString(text)
}
