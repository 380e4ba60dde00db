package windshed

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
)

// Overlay colour ramp end points and opacity.
var (
	rampLow  = colorful.Hcl(90, 0.35, 0.95)
	rampHigh = colorful.Hcl(20, 0.6, 0.3)
)

const overlayAlpha = 0.65

// RenderOptions control Render.
type RenderOptions struct {
	Hillshade *Grid
	Overlay   *Grid
	MaxValue  float64 // Overlay value mapped to the end of the ramp, zero for the overlay maximum.
	Markers   []Coord
	Scale     int
}

// RampColor returns the overlay colour for t in [0, 1].
func RampColor(t float64) colorful.Color {
	return rampLow.BlendHcl(rampHigh, math.Max(0, math.Min(t, 1))).Clamped()
}

// RenderImage draws a map of opts: a grayscale hillshade base, positive
// overlay values blended on top, and markers drawn as circles.
func RenderImage(opts RenderOptions) (*image.RGBA, error) {
	base := opts.Hillshade
	if base == nil {
		base = opts.Overlay
	}
	if base == nil {
		return nil, errors.New("nothing to render")
	}
	if opts.Overlay != nil && !opts.Overlay.SameGeometry(base) {
		return nil, fmt.Errorf("overlay: %w", ErrGeometryMismatch)
	}
	scale := max(opts.Scale, 1)

	maxValue := opts.MaxValue
	if maxValue <= 0 && opts.Overlay != nil {
		maxValue = opts.Overlay.Stats().Max
	}

	img := image.NewRGBA(image.Rect(0, 0, base.Width*scale, base.Height*scale))
	for y := range base.Height {
		for x := range base.Width {
			c := colorful.Color{R: 1, G: 1, B: 1}
			if opts.Hillshade != nil {
				if v := float64(opts.Hillshade.At(x, y)); !math.IsNaN(v) {
					gray := v / 255
					c = colorful.Color{R: gray, G: gray, B: gray}
				}
			}
			if opts.Overlay != nil {
				if v := float64(opts.Overlay.At(x, y)); v > 0 && maxValue > 0 {
					c = c.BlendRgb(RampColor(v/maxValue), overlayAlpha)
				}
			}
			r, g, b := c.Clamped().RGB255()
			rgba := color.RGBA{R: r, G: g, B: b, A: 0xff}
			for dy := range scale {
				for dx := range scale {
					img.SetRGBA(x*scale+dx, y*scale+dy, rgba)
				}
			}
		}
	}

	if len(opts.Markers) > 0 {
		dc := gg.NewContextForRGBA(img)
		radius := max(2, float64(scale)*1.5)
		for _, marker := range opts.Markers {
			fx, fy := base.Transform.PixelOf(marker)
			dc.DrawCircle(fx*float64(scale), fy*float64(scale), radius)
		}
		dc.SetRGB(0.1, 0.1, 0.1)
		dc.FillPreserve()
		dc.SetRGB(1, 1, 1)
		dc.SetLineWidth(1)
		dc.Stroke()
	}

	return img, nil
}

// Render writes a PNG map of opts to w.
func Render(w io.Writer, opts RenderOptions) error {
	img, err := RenderImage(opts)
	if err != nil {
		return err
	}
	return gg.NewContextForRGBA(img).EncodePNG(w)
}
