package windshed

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metres per degree of latitude and, at the equator, of longitude.
const (
	metersPerDegreeLat = 110574
	metersPerDegreeLon = 111320
)

// A Grid is an in-memory single band raster. Missing samples are NaN.
type Grid struct {
	Width     int
	Height    int
	Transform GeoTransform
	CRS       CRS
	Data      []float32
}

// A Window is a rectangle of pixels.
type Window struct {
	X0     int
	Y0     int
	Width  int
	Height int
}

// Stats are summary statistics over the valid samples of a Grid.
type Stats struct {
	Valid  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// NewGrid returns a new Grid filled with NaN.
func NewGrid(width, height int, transform GeoTransform, crs CRS) *Grid {
	g := &Grid{
		Width:     width,
		Height:    height,
		Transform: transform,
		CRS:       crs,
		Data:      make([]float32, width*height),
	}
	g.Fill(float32(math.NaN()))
	return g
}

// Like returns a new Grid with the same geometry as g.
func Like(g *Grid) *Grid {
	return NewGrid(g.Width, g.Height, g.Transform, g.CRS)
}

// Fill sets every sample of g to v.
func (g *Grid) Fill(v float32) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// At returns the sample at x, y.
func (g *Grid) At(x, y int) float32 {
	return g.Data[y*g.Width+x]
}

// Set sets the sample at x, y.
func (g *Grid) Set(x, y int, v float32) {
	g.Data[y*g.Width+x] = v
}

// In returns whether x, y is inside g.
func (g *Grid) In(x, y int) bool {
	return 0 <= x && x < g.Width && 0 <= y && y < g.Height
}

// Valid returns whether x, y is inside g and not missing.
func (g *Grid) Valid(x, y int) bool {
	return g.In(x, y) && !math.IsNaN(float64(g.At(x, y)))
}

// SameGeometry returns whether g and other cover the same cells.
func (g *Grid) SameGeometry(other *Grid) bool {
	return g.Width == other.Width && g.Height == other.Height && g.Transform == other.Transform
}

// GeoTransform returns g's geo transform.
func (g *Grid) GeoTransform() GeoTransform {
	return g.Transform
}

// Nearest returns the cell whose centre is nearest to c.
func (g *Grid) Nearest(c Coord) (Pixel, bool) {
	fx, fy := g.Transform.PixelOf(c)
	p := Pixel{X: int(math.Floor(fx)), Y: int(math.Floor(fy))}
	if !g.In(p.X, p.Y) {
		return Pixel{}, false
	}
	return p, true
}

// Samples returns the samples of the cells containing coords.
func (g *Grid) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	for i, c := range coords {
		p, ok := g.Nearest(c)
		if !ok {
			samples[i] = math.NaN()
			continue
		}
		samples[i] = float64(g.At(p.X, p.Y))
	}
	return samples, nil
}

// Bounds returns the extent of g.
func (g *Grid) Bounds() Bounds {
	c0 := g.Transform.Apply(0, 0)
	c1 := g.Transform.Apply(float64(g.Width), float64(g.Height))
	return Bounds{
		MinX: math.Min(c0.X, c1.X),
		MinY: math.Min(c0.Y, c1.Y),
		MaxX: math.Max(c0.X, c1.X),
		MaxY: math.Max(c0.Y, c1.Y),
	}
}

// Window returns the window of g covering b, clipped to g.
func (g *Grid) Window(b Bounds) (Window, bool) {
	return boundsWindow(g.Transform, g.Width, g.Height, b)
}

func boundsWindow(t GeoTransform, width, height int, b Bounds) (Window, bool) {
	x0, y0 := t.PixelOf(Coord{X: b.MinX, Y: b.MaxY})
	x1, y1 := t.PixelOf(Coord{X: b.MaxX, Y: b.MinY})
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	ix0 := max(int(math.Floor(x0)), 0)
	iy0 := max(int(math.Floor(y0)), 0)
	ix1 := min(int(math.Ceil(x1)), width)
	iy1 := min(int(math.Ceil(y1)), height)
	if ix0 >= ix1 || iy0 >= iy1 {
		return Window{}, false
	}
	return Window{X0: ix0, Y0: iy0, Width: ix1 - ix0, Height: iy1 - iy0}, true
}

// Subset returns a copy of the cells of g inside w.
func (g *Grid) Subset(w Window) *Grid {
	s := &Grid{
		Width:     w.Width,
		Height:    w.Height,
		Transform: g.Transform,
		CRS:       g.CRS,
		Data:      make([]float32, w.Width*w.Height),
	}
	origin := g.Transform.Apply(float64(w.X0), float64(w.Y0))
	s.Transform[0], s.Transform[3] = origin.X, origin.Y
	for y := range w.Height {
		copy(s.Data[y*w.Width:(y+1)*w.Width], g.Data[(w.Y0+y)*g.Width+w.X0:])
	}
	return s
}

// CellSizeMeters returns the width and height in metres of the cells in row
// y. Cells of geographic grids shrink in width towards the poles.
func (g *Grid) CellSizeMeters(y int) (float64, float64) {
	dx, dy := g.Transform.Resolution()
	if !g.CRS.Geographic {
		return dx, dy
	}
	lat := g.Transform.PixelCenter(Pixel{Y: y}).Y
	return dx * metersPerDegreeLon * math.Cos(lat*math.Pi/180), dy * metersPerDegreeLat
}

// Stats returns summary statistics of g's valid samples.
func (g *Grid) Stats() Stats {
	values := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !math.IsNaN(float64(v)) {
			values = append(values, float64(v))
		}
	}
	if len(values) == 0 {
		return Stats{Min: math.NaN(), Max: math.NaN(), Mean: math.NaN(), StdDev: math.NaN()}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return Stats{
		Valid:  len(values),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
	}
}
