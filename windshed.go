// Package windshed computes line-of-sight viewsheds for wind turbines over
// digital elevation models.
package windshed

import (
	"context"
	"errors"
	"math"
	"strconv"
)

var (
	ErrOutsideRaster    = errors.New("coordinate outside raster")
	ErrNoData           = errors.New("no data at coordinate")
	ErrGeometryMismatch = errors.New("raster geometry mismatch")
)

// A Coord is a map coordinate in a raster's CRS.
type Coord struct {
	X float64
	Y float64
}

// A Pixel is a raster cell position.
type Pixel struct {
	X int // Column.
	Y int // Row.
}

// A BlockCoord is a block coordinate. Blocks are either tiles or strips.
type BlockCoord struct {
	C int // Column.
	R int // Row.
}

// A Bounds is an axis-aligned rectangle in map coordinates.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Contains returns whether c is inside b. Like pixels of north-up rasters,
// b includes its west and north edges but not its east and south edges.
func (b Bounds) Contains(c Coord) bool {
	return b.MinX <= c.X && c.X < b.MaxX && b.MinY < c.Y && c.Y <= b.MaxY
}

// Empty returns whether b has no area.
func (b Bounds) Empty() bool {
	return !(b.MinX < b.MaxX && b.MinY < b.MaxY)
}

// A CRS identifies a coordinate reference system by EPSG code.
type CRS struct {
	EPSG       int
	Geographic bool
}

// WGS84 is the CRS of longitude/latitude coordinates.
var WGS84 = CRS{EPSG: 4326, Geographic: true}

func (c CRS) String() string {
	if c.EPSG == 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(c.EPSG)
}

// A GeoTransform maps pixel positions to map coordinates. The six
// coefficients follow GDAL's order: origin x, pixel width, row rotation,
// origin y, column rotation, pixel height. Pixel height is negative for
// north-up rasters.
type GeoTransform [6]float64

// PixelCenter returns the map coordinate of the centre of p.
func (t GeoTransform) PixelCenter(p Pixel) Coord {
	return t.Apply(float64(p.X)+0.5, float64(p.Y)+0.5)
}

// Apply returns the map coordinate of fractional pixel position x, y.
func (t GeoTransform) Apply(x, y float64) Coord {
	return Coord{
		X: t[0] + x*t[1] + y*t[2],
		Y: t[3] + x*t[4] + y*t[5],
	}
}

// PixelOf returns the fractional pixel position of c. It ignores rotation
// terms.
func (t GeoTransform) PixelOf(c Coord) (float64, float64) {
	return (c.X - t[0]) / t[1], (c.Y - t[3]) / t[5]
}

// Resolution returns the absolute pixel width and height.
func (t GeoTransform) Resolution() (float64, float64) {
	return math.Abs(t[1]), math.Abs(t[5])
}

// A Raster is a source of samples.
type Raster interface {
	Samples(ctx context.Context, coords []Coord) ([]float64, error)
	GeoTransform() GeoTransform
}
