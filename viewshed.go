package windshed

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// EarthRadius is the WGS84 semi-major axis in metres.
const EarthRadius = 6378137

// DefaultCurvatureCoeff accounts for earth curvature with standard
// atmospheric refraction.
const DefaultCurvatureCoeff = 1 - 1.0/7

// angleObserver is the angle output at the observer cell.
const angleObserver = 180

// A CellMode selects how the height of the line of sight over a cell is
// estimated from the cells between it and the observer.
type CellMode int

const (
	CellModeNormal CellMode = iota
	CellModeEdge
	CellModeDiagonal
	CellModeMax
	CellModeMin
)

// An OutputMode selects the values in a viewshed.
type OutputMode int

const (
	// OutputNormal marks cells with the visible and invisible values.
	OutputNormal OutputMode = iota
	// OutputDEM is the lowest target elevation above the datum that is
	// visible.
	OutputDEM
	// OutputGround is the lowest target height above ground that is
	// visible.
	OutputGround
	// OutputAngle is the vertical angle in degrees from the observer to the
	// target for visible cells, and -1 for invisible cells.
	OutputAngle
)

var (
	cellModeNames   = []string{"normal", "edge", "diagonal", "max", "min"}
	outputModeNames = []string{"normal", "dem", "ground", "angle"}
)

func (m CellMode) String() string {
	if 0 <= int(m) && int(m) < len(cellModeNames) {
		return cellModeNames[m]
	}
	return fmt.Sprintf("CellMode(%d)", int(m))
}

func (m OutputMode) String() string {
	if 0 <= int(m) && int(m) < len(outputModeNames) {
		return outputModeNames[m]
	}
	return fmt.Sprintf("OutputMode(%d)", int(m))
}

// ParseCellMode parses a cell mode name.
func ParseCellMode(s string) (CellMode, error) {
	for i, name := range cellModeNames {
		if strings.EqualFold(s, name) {
			return CellMode(i), nil
		}
	}
	return 0, fmt.Errorf("%s: unknown cell mode", s)
}

// ParseOutputMode parses an output mode name.
func ParseOutputMode(s string) (OutputMode, error) {
	for i, name := range outputModeNames {
		if strings.EqualFold(s, name) {
			return OutputMode(i), nil
		}
	}
	return 0, fmt.Errorf("%s: unknown output mode", s)
}

// An Observer is a viewpoint. Heights are above ground.
type Observer struct {
	X            float64
	Y            float64
	Height       float64
	TargetHeight float64
}

// ViewshedOptions control a viewshed computation.
type ViewshedOptions struct {
	Mode           CellMode
	Output         OutputMode
	MaxDistance    float64 // Metres, zero for unlimited.
	CurvatureCoeff float64
	Visible        float64
	Invisible      float64
	OutOfRange     float64
	NoData         float64
}

// DefaultViewshedOptions returns the default options.
func DefaultViewshedOptions() ViewshedOptions {
	return ViewshedOptions{
		Mode:           CellModeNormal,
		Output:         OutputNormal,
		CurvatureCoeff: DefaultCurvatureCoeff,
		Visible:        255,
		Invisible:      0,
		OutOfRange:     0,
		NoData:         -1,
	}
}

// DataType returns the sample type needed to store a viewshed.
func (o ViewshedOptions) DataType() DataType {
	if o.Output != OutputNormal {
		return Float32
	}
	for _, v := range []float64{o.Visible, o.Invisible, o.OutOfRange, o.NoData} {
		if v < 0 || v > 255 || v != math.Trunc(v) {
			return Float32
		}
	}
	return Byte
}

// A viewshed holds the state of one computation.
type viewshed struct {
	dem        *Grid
	opts       ViewshedOptions
	out        *Grid
	ox, oy     int
	z0         float64
	target     float64
	cellWidth  float64
	cellHeight float64
}

// Viewshed returns the cells of dem visible from obs. Missing DEM cells are
// missing in the result and do not block the line of sight.
func Viewshed(ctx context.Context, dem *Grid, obs Observer, opts ViewshedOptions) (*Grid, error) {
	p, ok := dem.Nearest(Coord{X: obs.X, Y: obs.Y})
	if !ok {
		return nil, fmt.Errorf("observer %f,%f: %w", obs.X, obs.Y, ErrOutsideRaster)
	}
	if !dem.Valid(p.X, p.Y) {
		return nil, fmt.Errorf("observer %f,%f: %w", obs.X, obs.Y, ErrNoData)
	}
	cellWidth, cellHeight := dem.CellSizeMeters(p.Y)
	v := &viewshed{
		dem:        dem,
		opts:       opts,
		out:        Like(dem),
		ox:         p.X,
		oy:         p.Y,
		target:     obs.TargetHeight,
		cellWidth:  cellWidth,
		cellHeight: cellHeight,
	}
	v.z0 = float64(dem.At(p.X, p.Y)) + obs.Height

	observerRow := make([]float64, dem.Width)
	v.row(v.oy, nil, observerRow)

	for _, step := range []int{-1, 1} {
		prev := append([]float64(nil), observerRow...)
		cur := make([]float64, dem.Width)
		for y := v.oy + step; 0 <= y && y < dem.Height; y += step {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v.row(y, prev, cur)
			prev, cur = cur, prev
		}
	}

	return v.out, nil
}

// row computes row y. prev holds the line of sight heights of the adjacent
// row nearer the observer and is nil for the observer row. cur receives the
// line of sight heights of row y.
func (v *viewshed) row(y int, prev, cur []float64) {
	j := abs(y - v.oy)
	if prev == nil {
		v.out.Set(v.ox, y, v.observerValue())
		cur[v.ox] = v.terrain(v.ox, y)
	} else {
		cur[v.ox] = v.cell(v.ox, y, 0, j, func() float64 {
			return v.project(prev[v.ox], j)
		})
	}
	for _, step := range []int{-1, 1} {
		for x := v.ox + step; 0 <= x && x < v.dem.Width; x += step {
			i := abs(x - v.ox)
			cur[x] = v.cell(x, y, i, j, func() float64 {
				switch {
				case j == 0:
					return v.project(cur[x-step], i)
				case i == j:
					return v.project(prev[x-step], i)
				case i < j:
					return v.combine(v.project(prev[x], j), v.project(prev[x-step], j), float64(i)/float64(j))
				default:
					return v.combine(v.project(cur[x-step], i), v.project(prev[x-step], i), float64(j)/float64(i))
				}
			})
		}
	}
}

// cell computes the output for cell x, y at offset i, j from the observer and
// returns its line of sight height. lineOfSight returns the height of the
// line of sight over the cell.
func (v *viewshed) cell(x, y, i, j int, lineOfSight func() float64) float64 {
	dx, dy := float64(i)*v.cellWidth, float64(j)*v.cellHeight
	distance := math.Hypot(dx, dy)
	z := v.terrain(x, y)

	if v.opts.MaxDistance > 0 && distance > v.opts.MaxDistance {
		v.out.Set(x, y, float32(v.opts.OutOfRange))
		if math.IsNaN(z) {
			z = math.Inf(-1)
		}
		return z
	}

	// Adjacent cells are always visible.
	sight := math.Inf(-1)
	if max(i, j) > 1 {
		sight = lineOfSight()
	}

	if math.IsNaN(z) {
		v.out.Set(x, y, float32(math.NaN()))
		return sight
	}

	visible := z+v.target >= sight
	var value float64
	switch v.opts.Output {
	case OutputDEM:
		value = float64(v.dem.At(x, y)) + max(sight-z, 0)
	case OutputGround:
		value = max(sight-z, 0)
	case OutputAngle:
		value = -1
		if visible {
			value = math.Atan2(z+v.target-v.z0, distance) * 180 / math.Pi
		}
	default:
		value = v.opts.Invisible
		if visible {
			value = v.opts.Visible
		}
	}
	v.out.Set(x, y, float32(value))
	return max(z, sight)
}

// observerValue returns the output at the observer cell.
func (v *viewshed) observerValue() float32 {
	switch v.opts.Output {
	case OutputDEM:
		return v.dem.At(v.ox, v.oy)
	case OutputGround:
		return 0
	case OutputAngle:
		return angleObserver
	default:
		return float32(v.opts.Visible)
	}
}

// terrain returns the height of cell x, y lowered by earth curvature.
func (v *viewshed) terrain(x, y int) float64 {
	dx := float64(x-v.ox) * v.cellWidth
	dy := float64(y-v.oy) * v.cellHeight
	return float64(v.dem.At(x, y)) - v.opts.CurvatureCoeff*(dx*dx+dy*dy)/(2*EarthRadius)
}

// project extends the line of sight from the observer through a cell of
// height h at distance k-1 cells to distance k.
func (v *viewshed) project(h float64, k int) float64 {
	return v.z0 + (h-v.z0)*float64(k)/float64(k-1)
}

// combine returns the line of sight height estimated from the projections
// over the edge and diagonal neighbours. w is the weight of the diagonal
// neighbour.
func (v *viewshed) combine(edge, diagonal, w float64) float64 {
	switch v.opts.Mode {
	case CellModeEdge:
		return edge
	case CellModeDiagonal:
		return diagonal
	case CellModeMax:
		return max(edge, diagonal)
	case CellModeMin:
		return min(edge, diagonal)
	default:
		return w*diagonal + (1-w)*edge
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (m CellMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *CellMode) UnmarshalText(text []byte) error {
	mode, err := ParseCellMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m OutputMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *OutputMode) UnmarshalText(text []byte) error {
	mode, err := ParseOutputMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
