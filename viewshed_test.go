package windshed_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/windshed/windshed"
)

// newWallDEM returns flat 11x11 terrain of 1m cells with a 50m wall in column
// 7, and an observer 2m above the ground at cell 2, 5.
func newWallDEM() (*windshed.Grid, windshed.Observer) {
	dem := windshed.NewGrid(11, 11, windshed.GeoTransform{0, 1, 0, 11, 0, -1}, windshed.CRS{EPSG: 32613})
	dem.Fill(0)
	for y := range dem.Height {
		dem.Set(7, y, 50)
	}
	return dem, windshed.Observer{X: 2.5, Y: 5.5, Height: 2}
}

func flatOptions() windshed.ViewshedOptions {
	opts := windshed.DefaultViewshedOptions()
	opts.CurvatureCoeff = 0
	return opts
}

func assertNear(t *testing.T, expected float64, actual float32) {
	t.Helper()
	assert.True(t, math.Abs(expected-float64(actual)) < 1e-4, "expected %f, got %f", expected, actual)
}

func TestViewshed_Wall(t *testing.T) {
	for _, mode := range cellModes {
		t.Run(mode.String(), func(t *testing.T) {
			dem, observer := newWallDEM()
			opts := flatOptions()
			opts.Mode = mode
			actual, err := windshed.Viewshed(t.Context(), dem, observer, opts)
			assert.NoError(t, err)
			assert.True(t, actual.SameGeometry(dem))
			for y := range actual.Height {
				for x := range actual.Width {
					expected := float32(255)
					if x > 7 {
						expected = 0
					}
					assert.Equal(t, expected, actual.At(x, y), "cell %d, %d", x, y)
				}
			}
		})
	}
}

var cellModes = []windshed.CellMode{
	windshed.CellModeNormal,
	windshed.CellModeEdge,
	windshed.CellModeDiagonal,
	windshed.CellModeMax,
	windshed.CellModeMin,
}

func TestViewshed_CellModes(t *testing.T) {
	// Cell 3, 1 lies between its edge neighbour 2, 1 and its diagonal
	// neighbour 2, 0, whose sight lines give heights of 1.5 times theirs.
	for _, tc := range []struct {
		name     string
		diagonal float32
		edge     float32
		expected map[windshed.CellMode]float64
	}{
		{
			name:     "diagonal_higher",
			diagonal: 10,
			edge:     4,
			expected: map[windshed.CellMode]float64{
				windshed.CellModeNormal:   9,
				windshed.CellModeEdge:     6,
				windshed.CellModeDiagonal: 15,
				windshed.CellModeMax:      15,
				windshed.CellModeMin:      6,
			},
		},
		{
			name:     "edge_higher",
			diagonal: 4,
			edge:     10,
			expected: map[windshed.CellMode]float64{
				windshed.CellModeNormal:   12,
				windshed.CellModeEdge:     15,
				windshed.CellModeDiagonal: 6,
				windshed.CellModeMax:      15,
				windshed.CellModeMin:      6,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dem := windshed.NewGrid(4, 2, windshed.GeoTransform{0, 1, 0, 2, 0, -1}, windshed.CRS{EPSG: 32613})
			dem.Fill(0)
			dem.Set(2, 0, tc.diagonal)
			dem.Set(2, 1, tc.edge)
			observer := windshed.Observer{X: 0.5, Y: 1.5}
			for _, mode := range cellModes {
				opts := flatOptions()
				opts.Mode = mode
				opts.Output = windshed.OutputGround
				actual, err := windshed.Viewshed(t.Context(), dem, observer, opts)
				assert.NoError(t, err)
				assertNear(t, tc.expected[mode], actual.At(3, 1))
			}
		})
	}
}

func TestViewshed_TransposeSymmetry(t *testing.T) {
	const size = 15
	r := rand.New(rand.NewPCG(1, 2))
	transform := windshed.GeoTransform{0, 1, 0, size, 0, -1}
	dem := windshed.NewGrid(size, size, transform, windshed.CRS{EPSG: 32613})
	transposed := windshed.NewGrid(size, size, transform, windshed.CRS{EPSG: 32613})
	for y := range size {
		for x := range size {
			z := float32(r.IntN(40))
			dem.Set(x, y, z)
			transposed.Set(y, x, z)
		}
	}
	observer := func(x, y int) windshed.Observer {
		c := transform.PixelCenter(windshed.Pixel{X: x, Y: y})
		return windshed.Observer{X: c.X, Y: c.Y, Height: 2, TargetHeight: 1}
	}

	ground := make(map[windshed.CellMode]*windshed.Grid)
	for _, mode := range cellModes {
		for _, output := range []windshed.OutputMode{windshed.OutputNormal, windshed.OutputGround} {
			t.Run(mode.String()+"_"+output.String(), func(t *testing.T) {
				opts := windshed.DefaultViewshedOptions()
				opts.Mode = mode
				opts.Output = output
				actual, err := windshed.Viewshed(t.Context(), dem, observer(5, 9), opts)
				assert.NoError(t, err)
				actualTransposed, err := windshed.Viewshed(t.Context(), transposed, observer(9, 5), opts)
				assert.NoError(t, err)
				for y := range size {
					for x := range size {
						assert.Equal(t, actual.At(x, y), actualTransposed.At(y, x), "cell %d, %d", x, y)
					}
				}
				if output == windshed.OutputGround {
					ground[mode] = actual
				}
			})
		}
	}
	assert.NotEqual(t, ground[windshed.CellModeEdge].Data, ground[windshed.CellModeDiagonal].Data)
	assert.NotEqual(t, ground[windshed.CellModeMax].Data, ground[windshed.CellModeMin].Data)
}

func TestViewshed_OutputModes(t *testing.T) {
	dem, observer := newWallDEM()

	opts := flatOptions()
	opts.Output = windshed.OutputGround
	ground, err := windshed.Viewshed(t.Context(), dem, observer, opts)
	assert.NoError(t, err)
	assert.Equal(t, float32(0), ground.At(2, 5))
	assert.Equal(t, float32(0), ground.At(6, 5))
	assertNear(t, 59.6, ground.At(8, 5))

	opts.Output = windshed.OutputDEM
	elevation, err := windshed.Viewshed(t.Context(), dem, observer, opts)
	assert.NoError(t, err)
	assert.Equal(t, float32(50), elevation.At(7, 5))
	assertNear(t, 59.6, elevation.At(8, 5))

	opts.Output = windshed.OutputAngle
	angle, err := windshed.Viewshed(t.Context(), dem, observer, opts)
	assert.NoError(t, err)
	assert.Equal(t, float32(180), angle.At(2, 5))
	assertNear(t, -45, angle.At(4, 5))
	assert.Equal(t, float32(-1), angle.At(8, 5))
}

func TestViewshed_MaxDistance(t *testing.T) {
	dem, observer := newWallDEM()
	opts := flatOptions()
	opts.MaxDistance = 3
	opts.OutOfRange = 7
	actual, err := windshed.Viewshed(t.Context(), dem, observer, opts)
	assert.NoError(t, err)
	assert.Equal(t, float32(255), actual.At(5, 5))
	assert.Equal(t, float32(7), actual.At(6, 5))
	assert.Equal(t, float32(7), actual.At(10, 0))
}

func TestViewshed_NoData(t *testing.T) {
	dem, observer := newWallDEM()
	dem.Set(4, 5, float32(math.NaN()))
	actual, err := windshed.Viewshed(t.Context(), dem, observer, flatOptions())
	assert.NoError(t, err)
	assert.True(t, math.IsNaN(float64(actual.At(4, 5))))
	assert.Equal(t, float32(255), actual.At(5, 5))
	assert.Equal(t, float32(0), actual.At(8, 5))
}

func TestViewshed_Curvature(t *testing.T) {
	dem := windshed.NewGrid(1001, 1, windshed.GeoTransform{0, 100, 0, 0, 0, -100}, windshed.CRS{EPSG: 32613})
	dem.Fill(0)
	observer := windshed.Observer{X: 50, Y: -50, Height: 2}

	curved, err := windshed.Viewshed(t.Context(), dem, observer, windshed.DefaultViewshedOptions())
	assert.NoError(t, err)
	assert.Equal(t, float32(255), curved.At(10, 0))
	assert.Equal(t, float32(0), curved.At(1000, 0))

	flat, err := windshed.Viewshed(t.Context(), dem, observer, flatOptions())
	assert.NoError(t, err)
	assert.Equal(t, float32(255), flat.At(1000, 0))
}

func TestViewshed_Errors(t *testing.T) {
	dem, observer := newWallDEM()

	_, err := windshed.Viewshed(t.Context(), dem, windshed.Observer{X: -5, Y: 5}, flatOptions())
	assert.True(t, errors.Is(err, windshed.ErrOutsideRaster))

	dem.Set(2, 5, float32(math.NaN()))
	_, err = windshed.Viewshed(t.Context(), dem, observer, flatOptions())
	assert.True(t, errors.Is(err, windshed.ErrNoData))

	dem.Set(2, 5, 0)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = windshed.Viewshed(ctx, dem, observer, flatOptions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseModes(t *testing.T) {
	cellMode, err := windshed.ParseCellMode("Diagonal")
	assert.NoError(t, err)
	assert.Equal(t, windshed.CellModeDiagonal, cellMode)
	_, err = windshed.ParseCellMode("bilinear")
	assert.Error(t, err)

	outputMode, err := windshed.ParseOutputMode("GROUND")
	assert.NoError(t, err)
	assert.Equal(t, windshed.OutputGround, outputMode)
	assert.Equal(t, "angle", windshed.OutputAngle.String())
}

func TestViewshedOptions_DataType(t *testing.T) {
	opts := windshed.DefaultViewshedOptions()
	assert.Equal(t, windshed.Float32, opts.DataType())
	opts.NoData = 254
	assert.Equal(t, windshed.Byte, opts.DataType())
	opts.Output = windshed.OutputAngle
	assert.Equal(t, windshed.Float32, opts.DataType())
}
