package windshed_test

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"

	"github.com/windshed/windshed"
)

func TestNewBackend(t *testing.T) {
	for _, tc := range []struct {
		name         string
		expectedName string
		expectedErr  bool
	}{
		{name: "", expectedName: "native"},
		{name: "native", expectedName: "native"},
		{name: "gdal", expectedName: "gdal"},
		{name: "gpu", expectedErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backend, err := windshed.NewBackend(tc.name)
			if tc.expectedErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedName, backend.Name())
		})
	}
}

func TestNativeBackend(t *testing.T) {
	grid, observer := newWallDEM()
	path := filepath.Join(t.TempDir(), "dem.tif")
	assert.NoError(t, windshed.WriteGeoTIFFFile(path, grid, windshed.Float32))

	expected, err := windshed.Viewshed(t.Context(), grid, observer, flatOptions())
	assert.NoError(t, err)

	for name, dem := range map[string]*windshed.DEM{
		"file":   windshed.NewDEM(path),
		"memory": windshed.NewDEMFromGrid(grid),
	} {
		t.Run(name, func(t *testing.T) {
			actual, err := windshed.NativeBackend{}.Viewshed(t.Context(), dem, observer, flatOptions())
			assert.NoError(t, err)
			assert.Equal(t, expected, actual)
		})
	}

	_, err = windshed.NativeBackend{}.Viewshed(t.Context(), windshed.NewDEM(filepath.Join(t.TempDir(), "missing.tif")), observer, flatOptions())
	assert.Error(t, err)
}

func TestDEM_Bounds(t *testing.T) {
	grid, _ := newWallDEM()
	path := filepath.Join(t.TempDir(), "dem.tif")
	assert.NoError(t, windshed.WriteGeoTIFFFile(path, grid, windshed.Float32))

	dem := windshed.NewDEM(path)
	dem.Bounds = windshed.Bounds{MinX: 1, MinY: 2, MaxX: 8, MaxY: 9}
	actual, err := dem.Grid(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, 7, actual.Width)
	assert.Equal(t, 7, actual.Height)
	assert.Equal(t, windshed.GeoTransform{1, 1, 0, 9, 0, -1}, actual.Transform)
	assert.Equal(t, float32(50), actual.At(6, 0))
	assert.Equal(t, float32(0), actual.At(5, 6))

	crs, err := windshed.NewDEM(path).CRS()
	assert.NoError(t, err)
	assert.Equal(t, windshed.CRS{EPSG: 32613}, crs)
}

func TestNewSRTMDEM(t *testing.T) {
	const pixel = 1.0 / 1200
	tile := windshed.NewGrid(20, 20, windshed.GeoTransform{-105 - pixel/2, pixel, 0, 40 + pixel/2, 0, -pixel}, windshed.WGS84)
	for y := range tile.Height {
		for x := range tile.Width {
			tile.Set(x, y, float32(2000+x+100*y))
		}
	}
	var buf bytes.Buffer
	assert.NoError(t, windshed.WriteGeoTIFF(&buf, tile, windshed.Float32, windshed.WithTileSize(16)))
	fsys := fstest.MapFS{"srtm_16_05.tif": &fstest.MapFile{Data: buf.Bytes()}}

	dem, err := windshed.NewSRTMDEM(t.Context(), fsys, windshed.Bounds{MinX: -105 + 2*pixel, MinY: 40 - 8*pixel, MaxX: -105 + 6*pixel, MaxY: 40 - 3*pixel})
	assert.NoError(t, err)
	crs, err := dem.CRS()
	assert.NoError(t, err)
	assert.Equal(t, windshed.WGS84, crs)
	grid, err := dem.Grid(t.Context())
	assert.NoError(t, err)
	p, ok := grid.Nearest(windshed.Coord{X: -105 + 4*pixel, Y: 40 - 5*pixel})
	assert.True(t, ok)
	assert.Equal(t, float32(2000+4+500), grid.At(p.X, p.Y))

	_, err = windshed.NewSRTMDEM(t.Context(), fsys, windshed.Bounds{MinX: 10, MinY: 10, MaxX: 10.1, MaxY: 10.1})
	assert.True(t, errors.Is(err, windshed.ErrNoData))
}

func TestGDALBackend_Args(t *testing.T) {
	backend := windshed.NewGDALBackend()
	opts := windshed.DefaultViewshedOptions()
	opts.MaxDistance = 20000
	opts.CurvatureCoeff = 0.85
	args, err := backend.Args("dem.tif", "out.tif", windshed.CRS{EPSG: 32613}, windshed.Observer{X: 500015, Y: 4199985, Height: 6, TargetHeight: 130}, opts)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"-b", "1",
		"-a_nodata", "-1",
		"-f", "GTiff",
		"-oz", "6",
		"-tz", "130",
		"-ox", "500015",
		"-oy", "4199985",
		"-vv", "255",
		"-iv", "0",
		"-ov", "0",
		"-cc", "0.85",
		"-md", "20000",
		"-om", "NORMAL",
		"dem.tif",
		"out.tif",
	}, args)

	opts.Output = windshed.OutputAngle
	_, err = backend.Args("dem.tif", "out.tif", windshed.CRS{EPSG: 32613}, windshed.Observer{}, opts)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))

	opts = windshed.DefaultViewshedOptions()
	opts.Mode = windshed.CellModeMax
	_, err = backend.Args("dem.tif", "out.tif", windshed.CRS{EPSG: 32613}, windshed.Observer{}, opts)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestGDALBackend_ArgsGeographic(t *testing.T) {
	backend := windshed.NewGDALBackend()
	opts := windshed.DefaultViewshedOptions()
	opts.MaxDistance = 2000
	args, err := backend.Args("srtm_16_05.tif", "out.tif", windshed.WGS84, windshed.Observer{X: -104.5, Y: 37.5, Height: 6, TargetHeight: 130}, opts)
	assert.NoError(t, err)
	i := slices.Index(args, "-md")
	assert.NotEqual(t, -1, i)
	maxDistance, err := strconv.ParseFloat(args[i+1], 64)
	assert.NoError(t, err)
	// About 2km of latitude.
	assert.True(t, math.Abs(maxDistance-0.0181) < 1e-4, "%f", maxDistance)

	opts.MaxDistance = 0
	args, err = backend.Args("srtm_16_05.tif", "out.tif", windshed.WGS84, windshed.Observer{}, opts)
	assert.NoError(t, err)
	assert.Equal(t, "0", args[slices.Index(args, "-md")+1])
}

func TestGDALBackend_Viewshed(t *testing.T) {
	backend := windshed.NewGDALBackend()
	if !backend.Available() {
		t.Skip("gdal_viewshed not found")
	}
	grid, observer := newWallDEM()
	actual, err := backend.Viewshed(t.Context(), windshed.NewDEMFromGrid(grid), observer, flatOptions())
	assert.NoError(t, err)
	assert.True(t, actual.SameGeometry(grid))
	assert.Equal(t, float32(255), actual.At(2, 5))
	assert.Equal(t, float32(255), actual.At(5, 5))
	assert.Equal(t, float32(0), actual.At(10, 5))
}
