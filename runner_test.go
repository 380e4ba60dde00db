package windshed_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/windshed/windshed"
)

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) Viewshed(context.Context, *windshed.DEM, windshed.Observer, windshed.ViewshedOptions) (*windshed.Grid, error) {
	return nil, errors.New("boom")
}

func newTestRunner(t *testing.T, backend windshed.Backend) (*windshed.Runner, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	runner := windshed.NewRunner(backend)
	runner.Options.CurvatureCoeff = 0
	runner.ObserverHeight = 2
	runner.Concurrency = 4
	runner.Logger = logger
	return runner, hook
}

func TestRunner(t *testing.T) {
	grid, _ := newWallDEM()
	grid.Set(9, 9, float32(math.NaN()))
	outDir := t.TempDir()

	runner, hook := newTestRunner(t, windshed.NativeBackend{})
	runner.OutDir = outDir
	runner.WriteViewsheds = true
	runner.WritePNG = true

	turbines := []windshed.Turbine{
		{ID: "west", X: 2.5, Y: 5.5, TotalHeight: 0},
		{ID: "east", X: 9.5, Y: 5.5, TotalHeight: 0},
		{ID: "on/nodata", X: 9.5, Y: 1.5, TotalHeight: math.NaN()},
		{ID: "outside", X: 50, Y: 50},
	}
	result, err := runner.Run(t.Context(), windshed.NewDEMFromGrid(grid), turbines)
	assert.NoError(t, err)

	assert.Equal(t, 2, result.Composite.Len())
	slices.Sort(result.Skipped)
	assert.Equal(t, []string{"on/nodata", "outside"}, result.Skipped)

	count := result.Composite.Count()
	assert.Equal(t, float32(2), count.At(7, 5))
	assert.Equal(t, float32(1), count.At(0, 5))
	assert.Equal(t, float32(1), count.At(10, 5))

	assert.Equal(t, 2, len(result.Viewsheds))
	assert.Equal(t, filepath.Join(outDir, "viewshed_west.tif"), result.Viewsheds["west"])
	for _, name := range []string{"viewshed_west.tif", "viewshed_east.tif", windshed.CompositeTIFFName, windshed.CompositePNGName} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err)
	}

	f, err := windshed.OpenGeoTIFFFile(filepath.Join(outDir, windshed.CompositeTIFFName))
	assert.NoError(t, err)
	defer f.Close()
	actual, err := f.ReadAll(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, count.Data, actual.Data)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestRunner_Observer(t *testing.T) {
	runner := windshed.NewRunner(windshed.NativeBackend{})
	runner.HeightScale = windshed.MetersToFeet
	observer := runner.Observer(windshed.Turbine{X: 1, Y: 2, TotalHeight: math.NaN()})
	assert.Equal(t, windshed.Observer{
		X:            1,
		Y:            2,
		Height:       windshed.DefaultObserverHeight * windshed.MetersToFeet,
		TargetHeight: windshed.DefaultTurbineHeight * windshed.MetersToFeet,
	}, observer)
}

func TestRunner_Error(t *testing.T) {
	grid, observer := newWallDEM()
	runner, _ := newTestRunner(t, failingBackend{})
	_, err := runner.Run(t.Context(), windshed.NewDEMFromGrid(grid), []windshed.Turbine{{ID: "1", X: observer.X, Y: observer.Y}})
	assert.EqualError(t, err, "turbine 1: boom")
}

func TestViewshedFilename(t *testing.T) {
	assert.Equal(t, "viewshed_3072661.tif", windshed.ViewshedFilename("3072661"))
	assert.Equal(t, "viewshed_a_b.tif", windshed.ViewshedFilename("a/b"))
}
