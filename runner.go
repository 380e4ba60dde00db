package windshed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultObserverHeight is the height in metres of a viewer above the ground.
const DefaultObserverHeight = 6

// Output filenames.
const (
	CompositeTIFFName = "composite.tif"
	CompositePNGName  = "composite.png"
)

// A Runner computes the viewsheds of many turbines.
type Runner struct {
	Backend        Backend
	Options        ViewshedOptions
	ObserverHeight float64
	TurbineHeight  float64 // Used when a turbine's height is unknown.
	HeightScale    float64 // Converts metres to DEM elevation units.
	OutDir         string  // Outputs are not written when empty.
	WriteViewsheds bool
	WritePNG       bool
	Concurrency    int
	Logger         logrus.FieldLogger
}

// A RunResult is the result of a run.
type RunResult struct {
	Composite *Composite
	Viewsheds map[string]string // Turbine ID to output path.
	Skipped   []string          // IDs of turbines outside the DEM or on missing cells.
}

// NewRunner returns a Runner with default settings using backend.
func NewRunner(backend Backend) *Runner {
	return &Runner{
		Backend:        backend,
		Options:        DefaultViewshedOptions(),
		ObserverHeight: DefaultObserverHeight,
		TurbineHeight:  DefaultTurbineHeight,
		HeightScale:    1,
		Concurrency:    1,
		Logger:         logrus.StandardLogger(),
	}
}

// Observer returns the observer for turbine: a viewer on the ground at the
// turbine looking for targets as tall as the turbine.
func (r *Runner) Observer(turbine Turbine) Observer {
	return Observer{
		X:            turbine.X,
		Y:            turbine.Y,
		Height:       r.ObserverHeight * r.HeightScale,
		TargetHeight: turbine.Height(r.TurbineHeight) * r.HeightScale,
	}
}

// ViewshedFilename returns the output filename for turbine id's viewshed.
func ViewshedFilename(id string) string {
	return "viewshed_" + strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, id) + ".tif"
}

// Run computes the viewsheds of turbines over dem. Turbines outside dem or on
// missing cells are skipped. The first error cancels the run.
func (r *Runner) Run(ctx context.Context, dem *DEM, turbines []Turbine) (*RunResult, error) {
	grid, err := dem.Grid(ctx)
	if err != nil {
		return nil, err
	}
	if r.OutDir != "" {
		if err := os.MkdirAll(r.OutDir, 0o777); err != nil {
			return nil, err
		}
	}

	result := &RunResult{
		Composite: NewComposite(r.Options.Visible),
		Viewsheds: make(map[string]string),
	}
	var mutex sync.Mutex
	skip := func(logger logrus.FieldLogger, id string, err error) {
		logger.WithError(err).Warn("skipping turbine")
		viewshedsTotal.WithLabelValues(r.Backend.Name(), "skipped").Inc()
		mutex.Lock()
		defer mutex.Unlock()
		result.Skipped = append(result.Skipped, id)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	bounds := grid.Bounds()
	for _, turbine := range turbines {
		logger := r.Logger.WithField("turbine", turbine.ID)
		if !bounds.Contains(turbine.Coord()) {
			skip(logger, turbine.ID, ErrOutsideRaster)
			continue
		}
		g.Go(func() error {
			start := time.Now()
			viewshed, err := r.Backend.Viewshed(ctx, dem, r.Observer(turbine), r.Options)
			duration := time.Since(start)
			switch {
			case errors.Is(err, ErrOutsideRaster) || errors.Is(err, ErrNoData):
				skip(logger, turbine.ID, err)
				return nil
			case err != nil:
				viewshedsTotal.WithLabelValues(r.Backend.Name(), "error").Inc()
				return fmt.Errorf("turbine %s: %w", turbine.ID, err)
			}
			viewshedsTotal.WithLabelValues(r.Backend.Name(), "ok").Inc()
			viewshedDuration.WithLabelValues(r.Backend.Name()).Observe(duration.Seconds())
			logger.WithFields(logrus.Fields{
				"backend":  r.Backend.Name(),
				"duration": duration,
			}).Debug("computed viewshed")

			if r.OutDir != "" && r.WriteViewsheds {
				path := filepath.Join(r.OutDir, ViewshedFilename(turbine.ID))
				if err := WriteGeoTIFFFile(path, viewshed, r.Options.DataType(), WithNoData(r.Options.NoData)); err != nil {
					return err
				}
				mutex.Lock()
				result.Viewsheds[turbine.ID] = path
				mutex.Unlock()
			}
			if r.Options.Output == OutputNormal {
				return result.Composite.Add(viewshed)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.Logger.WithFields(logrus.Fields{
		"viewsheds": result.Composite.Len(),
		"skipped":   len(result.Skipped),
	}).Info("computed viewsheds")

	if r.OutDir != "" {
		if err := r.writeComposite(grid, turbines, result.Composite); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *Runner) writeComposite(dem *Grid, turbines []Turbine, composite *Composite) error {
	count := composite.Count()
	if count == nil {
		return nil
	}
	if err := WriteGeoTIFFFile(filepath.Join(r.OutDir, CompositeTIFFName), count, Float32); err != nil {
		return err
	}
	if !r.WritePNG {
		return nil
	}

	markers := make([]Coord, 0, len(turbines))
	for _, turbine := range turbines {
		markers = append(markers, turbine.Coord())
	}
	file, err := os.Create(filepath.Join(r.OutDir, CompositePNGName))
	if err != nil {
		return err
	}
	defer file.Close()
	if err := Render(file, RenderOptions{
		Hillshade: Hillshade(dem, DefaultAzimuth, DefaultAltitude, DefaultZFactor),
		Overlay:   count,
		Markers:   markers,
	}); err != nil {
		return err
	}
	return file.Close()
}
