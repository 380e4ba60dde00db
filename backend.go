package windshed

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// A DEM is a digital elevation model that is on disk, in memory, or both.
type DEM struct {
	Path string
	// Bounds limits the part of Path that is read. The whole file is read
	// when it is empty.
	Bounds Bounds

	options []GeoTIFFOption
	mutex   sync.Mutex
	grid    *Grid
}

// NewDEM returns a DEM backed by the GeoTIFF at path.
func NewDEM(path string, options ...GeoTIFFOption) *DEM {
	return &DEM{
		Path:    path,
		options: options,
	}
}

// NewDEMFromGrid returns a DEM held in memory.
func NewDEMFromGrid(grid *Grid) *DEM {
	return &DEM{grid: grid}
}

// NewSRTMDEM returns a DEM mosaicked from the CGIAR-CSI SRTM tiles in fsys
// that cover the longitude/latitude bounds.
func NewSRTMDEM(ctx context.Context, fsys fs.FS, bounds Bounds, options ...GeoTIFFOption) (*DEM, error) {
	tiles, err := NewSRTM(fsys, WithGeoTIFFOptions(options...))
	if err != nil {
		return nil, err
	}
	defer tiles.Close()
	grid, err := tiles.Grid(ctx, bounds)
	if err != nil {
		return nil, err
	}
	if grid.Stats().Valid == 0 {
		return nil, fmt.Errorf("%f,%f %f,%f: no SRTM tiles: %w", bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY, ErrNoData)
	}
	return NewDEMFromGrid(grid), nil
}

// CRS returns the CRS of d without reading its elevations.
func (d *DEM) CRS() (CRS, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.grid != nil {
		return d.grid.CRS, nil
	}
	f, err := OpenGeoTIFFFile(d.Path, d.options...)
	if err != nil {
		return CRS{}, err
	}
	defer f.Close()
	return f.CRS(), nil
}

// Grid returns the elevations of d, reading them on first use.
func (d *DEM) Grid(ctx context.Context) (*Grid, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.grid != nil {
		return d.grid, nil
	}
	f, err := OpenGeoTIFFFile(d.Path, d.options...)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var grid *Grid
	if d.Bounds.Empty() {
		grid, err = f.ReadAll(ctx)
	} else {
		grid, err = f.ReadBounds(ctx, d.Bounds)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path, err)
	}
	d.grid = grid
	return grid, nil
}

// A Backend computes viewsheds.
type Backend interface {
	Name() string
	Viewshed(ctx context.Context, dem *DEM, obs Observer, opts ViewshedOptions) (*Grid, error)
}

// NativeBackend computes viewsheds in process.
type NativeBackend struct{}

func (NativeBackend) Name() string { return "native" }

func (NativeBackend) Viewshed(ctx context.Context, dem *DEM, obs Observer, opts ViewshedOptions) (*Grid, error) {
	grid, err := dem.Grid(ctx)
	if err != nil {
		return nil, err
	}
	return Viewshed(ctx, grid, obs, opts)
}

// NewBackend returns the backend called name.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", "native":
		return NativeBackend{}, nil
	case "gdal":
		return NewGDALBackend(), nil
	default:
		return nil, fmt.Errorf("%s: unknown backend", name)
	}
}
