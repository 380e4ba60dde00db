package windshed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var gdalOutputModes = map[OutputMode]string{
	OutputNormal: "NORMAL",
	OutputDEM:    "DEM",
	OutputGround: "GROUND",
}

// A GDALBackend computes viewsheds with the gdal_viewshed program.
type GDALBackend struct {
	Binary  string
	TempDir string
}

// NewGDALBackend returns a GDALBackend that runs gdal_viewshed from the path.
func NewGDALBackend() *GDALBackend {
	return &GDALBackend{
		Binary: "gdal_viewshed",
	}
}

func (b *GDALBackend) Name() string { return "gdal" }

// Available returns whether the gdal_viewshed program can be found.
func (b *GDALBackend) Available() bool {
	_, err := exec.LookPath(b.Binary)
	return err == nil
}

// Args returns the gdal_viewshed arguments to compute the viewshed of src,
// whose CRS is crs, into dst. gdal_viewshed measures the maximum distance in
// georeferenced units, so on geographic DEMs it is converted to degrees of
// latitude.
func (b *GDALBackend) Args(src, dst string, crs CRS, obs Observer, opts ViewshedOptions) ([]string, error) {
	if opts.Mode != CellModeNormal {
		return nil, fmt.Errorf("gdal: cell mode %s: %w", opts.Mode, errors.ErrUnsupported)
	}
	outputMode, ok := gdalOutputModes[opts.Output]
	if !ok {
		return nil, fmt.Errorf("gdal: output mode %s: %w", opts.Output, errors.ErrUnsupported)
	}
	maxDistance := opts.MaxDistance
	if crs.Geographic {
		maxDistance /= metersPerDegreeLat
	}
	return []string{
		"-b", "1",
		"-a_nodata", formatFloat(opts.NoData),
		"-f", "GTiff",
		"-oz", formatFloat(obs.Height),
		"-tz", formatFloat(obs.TargetHeight),
		"-ox", formatFloat(obs.X),
		"-oy", formatFloat(obs.Y),
		"-vv", formatFloat(opts.Visible),
		"-iv", formatFloat(opts.Invisible),
		"-ov", formatFloat(opts.OutOfRange),
		"-cc", formatFloat(opts.CurvatureCoeff),
		"-md", formatFloat(maxDistance),
		"-om", outputMode,
		src,
		dst,
	}, nil
}

func (b *GDALBackend) Viewshed(ctx context.Context, dem *DEM, obs Observer, opts ViewshedOptions) (*Grid, error) {
	tempDir, err := os.MkdirTemp(b.TempDir, "windshed-gdal-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	src := dem.Path
	if src == "" || !dem.Bounds.Empty() {
		grid, err := dem.Grid(ctx)
		if err != nil {
			return nil, err
		}
		src = filepath.Join(tempDir, "dem.tif")
		if err := WriteGeoTIFFFile(src, grid, Float32); err != nil {
			return nil, err
		}
	}
	dst := filepath.Join(tempDir, "viewshed.tif")

	crs, err := dem.CRS()
	if err != nil {
		return nil, err
	}
	args, err := b.Args(src, dst, crs, obs, opts)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, b.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return nil, fmt.Errorf("%s: %w: %s", b.Binary, err, message)
		}
		return nil, fmt.Errorf("%s: %w", b.Binary, err)
	}

	f, err := OpenGeoTIFFFile(dst)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadAll(ctx)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
