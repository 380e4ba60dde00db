package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/windshed/windshed"
)

var viewFlags struct {
	x         float64
	y         float64
	turbines  string
	turbineID string
}

var demFlags struct {
	srtmDir string
	bounds  []float64
}

var viewCmd = &cobra.Command{
	Use:   "view [dem]",
	Short: "Compute the viewshed of a single turbine or point",
	Long: `Compute the viewshed of a single location, given either as --x and --y
in the DEM's CRS or as --turbine-id in the --turbines file. The DEM is either
a GeoTIFF or mosaicked from the SRTM tiles in --srtm-dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		runner, err := config.NewRunner(logger)
		if err != nil {
			return err
		}
		var path string
		if len(args) > 0 {
			path = args[0]
		}
		dem, grid, err := openDEM(cmd.Context(), path, config.BlockCacheSize)
		if err != nil {
			return err
		}

		var turbine windshed.Turbine
		switch {
		case viewFlags.turbineID != "":
			if viewFlags.turbines == "" {
				return errors.New("--turbine-id requires --turbines")
			}
			turbines, err := loadTurbines(viewFlags.turbines, grid.CRS, grid.Bounds())
			if err != nil {
				return err
			}
			var ok bool
			turbine, ok = windshed.FindTurbine(turbines, viewFlags.turbineID)
			if !ok {
				return errors.New(viewFlags.turbineID + ": turbine not found on DEM")
			}
		case cmd.Flags().Changed("x") && cmd.Flags().Changed("y"):
			turbine = windshed.Turbine{
				ID:          "point",
				X:           viewFlags.x,
				Y:           viewFlags.y,
				TotalHeight: config.TurbineHeight,
			}
		default:
			return errors.New("either --x and --y or --turbine-id is required")
		}

		writePNG := runner.WritePNG
		runner.WriteViewsheds = true
		runner.WritePNG = false
		result, err := runner.Run(cmd.Context(), dem, []windshed.Turbine{turbine})
		if err != nil {
			return err
		}
		if len(result.Skipped) > 0 {
			return errors.New(turbine.ID + ": observer is outside the DEM or on missing data")
		}
		viewshedPath := result.Viewsheds[turbine.ID]
		if writePNG && viewshedPath != "" {
			return renderFile(cmd.Context(), strings.TrimSuffix(viewshedPath, filepath.Ext(viewshedPath))+".png", grid, viewshedPath, []windshed.Turbine{turbine})
		}
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [dem] <turbines>",
	Short: "Compute the viewsheds of all turbines on a DEM and their composite",
	Long: `Compute the viewsheds of all turbines on a DEM and their composite. The
DEM is either a GeoTIFF or mosaicked from the SRTM tiles in --srtm-dir.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		runner, err := config.NewRunner(logger)
		if err != nil {
			return err
		}
		var path string
		if len(args) == 2 {
			path = args[0]
		}
		dem, grid, err := openDEM(cmd.Context(), path, config.BlockCacheSize)
		if err != nil {
			return err
		}
		turbines, err := loadTurbines(args[len(args)-1], grid.CRS, grid.Bounds())
		if err != nil {
			return err
		}
		_, err = runner.Run(cmd.Context(), dem, turbines)
		return err
	},
}

var renderFlags struct {
	scale    int
	maxValue float64
	turbines string
}

var renderCmd = &cobra.Command{
	Use:   "render <hillshade.tif> <overlay.tif> <out.png>",
	Short: "Render an overlay over a hillshade as a PNG",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		hillshade, err := windshed.NewDEM(args[0]).Grid(cmd.Context())
		if err != nil {
			return err
		}
		overlay, err := windshed.NewDEM(args[1]).Grid(cmd.Context())
		if err != nil {
			return err
		}
		var markers []windshed.Coord
		if renderFlags.turbines != "" {
			turbines, err := loadTurbines(renderFlags.turbines, hillshade.CRS, hillshade.Bounds())
			if err != nil {
				return err
			}
			for _, turbine := range turbines {
				markers = append(markers, turbine.Coord())
			}
		}
		return renderPNG(args[2], windshed.RenderOptions{
			Hillshade: hillshade,
			Overlay:   overlay,
			MaxValue:  renderFlags.maxValue,
			Markers:   markers,
			Scale:     renderFlags.scale,
		})
	},
}

// openDEM returns the DEM in the GeoTIFF at path, or mosaicked from the SRTM
// tiles in --srtm-dir when path is empty, limited to --bounds.
func openDEM(ctx context.Context, path string, blockCacheSize int) (*windshed.DEM, *windshed.Grid, error) {
	var bounds windshed.Bounds
	switch len(demFlags.bounds) {
	case 0:
	case 4:
		bounds = windshed.Bounds{
			MinX: demFlags.bounds[0],
			MinY: demFlags.bounds[1],
			MaxX: demFlags.bounds[2],
			MaxY: demFlags.bounds[3],
		}
		if bounds.Empty() {
			return nil, nil, errors.New("--bounds: empty bounds")
		}
	default:
		return nil, nil, errors.New("--bounds: want min x, min y, max x, max y")
	}

	var dem *windshed.DEM
	switch {
	case path != "" && demFlags.srtmDir != "":
		return nil, nil, errors.New("a DEM file and --srtm-dir are mutually exclusive")
	case path != "":
		dem = windshed.NewDEM(path, windshed.WithBlockCacheSize(blockCacheSize))
		dem.Bounds = bounds
	case demFlags.srtmDir != "":
		if bounds.Empty() {
			return nil, nil, errors.New("--srtm-dir requires --bounds")
		}
		var err error
		dem, err = windshed.NewSRTMDEM(ctx, os.DirFS(demFlags.srtmDir), bounds, windshed.WithBlockCacheSize(blockCacheSize))
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, errors.New("either a DEM file or --srtm-dir is required")
	}
	grid, err := dem.Grid(ctx)
	if err != nil {
		return nil, nil, err
	}
	return dem, grid, nil
}

// addDEMFlags adds the flags that select the DEM to cmd.
func addDEMFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&demFlags.srtmDir, "srtm-dir", "", "directory of CGIAR-CSI SRTM tiles (srtm_CC_RR.tif) to use instead of a DEM file")
	cmd.Flags().Float64SliceVar(&demFlags.bounds, "bounds", nil, "min x, min y, max x, max y of the DEM to read, in its CRS")
}

// renderFile renders the viewshed in overlayPath over the hillshade of dem.
func renderFile(ctx context.Context, path string, dem *windshed.Grid, overlayPath string, turbines []windshed.Turbine) error {
	overlay, err := windshed.NewDEM(overlayPath).Grid(ctx)
	if err != nil {
		return err
	}
	markers := make([]windshed.Coord, 0, len(turbines))
	for _, turbine := range turbines {
		markers = append(markers, turbine.Coord())
	}
	return renderPNG(path, windshed.RenderOptions{
		Hillshade: windshed.Hillshade(dem, windshed.DefaultAzimuth, windshed.DefaultAltitude, windshed.DefaultZFactor),
		Overlay:   overlay,
		Markers:   markers,
	})
}

func renderPNG(path string, opts windshed.RenderOptions) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()
	return windshed.Render(file, opts)
}

func init() {
	addRunFlags(viewCmd)
	addDEMFlags(viewCmd)
	viewCmd.Flags().Float64Var(&viewFlags.x, "x", 0, "observer x in the DEM's CRS")
	viewCmd.Flags().Float64Var(&viewFlags.y, "y", 0, "observer y in the DEM's CRS")
	viewCmd.Flags().StringVar(&viewFlags.turbines, "turbines", "", "turbines file")
	viewCmd.Flags().StringVar(&viewFlags.turbineID, "turbine-id", "", "turbine ID")
	viewCmd.Flags().IntVar(&turbinesEPSG, "turbines-epsg", windshed.WGS84.EPSG, "EPSG code of turbine coordinates")

	addRunFlags(batchCmd)
	addDEMFlags(batchCmd)
	batchCmd.Flags().IntVar(&turbinesEPSG, "turbines-epsg", windshed.WGS84.EPSG, "EPSG code of turbine coordinates")

	renderCmd.Flags().IntVar(&renderFlags.scale, "scale", 1, "output pixels per cell")
	renderCmd.Flags().Float64Var(&renderFlags.maxValue, "max-value", 0, "overlay value at the end of the colour ramp, zero for the overlay maximum")
	renderCmd.Flags().StringVar(&renderFlags.turbines, "turbines", "", "turbines file to mark")
	renderCmd.Flags().IntVar(&turbinesEPSG, "turbines-epsg", windshed.WGS84.EPSG, "EPSG code of turbine coordinates")

	rootCmd.AddCommand(viewCmd, batchCmd, renderCmd)
}
