package main

import (
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/windshed/windshed"
)

var demInfoCmd = &cobra.Command{
	Use:   "dem-info <dem>",
	Short: "Print the layout and statistics of a DEM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := windshed.OpenGeoTIFFFile(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		grid, err := f.ReadAll(cmd.Context())
		if err != nil {
			return err
		}

		profile := f.Profile()
		bounds := f.Bounds()
		stats := grid.Stats()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "size: %dx%d\n", profile.Width, profile.Height)
		fmt.Fprintf(w, "crs: %s\n", profile.CRS)
		fmt.Fprintf(w, "transform: %v\n", profile.Transform)
		fmt.Fprintf(w, "bounds: %f %f %f %f\n", bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)
		fmt.Fprintf(w, "type: %s\n", profile.DataType)
		fmt.Fprintf(w, "compression: %s\n", profile.Compression)
		fmt.Fprintf(w, "block: %dx%d tiled=%t\n", profile.BlockWidth, profile.BlockLength, profile.Tiled)
		if profile.HasNoData {
			fmt.Fprintf(w, "nodata: %g\n", profile.NoData)
		}
		fmt.Fprintf(w, "valid: %d\n", stats.Valid)
		fmt.Fprintf(w, "min: %g\nmax: %g\nmean: %g\nstddev: %g\n", stats.Min, stats.Max, stats.Mean, stats.StdDev)
		return nil
	},
}

var turbinesCmd = &cobra.Command{
	Use:   "turbines <dem> <turbines>",
	Short: "List the turbines on a DEM with their interpolated ground elevations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		f, err := windshed.OpenGeoTIFFFile(args[0], windshed.WithBlockCacheSize(config.BlockCacheSize))
		if err != nil {
			return err
		}
		defer f.Close()

		turbines, err := loadTurbines(args[1], f.CRS(), f.Bounds())
		if err != nil {
			return err
		}
		coords := make([]windshed.Coord, len(turbines))
		for i, turbine := range turbines {
			coords[i] = turbine.Coord()
		}
		elevationService := windshed.NewElevationService(f, f.CRS())
		defer elevationService.Close()
		elevations, err := elevationService.Elevation(cmd.Context(), coords)
		if err != nil {
			return err
		}

		w := csv.NewWriter(cmd.OutOrStdout())
		if err := w.Write([]string{"id", "x", "y", "elevation", "height", "project"}); err != nil {
			return err
		}
		for i, turbine := range turbines {
			if err := w.Write([]string{
				turbine.ID,
				strconv.FormatFloat(turbine.X, 'f', -1, 64),
				strconv.FormatFloat(turbine.Y, 'f', -1, 64),
				strconv.FormatFloat(elevations[i], 'f', -1, 64),
				strconv.FormatFloat(turbine.Height(config.TurbineHeight), 'f', -1, 64),
				turbine.Project,
			}); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	},
}

var turbinesEPSG int

// loadTurbines loads the turbines in path, transforms them into crs, and
// returns those inside bounds.
func loadTurbines(path string, crs windshed.CRS, bounds windshed.Bounds) ([]windshed.Turbine, error) {
	turbines, err := windshed.LoadTurbines(path)
	if err != nil {
		return nil, err
	}
	from := windshed.CRS{EPSG: turbinesEPSG, Geographic: turbinesEPSG == windshed.WGS84.EPSG}
	transformer, err := windshed.NewTransformer(from, crs)
	if err != nil {
		return nil, err
	}
	defer transformer.Close()
	turbines, err = windshed.ReprojectTurbines(turbines, transformer)
	if err != nil {
		return nil, err
	}
	inside := windshed.FilterBounds(turbines, bounds)
	logger.WithField("turbines", len(inside)).WithField("total", len(turbines)).Info("loaded turbines")
	return inside, nil
}

var hillshadeFlags struct {
	azimuth  float64
	altitude float64
	zFactor  float64
}

var hillshadeCmd = &cobra.Command{
	Use:   "hillshade <dem> <out.tif>",
	Short: "Compute the shaded relief of a DEM",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dem, err := windshed.NewDEM(args[0]).Grid(cmd.Context())
		if err != nil {
			return err
		}
		hillshade := windshed.Hillshade(dem, hillshadeFlags.azimuth, hillshadeFlags.altitude, hillshadeFlags.zFactor)
		return windshed.WriteGeoTIFFFile(args[1], hillshade, windshed.Float32)
	},
}

func init() {
	turbinesCmd.Flags().IntVar(&turbinesEPSG, "turbines-epsg", windshed.WGS84.EPSG, "EPSG code of turbine coordinates")
	turbinesCmd.Flags().Float64("turbine-height", windshed.DefaultTurbineHeight, "turbine height in metres when unknown")

	hillshadeCmd.Flags().Float64Var(&hillshadeFlags.azimuth, "azimuth", windshed.DefaultAzimuth, "light azimuth in degrees")
	hillshadeCmd.Flags().Float64Var(&hillshadeFlags.altitude, "altitude", windshed.DefaultAltitude, "light altitude in degrees")
	hillshadeCmd.Flags().Float64Var(&hillshadeFlags.zFactor, "z-factor", windshed.DefaultZFactor, "vertical exaggeration")

	rootCmd.AddCommand(demInfoCmd, turbinesCmd, hillshadeCmd)
}
