// Command windshed computes the areas from which wind turbines are visible.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/windshed/windshed"
)

var (
	configFile  string
	metricsAddr string

	v      = viper.New()
	logger = logrus.New()
)

// configFlags maps command line flags to configuration keys.
var configFlags = map[string]string{
	"backend":         "backend",
	"gdal-binary":     "gdal_binary",
	"observer-height": "observer_height",
	"turbine-height":  "turbine_height",
	"units":           "units",
	"concurrency":     "concurrency",
	"out-dir":         "out_dir",
	"write-viewsheds": "write_viewsheds",
	"png":             "png",
	"cell-mode":       "cell_mode",
	"output-mode":     "output_mode",
	"max-distance":    "max_distance",
	"curvature-coeff": "curvature_coeff",
	"debug":           "debug",
	"verbose":         "verbose",
}

var rootCmd = &cobra.Command{
	Use:   "windshed",
	Short: "Compute the areas from which wind turbines are visible",
	Long: `windshed computes viewsheds of wind turbines over digital elevation
models, either in process or with GDAL's gdal_viewshed, and combines them
into a composite counting how many turbines are visible from each cell.

Configuration is read from --config, then WINDSHED_ environment variables,
then command line flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(cmd.Flags()); err != nil {
			return err
		}
		setLogLevels()
		if metricsAddr != "" {
			serveMetrics(metricsAddr)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (TOML, YAML, or JSON)")
	rootCmd.PersistentFlags().Bool("debug", false, "log debug messages")
	rootCmd.PersistentFlags().Bool("verbose", false, "log informational messages")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

// addRunFlags adds the flags that configure viewshed runs to cmd.
func addRunFlags(cmd *cobra.Command) {
	defaults := windshed.DefaultConfig()
	flags := cmd.Flags()
	flags.String("backend", defaults.Backend, "viewshed backend: native or gdal")
	flags.String("gdal-binary", defaults.GDALBinary, "gdal_viewshed program")
	flags.Float64("observer-height", defaults.ObserverHeight, "viewer height above ground in metres")
	flags.Float64("turbine-height", defaults.TurbineHeight, "turbine height in metres when unknown")
	flags.String("units", defaults.Units, "DEM elevation units: m or ft")
	flags.Int("concurrency", defaults.Concurrency, "number of viewsheds computed in parallel")
	flags.StringP("out-dir", "o", defaults.OutDir, "output directory")
	flags.Bool("write-viewsheds", defaults.WriteViewsheds, "write a GeoTIFF per turbine")
	flags.Bool("png", defaults.WritePNG, "also render PNG maps")
	flags.String("cell-mode", defaults.CellMode.String(), "cell height mode: normal, edge, diagonal, max, or min")
	flags.String("output-mode", defaults.OutputMode.String(), "output mode: normal, dem, ground, or angle")
	flags.Float64("max-distance", defaults.MaxDistance, "maximum distance in metres, zero for unlimited")
	flags.Float64("curvature-coeff", defaults.CurvatureCoeff, "earth curvature coefficient")
}

func initConfig(flags *pflag.FlagSet) error {
	defaults := make(map[string]any)
	if err := mapstructure.Decode(windshed.DefaultConfig(), &defaults); err != nil {
		return err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("WINDSHED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range configFlags {
		if flag := flags.Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return err
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%s: %w", configFile, err)
		}
	}
	return nil
}

// loadConfig returns the configuration from all sources.
func loadConfig() (windshed.Config, error) {
	config := windshed.DefaultConfig()
	if err := v.Unmarshal(&config, viper.DecodeHook(windshed.ConfigDecodeHook())); err != nil {
		return windshed.Config{}, err
	}
	if err := config.Validate(); err != nil {
		return windshed.Config{}, err
	}
	logger.WithField("config", fmt.Sprintf("%+v", config)).Debug("loaded config")
	return config, nil
}

func setLogLevels() {
	switch {
	case v.GetBool("debug"):
		logger.SetLevel(logrus.DebugLevel)
	case v.GetBool("verbose"):
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server")
		}
	}()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
