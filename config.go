package windshed

import (
	"fmt"
	"runtime"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
)

// Height units of DEM elevations.
const (
	UnitsMeters = "m"
	UnitsFeet   = "ft"
)

// A Config configures viewshed runs.
type Config struct {
	Backend        string     `mapstructure:"backend"`
	GDALBinary     string     `mapstructure:"gdal_binary"`
	TempDir        string     `mapstructure:"temp_dir"`
	ObserverHeight float64    `mapstructure:"observer_height"`
	TurbineHeight  float64    `mapstructure:"turbine_height"`
	Units          string     `mapstructure:"units"`
	Concurrency    int        `mapstructure:"concurrency"`
	OutDir         string     `mapstructure:"out_dir"`
	WriteViewsheds bool       `mapstructure:"write_viewsheds"`
	WritePNG       bool       `mapstructure:"png"`
	BlockCacheSize int        `mapstructure:"block_cache_size"`
	CellMode       CellMode   `mapstructure:"cell_mode"`
	OutputMode     OutputMode `mapstructure:"output_mode"`
	MaxDistance    float64    `mapstructure:"max_distance"`
	CurvatureCoeff float64    `mapstructure:"curvature_coeff"`
	Visible        float64    `mapstructure:"visible"`
	Invisible      float64    `mapstructure:"invisible"`
	OutOfRange     float64    `mapstructure:"out_of_range"`
	NoData         float64    `mapstructure:"nodata"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	opts := DefaultViewshedOptions()
	return Config{
		Backend:        "native",
		GDALBinary:     "gdal_viewshed",
		ObserverHeight: DefaultObserverHeight,
		TurbineHeight:  DefaultTurbineHeight,
		Units:          UnitsMeters,
		Concurrency:    runtime.NumCPU(),
		OutDir:         ".",
		WriteViewsheds: true,
		BlockCacheSize: defaultBlockCacheSize,
		CellMode:       opts.Mode,
		OutputMode:     opts.Output,
		MaxDistance:    opts.MaxDistance,
		CurvatureCoeff: opts.CurvatureCoeff,
		Visible:        opts.Visible,
		Invisible:      opts.Invisible,
		OutOfRange:     opts.OutOfRange,
		NoData:         opts.NoData,
	}
}

// ConfigDecodeHook returns the hook that decodes Config fields from strings.
func ConfigDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.TextUnmarshallerHookFunc()
}

// DecodeConfig decodes input over the default configuration.
func DecodeConfig(input map[string]any) (Config, error) {
	config := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       ConfigDecodeHook(),
		ErrorUnused:      true,
		Result:           &config,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(input); err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

// Validate returns an error if c is invalid.
func (c Config) Validate() error {
	if _, err := c.HeightScale(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency: must be positive, got %d", c.Concurrency)
	}
	if c.MaxDistance < 0 {
		return fmt.Errorf("max_distance: must not be negative, got %f", c.MaxDistance)
	}
	return nil
}

// HeightScale returns the factor converting metres to c's units.
func (c Config) HeightScale() (float64, error) {
	switch c.Units {
	case UnitsMeters, "":
		return 1, nil
	case UnitsFeet:
		return MetersToFeet, nil
	default:
		return 0, fmt.Errorf("%s: unknown units", c.Units)
	}
}

// ViewshedOptions returns c's viewshed options.
func (c Config) ViewshedOptions() ViewshedOptions {
	return ViewshedOptions{
		Mode:           c.CellMode,
		Output:         c.OutputMode,
		MaxDistance:    c.MaxDistance,
		CurvatureCoeff: c.CurvatureCoeff,
		Visible:        c.Visible,
		Invisible:      c.Invisible,
		OutOfRange:     c.OutOfRange,
		NoData:         c.NoData,
	}
}

// NewBackend returns c's backend.
func (c Config) NewBackend() (Backend, error) {
	backend, err := NewBackend(c.Backend)
	if err != nil {
		return nil, err
	}
	if gdalBackend, ok := backend.(*GDALBackend); ok {
		gdalBackend.Binary = c.GDALBinary
		gdalBackend.TempDir = c.TempDir
	}
	return backend, nil
}

// NewRunner returns a Runner configured by c.
func (c Config) NewRunner(logger logrus.FieldLogger) (*Runner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	backend, err := c.NewBackend()
	if err != nil {
		return nil, err
	}
	heightScale, _ := c.HeightScale()
	return &Runner{
		Backend:        backend,
		Options:        c.ViewshedOptions(),
		ObserverHeight: c.ObserverHeight,
		TurbineHeight:  c.TurbineHeight,
		HeightScale:    heightScale,
		OutDir:         c.OutDir,
		WriteViewsheds: c.WriteViewsheds,
		WritePNG:       c.WritePNG,
		Concurrency:    c.Concurrency,
		Logger:         logger,
	}, nil
}
