package windshed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windshed_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	missingTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windshed_missing_tile_cache_misses_total",
		Help: "The total number of misses on the missing tile cache",
	})
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windshed_tile_cache_hits_total",
		Help: "The total number of hits on the open tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windshed_tile_cache_misses_total",
		Help: "The total number of misses on the open tile cache",
	})
	tileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windshed_tile_cache_evictions_total",
		Help: "The total number of evictions from the open tile cache",
	})
)

// maxMosaicCells limits the size of grids built by [TileSet.Grid].
const maxMosaicCells = 1 << 28

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A TileCoordFunc returns the tile coordinate for a coordinate.
type TileCoordFunc func(Coord) (TileCoord, bool)

// A TileFilenameFunc returns the tile filename for a tile coordinate.
type TileFilenameFunc func(TileCoord) string

// A TileSet is a set of GeoTIFF tiles sharing a CRS and pixel grid.
type TileSet struct {
	mutex            sync.Mutex
	fsys             fs.FS
	crs              CRS
	transform        GeoTransform
	tileCoordFunc    TileCoordFunc
	tileFilenameFunc TileFilenameFunc
	missingTiles     sync.Map
	geoTIFFOptions   []GeoTIFFOption
	cacheSize        int
	tileCache        *lru.Cache[TileCoord, *GeoTIFF]
}

// A TileSetOption sets an option on a TileSet.
type TileSetOption func(*TileSet)

// NewTileSet returns a new TileSet with the given options.
func NewTileSet(options ...TileSetOption) (*TileSet, error) {
	s := &TileSet{
		cacheSize: 32,
	}
	for _, option := range options {
		option(s)
	}
	if s.fsys == nil || s.tileCoordFunc == nil || s.tileFilenameFunc == nil {
		return nil, errors.New("tile set requires a filesystem, tile coord func, and tile filename func")
	}
	if s.transform[1] == 0 || s.transform[5] == 0 {
		return nil, errors.New("tile set requires a geo transform")
	}

	var err error
	s.tileCache, err = lru.NewWithEvict(s.cacheSize, func(key TileCoord, value *GeoTIFF) {
		_ = value.Close()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func WithCacheSize(cacheSize int) TileSetOption {
	return func(s *TileSet) {
		s.cacheSize = cacheSize
	}
}

func WithFS(fsys fs.FS) TileSetOption {
	return func(s *TileSet) {
		s.fsys = fsys
	}
}

func WithGeoTIFFOptions(geoTIFFOptions ...GeoTIFFOption) TileSetOption {
	return func(s *TileSet) {
		s.geoTIFFOptions = geoTIFFOptions
	}
}

func WithTileCoordFunc(tileCoordFunc TileCoordFunc) TileSetOption {
	return func(s *TileSet) {
		s.tileCoordFunc = tileCoordFunc
	}
}

func WithCRS(crs CRS) TileSetOption {
	return func(s *TileSet) {
		s.crs = crs
	}
}

// WithGeoTransform sets the pixel grid shared by all tiles. Its origin may be
// any pixel corner of the grid.
func WithGeoTransform(transform GeoTransform) TileSetOption {
	return func(s *TileSet) {
		s.transform = transform
	}
}

func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) TileSetOption {
	return func(s *TileSet) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

// Samples returns the samples at coords. Missing samples are represented by
// NaNs.
func (s *TileSet) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	// Group indexes by tile coord.
	type groupStruct struct {
		coords  []Coord
		indexes []int
	}
	groupsByTileCoord := make(map[TileCoord]groupStruct)
	for index, coord := range coords {
		tileCoord, ok := s.tileCoordFunc(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		group := groupsByTileCoord[tileCoord]
		group.coords = append(group.coords, coord)
		group.indexes = append(group.indexes, index)
		groupsByTileCoord[tileCoord] = group
	}

	// Populate samples one tile at a time.
	for tileCoord, group := range groupsByTileCoord {
		tile, err := s.getTileCached(tileCoord)
		if err != nil {
			return nil, err
		}
		if tile == nil {
			for _, index := range group.indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		localSamples, err := tile.Samples(ctx, group.coords)
		if err != nil {
			return nil, err
		}
		for localIndex, index := range group.indexes {
			samples[index] = localSamples[localIndex]
		}
	}

	return samples, nil
}

// Grid returns a grid covering bounds, snapped outwards to s's pixel grid and
// mosaicked from all the tiles it touches.
func (s *TileSet) Grid(ctx context.Context, bounds Bounds) (*Grid, error) {
	if bounds.Empty() {
		return nil, errors.New("empty bounds")
	}
	resX, resY := s.transform.Resolution()
	x0 := math.Floor((bounds.MinX - s.transform[0]) / resX)
	x1 := math.Ceil((bounds.MaxX - s.transform[0]) / resX)
	y0 := math.Floor((s.transform[3] - bounds.MaxY) / resY)
	y1 := math.Ceil((s.transform[3] - bounds.MinY) / resY)
	width, height := int(x1-x0), int(y1-y0)
	if width*height > maxMosaicCells {
		return nil, fmt.Errorf("%dx%d mosaic is too large", width, height)
	}
	g := NewGrid(width, height, GeoTransform{s.transform[0] + x0*resX, resX, 0, s.transform[3] - y0*resY, 0, -resY}, s.crs)

	// Sample one row at a time so that cancellation is responsive.
	coords := make([]Coord, width)
	for y := range height {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := range width {
			coords[x] = g.Transform.PixelCenter(Pixel{X: x, Y: y})
		}
		samples, err := s.Samples(ctx, coords)
		if err != nil {
			return nil, err
		}
		for x, sample := range samples {
			g.Set(x, y, float32(sample))
		}
	}
	return g, nil
}

// CRS returns s's CRS.
func (s *TileSet) CRS() CRS {
	return s.crs
}

// GeoTransform returns s's pixel grid.
func (s *TileSet) GeoTransform() GeoTransform {
	return s.transform
}

// Close closes all open tiles.
func (s *TileSet) Close() error {
	s.tileCache.Purge()
	return nil
}

// getTile returns the tile at the given tile coordinate.
func (s *TileSet) getTile(tileCoord TileCoord) (*GeoTIFF, error) {
	filename := s.tileFilenameFunc(tileCoord)
	switch geoTIFF, err := OpenGeoTIFF(s.fsys, filename, s.geoTIFFOptions...); {
	case errors.Is(err, fs.ErrNotExist):
		s.missingTiles.Store(tileCoord, struct{}{})
		missingTileCacheMisses.Inc()
		return nil, nil
	case err != nil:
		return nil, err
	default:
		return geoTIFF, nil
	}
}

// getTileCached returns the tile at the give tile coordinate, using the cache
// if possible.
func (s *TileSet) getTileCached(tileCoord TileCoord) (*GeoTIFF, error) {
	if _, ok := s.missingTiles.Load(tileCoord); ok {
		missingTileCacheHits.Inc()
		return nil, nil
	}

	if tile, ok := s.tileCache.Get(tileCoord); ok {
		tileCacheHits.Inc()
		return tile, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.missingTiles.Load(tileCoord); ok {
		missingTileCacheHits.Inc()
		return nil, nil
	}

	if tile, ok := s.tileCache.Get(tileCoord); ok {
		tileCacheHits.Inc()
		return tile, nil
	}

	tileCacheMisses.Inc()

	tile, err := s.getTile(tileCoord)
	if err != nil {
		return nil, err
	}
	if tile == nil {
		return nil, nil
	}

	if eviction := s.tileCache.Add(tileCoord, tile); eviction {
		tileCacheEvictions.Inc()
	}

	return tile, nil
}
