package windshed

import (
	"fmt"
	"io/fs"
	"math"
	"slices"
)

// srtmPixelSize is the 3 arc-second SRTM resolution in degrees.
const srtmPixelSize = 1.0 / 1200

// SRTMTileCoord returns the CGIAR-CSI tile containing the longitude/latitude
// coord. Tiles are 5 degrees square, numbered from 1 starting at 180W, 60N.
func SRTMTileCoord(coord Coord) (TileCoord, bool) {
	if coord.X < -180 || coord.X >= 180 || coord.Y <= -60 || coord.Y > 60 {
		return TileCoord{}, false
	}
	return TileCoord{
		C: int(math.Floor((coord.X+180)/5)) + 1,
		R: int(math.Floor((60-coord.Y)/5)) + 1,
	}, true
}

// NewSRTM returns the CGIAR-CSI SRTM 90m tiles in fsys.
func NewSRTM(fsys fs.FS, options ...TileSetOption) (*TileSet, error) {
	return NewTileSet(slices.Concat(
		[]TileSetOption{
			WithFS(fsys),
			WithCRS(WGS84),
			// SRTM samples are centred on whole arc-seconds.
			WithGeoTransform(GeoTransform{-180 - srtmPixelSize/2, srtmPixelSize, 0, 60 + srtmPixelSize/2, 0, -srtmPixelSize}),
			WithTileCoordFunc(SRTMTileCoord),
			WithTileFilenameFunc(func(tileCoord TileCoord) string {
				return fmt.Sprintf("srtm_%02d_%02d.tif", tileCoord.C, tileCoord.R)
			}),
		},
		options,
	)...)
}
