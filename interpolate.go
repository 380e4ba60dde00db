package windshed

import (
	"context"
	"math"
)

// InterpolateBilinear returns bilinearly interpolated samples of raster at
// coords, using the four surrounding cell centres. Cell centres with zero
// weight are ignored, so coords on the centres of edge cells have samples.
func InterpolateBilinear(ctx context.Context, raster Raster, coords []Coord) ([]float64, error) {
	t := raster.GeoTransform()
	rasterCoords := make([]Coord, 4*len(coords))
	fractions := make([][2]float64, len(coords))
	for i, coord := range coords {
		fx, fy := t.PixelOf(coord)
		fx -= 0.5
		fy -= 0.5
		x0 := math.Floor(fx)
		y0 := math.Floor(fy)
		fractions[i] = [2]float64{fx - x0, fy - y0}
		rasterCoords[4*i+0] = t.Apply(x0+0.5, y0+0.5)
		rasterCoords[4*i+1] = t.Apply(x0+1.5, y0+0.5)
		rasterCoords[4*i+2] = t.Apply(x0+0.5, y0+1.5)
		rasterCoords[4*i+3] = t.Apply(x0+1.5, y0+1.5)
	}
	samples, err := raster.Samples(ctx, rasterCoords)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(coords))
	for i := range coords {
		dx, dy := fractions[i][0], fractions[i][1]
		for k, weight := range [4]float64{(1 - dx) * (1 - dy), dx * (1 - dy), (1 - dx) * dy, dx * dy} {
			if weight != 0 {
				result[i] += samples[4*i+k] * weight
			}
		}
	}
	return result, nil
}
