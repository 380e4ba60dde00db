package windshed_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/windshed/windshed"
)

func TestInterpolateBilinear(t *testing.T) {
	simpleGrid := &windshed.Grid{
		Width:     3,
		Height:    3,
		Transform: windshed.GeoTransform{0, 10, 0, 30, 0, -10},
		Data: []float32{
			0, 1, 2,
			2, 3, 4,
			4, 5, 6,
		},
	}
	for _, tc := range []struct {
		name     string
		raster   windshed.Raster
		coords   []windshed.Coord
		expected []float64
	}{
		{
			name:   "simple",
			raster: simpleGrid,
			coords: []windshed.Coord{
				{X: 5, Y: 25},
				{X: 15, Y: 25},
				{X: 5, Y: 15},
				{X: 15, Y: 15},
				{X: 10, Y: 20},
				{X: 10, Y: 25},
				{X: 5, Y: 20},
				{X: 15, Y: 20},
				{X: 10, Y: 15},
			},
			expected: []float64{
				0,
				1,
				2,
				3,
				1.5,
				0.5,
				1,
				2,
				2.5,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := windshed.InterpolateBilinear(t.Context(), tc.raster, tc.coords)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestInterpolateBilinear_Edge(t *testing.T) {
	g := &windshed.Grid{
		Width:     2,
		Height:    2,
		Transform: windshed.GeoTransform{0, 1, 0, 2, 0, -1},
		Data:      []float32{1, 2, 3, 4},
	}
	actual, err := windshed.InterpolateBilinear(t.Context(), g, []windshed.Coord{
		{X: 0.1, Y: 1.9},
		{X: 1.5, Y: 0.5},
		{X: 1.5, Y: 1},
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, len(actual))
	assert.True(t, math.IsNaN(actual[0]))
	assert.Equal(t, 4.0, actual[1])
	assert.Equal(t, 3.0, actual[2])
}
