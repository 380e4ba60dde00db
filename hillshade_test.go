package windshed_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/windshed/windshed"
)

// newEastRamp returns terrain rising eastwards at 45 degrees.
func newEastRamp() *windshed.Grid {
	dem := windshed.NewGrid(5, 5, windshed.GeoTransform{0, 10, 0, 50, 0, -10}, windshed.CRS{EPSG: 32613})
	for y := range dem.Height {
		for x := range dem.Width {
			dem.Set(x, y, float32(10*x))
		}
	}
	return dem
}

func TestHillshade(t *testing.T) {
	flat := windshed.NewGrid(5, 5, windshed.GeoTransform{0, 10, 0, 50, 0, -10}, windshed.CRS{EPSG: 32613})
	flat.Fill(100)

	for _, tc := range []struct {
		name     string
		dem      *windshed.Grid
		azimuth  float64
		expected float64
	}{
		{
			name:     "flat",
			dem:      flat,
			azimuth:  windshed.DefaultAzimuth,
			expected: 255 * math.Cos(math.Pi/4),
		},
		{
			name:     "facing_light",
			dem:      newEastRamp(),
			azimuth:  270,
			expected: 255,
		},
		{
			name:     "facing_away",
			dem:      newEastRamp(),
			azimuth:  90,
			expected: 0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual := windshed.Hillshade(tc.dem, tc.azimuth, windshed.DefaultAltitude, windshed.DefaultZFactor)
			assert.True(t, actual.SameGeometry(tc.dem))
			for y := 1; y < 4; y++ {
				for x := 1; x < 4; x++ {
					assertNear(t, tc.expected, actual.At(x, y))
				}
			}
			assert.False(t, actual.Valid(0, 2))
			assert.False(t, actual.Valid(2, 4))
		})
	}
}

func TestHillshade_NoData(t *testing.T) {
	dem := newEastRamp()
	dem.Set(1, 1, float32(math.NaN()))
	actual := windshed.Hillshade(dem, windshed.DefaultAzimuth, windshed.DefaultAltitude, windshed.DefaultZFactor)
	assert.False(t, actual.Valid(1, 1))
	assert.False(t, actual.Valid(2, 2))
	assert.True(t, actual.Valid(3, 3))
}
