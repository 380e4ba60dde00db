package windshed

import "math"

// Default hillshade illumination.
const (
	DefaultAzimuth  = 315
	DefaultAltitude = 45
	DefaultZFactor  = 1
)

// Hillshade returns the shaded relief of dem lit from azimuth and altitude in
// degrees, with slopes from Horn's method. Values are in [0, 255]. Edge cells
// and cells next to missing cells are missing.
func Hillshade(dem *Grid, azimuth, altitude, zFactor float64) *Grid {
	zenith := (90 - altitude) * math.Pi / 180
	// Convert from compass bearing to mathematical angle.
	azimuthMath := math.Mod(360-azimuth+90, 360) * math.Pi / 180
	cosZenith, sinZenith := math.Cos(zenith), math.Sin(zenith)

	result := Like(dem)
	var window [9]float64
	for y := 1; y < dem.Height-1; y++ {
		cellWidth, cellHeight := dem.CellSizeMeters(y)
	CELL:
		for x := 1; x < dem.Width-1; x++ {
			for i := range window {
				z := dem.At(x+i%3-1, y+i/3-1)
				if math.IsNaN(float64(z)) {
					continue CELL
				}
				window[i] = float64(z)
			}
			a, b, c := window[0], window[1], window[2]
			d, f := window[3], window[5]
			g, h, i := window[6], window[7], window[8]
			dzdx := ((c + 2*f + i) - (a + 2*d + g)) / (8 * cellWidth)
			dzdy := ((g + 2*h + i) - (a + 2*b + c)) / (8 * cellHeight)

			slope := math.Atan(zFactor * math.Hypot(dzdx, dzdy))
			aspect := math.Atan2(dzdy, -dzdx)
			shade := cosZenith*math.Cos(slope) + sinZenith*math.Sin(slope)*math.Cos(azimuthMath-aspect)
			result.Set(x, y, float32(255*max(shade, 0)))
		}
	}
	return result
}
