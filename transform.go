package windshed

import (
	"github.com/twpayne/go-proj/v10"
)

// A Transformer converts coordinates between CRSs. Coordinates are always
// x/y (longitude/latitude, easting/northing) order.
type Transformer struct {
	pj *proj.PJ
}

// NewTransformer returns a Transformer from one CRS to another. If the CRSs
// are equal or either is unknown the Transformer is the identity.
func NewTransformer(from, to CRS) (*Transformer, error) {
	if from.EPSG == 0 || to.EPSG == 0 || from.EPSG == to.EPSG {
		return &Transformer{}, nil
	}
	pj, err := proj.NewCRSToCRS(from.String(), to.String(), nil)
	if err != nil {
		return nil, err
	}
	defer pj.Destroy()
	normalizedPJ, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, err
	}
	return &Transformer{
		pj: normalizedPJ,
	}, nil
}

// Identity returns whether t leaves coordinates unchanged.
func (t *Transformer) Identity() bool {
	return t.pj == nil
}

// Forward returns coords transformed to t's target CRS.
func (t *Transformer) Forward(coords []Coord) ([]Coord, error) {
	result := cloneCoords(coords)
	if t.pj == nil {
		return result, nil
	}
	float64Slices := make([][]float64, len(coords))
	for i, coord := range coords {
		float64Slices[i] = []float64{coord.X, coord.Y}
	}
	if err := t.pj.ForwardFloat64Slices(float64Slices); err != nil {
		return nil, err
	}
	for i, float64Slice := range float64Slices {
		result[i] = Coord{X: float64Slice[0], Y: float64Slice[1]}
	}
	return result, nil
}

// Close releases t's resources.
func (t *Transformer) Close() {
	if t.pj != nil {
		t.pj.Destroy()
	}
}

func cloneCoords(coords []Coord) []Coord {
	clonedCoords := make([]Coord, len(coords))
	copy(clonedCoords, coords)
	return clonedCoords
}
