package windshed

import (
	"context"
	"sync"
)

// An ElevationService returns interpolated ground elevations.
type ElevationService struct {
	raster Raster
	crs    CRS

	mutex       sync.Mutex
	transformer *Transformer
}

// NewElevationService returns an ElevationService over raster, whose CRS is
// crs.
func NewElevationService(raster Raster, crs CRS) *ElevationService {
	return &ElevationService{
		raster: raster,
		crs:    crs,
	}
}

// NewSRTMElevationService returns an ElevationService over the SRTM tiles in
// s.
func NewSRTMElevationService(s *TileSet) *ElevationService {
	return NewElevationService(s, s.CRS())
}

// Elevation returns the elevations at coords in the raster's CRS.
func (s *ElevationService) Elevation(ctx context.Context, coords []Coord) ([]float64, error) {
	return InterpolateBilinear(ctx, s.raster, coords)
}

// ElevationLonLat returns the elevations at longitude/latitude coords.
func (s *ElevationService) ElevationLonLat(ctx context.Context, lonLats []Coord) ([]float64, error) {
	transformer, err := s.lonLatTransformer()
	if err != nil {
		return nil, err
	}
	coords, err := transformer.Forward(lonLats)
	if err != nil {
		return nil, err
	}
	return s.Elevation(ctx, coords)
}

// Close releases s's resources.
func (s *ElevationService) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.transformer != nil {
		s.transformer.Close()
		s.transformer = nil
	}
}

// lonLatTransformer returns the transformer from longitude/latitude to the
// raster's CRS, creating it on first use.
func (s *ElevationService) lonLatTransformer() (*Transformer, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.transformer == nil {
		transformer, err := NewTransformer(WGS84, s.crs)
		if err != nil {
			return nil, err
		}
		s.transformer = transformer
	}
	return s.transformer, nil
}
