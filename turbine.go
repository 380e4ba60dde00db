package windshed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// DefaultTurbineHeight is the total height in metres assumed for turbines
// whose height is unknown.
const DefaultTurbineHeight = 130

// MetersToFeet converts metres to feet.
const MetersToFeet = 3.28084

// USWTDB attribute names.
const (
	fieldCaseID        = "case_id"
	fieldX             = "xlong"
	fieldY             = "ylat"
	fieldTotalHeight   = "t_ttlh"
	fieldHubHeight     = "t_hh"
	fieldRotorDiameter = "t_rd"
	fieldProject       = "p_name"
)

// A Turbine is a wind turbine. Unknown dimensions are NaN.
type Turbine struct {
	ID            string
	X             float64
	Y             float64
	TotalHeight   float64
	HubHeight     float64
	RotorDiameter float64
	Project       string
}

// Coord returns t's location.
func (t Turbine) Coord() Coord {
	return Coord{X: t.X, Y: t.Y}
}

// Height returns t's total height, or fallback if it is unknown.
func (t Turbine) Height(fallback float64) float64 {
	if math.IsNaN(t.TotalHeight) {
		return fallback
	}
	return t.TotalHeight
}

// LoadTurbines loads turbines from a USWTDB CSV file or shapefile.
func LoadTurbines(path string) ([]Turbine, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		turbines, err := ReadTurbinesCSV(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return turbines, nil
	case ".shp":
		return readTurbinesShapefile(path)
	default:
		return nil, fmt.Errorf("%s: unsupported turbine file type %q", path, ext)
	}
}

// ReadTurbinesCSV reads turbines from CSV with a USWTDB header row.
func ReadTurbinesCSV(r io.Reader) ([]Turbine, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{fieldX, fieldY} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing column %s", required)
		}
	}

	var turbines []Turbine
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return turbines, nil
		} else if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(columns))
		for name, i := range columns {
			if i < len(record) {
				fields[name] = record[i]
			}
		}
		turbine, err := newTurbine(fields, strconv.Itoa(line-2))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		turbines = append(turbines, turbine)
	}
}

func readTurbinesShapefile(path string) ([]Turbine, error) {
	decoder, err := shp.NewDecoder(path)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var turbines []Turbine
	for row := 0; ; row++ {
		g, fields, more := decoder.DecodeRowFields(fieldCaseID, fieldTotalHeight, fieldHubHeight, fieldRotorDiameter, fieldProject)
		if !more {
			break
		}
		point, ok := g.(geom.Point)
		if !ok {
			return nil, fmt.Errorf("%s: row %d: turbines must be points, got %T", path, row, g)
		}
		rowFields := map[string]string{
			fieldX: strconv.FormatFloat(point.X, 'f', -1, 64),
			fieldY: strconv.FormatFloat(point.Y, 'f', -1, 64),
		}
		for name, value := range fields {
			rowFields[strings.ToLower(name)] = value
		}
		turbine, err := newTurbine(rowFields, strconv.Itoa(row))
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, row, err)
		}
		turbines = append(turbines, turbine)
	}
	if err := decoder.Error(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return turbines, nil
}

func newTurbine(fields map[string]string, defaultID string) (Turbine, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldX]), 64)
	if err != nil {
		return Turbine{}, fmt.Errorf("%s: %w", fieldX, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(fields[fieldY]), 64)
	if err != nil {
		return Turbine{}, fmt.Errorf("%s: %w", fieldY, err)
	}
	id := strings.TrimSpace(fields[fieldCaseID])
	if id == "" {
		id = defaultID
	}
	return Turbine{
		ID:            id,
		X:             x,
		Y:             y,
		TotalHeight:   parseDimension(fields[fieldTotalHeight]),
		HubHeight:     parseDimension(fields[fieldHubHeight]),
		RotorDiameter: parseDimension(fields[fieldRotorDiameter]),
		Project:       strings.TrimSpace(fields[fieldProject]),
	}, nil
}

// parseDimension parses a length, returning NaN for blank, unparseable, and
// the USWTDB missing value -9999.
func parseDimension(s string) float64 {
	value, err := strconv.ParseFloat(strings.Trim(s, " \x00"), 64)
	if err != nil || value < 0 {
		return math.NaN()
	}
	return value
}

// FilterBounds returns the turbines inside bounds.
func FilterBounds(turbines []Turbine, bounds Bounds) []Turbine {
	var result []Turbine
	for _, turbine := range turbines {
		if bounds.Contains(turbine.Coord()) {
			result = append(result, turbine)
		}
	}
	return result
}

// ReprojectTurbines returns turbines with coordinates transformed by t.
func ReprojectTurbines(turbines []Turbine, t *Transformer) ([]Turbine, error) {
	if t.Identity() {
		return turbines, nil
	}
	coords := make([]Coord, len(turbines))
	for i, turbine := range turbines {
		coords[i] = turbine.Coord()
	}
	transformed, err := t.Forward(coords)
	if err != nil {
		return nil, err
	}
	result := make([]Turbine, len(turbines))
	for i, turbine := range turbines {
		turbine.X, turbine.Y = transformed[i].X, transformed[i].Y
		result[i] = turbine
	}
	return result, nil
}

// FindTurbine returns the turbine with the given ID.
func FindTurbine(turbines []Turbine, id string) (Turbine, bool) {
	for _, turbine := range turbines {
		if turbine.ID == id {
			return turbine, true
		}
	}
	return Turbine{}, false
}
