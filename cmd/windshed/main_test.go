package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/windshed/windshed"
)

func writeTestDEM(t *testing.T, dir string) string {
	t.Helper()
	dem := windshed.NewGrid(11, 11, windshed.GeoTransform{0, 1, 0, 11, 0, -1}, windshed.CRS{EPSG: 32613})
	dem.Fill(0)
	for y := range dem.Height {
		dem.Set(7, y, 50)
	}
	path := filepath.Join(dir, "dem.tif")
	assert.NoError(t, windshed.WriteGeoTIFFFile(path, dem, windshed.Float32))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	for _, c := range rootCmd.Commands() {
		c.SetContext(nil)
	}
	assert.NoError(t, rootCmd.ExecuteContext(t.Context()))
	return buf.String()
}

func TestDEMInfo(t *testing.T) {
	demPath := writeTestDEM(t, t.TempDir())
	output := execute(t, "dem-info", demPath)
	assert.Contains(t, output, "size: 11x11\n")
	assert.Contains(t, output, "crs: EPSG:32613\n")
	assert.Contains(t, output, "compression: deflate\n")
	assert.Contains(t, output, "max: 50\n")
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	demPath := writeTestDEM(t, dir)
	turbinesPath := filepath.Join(dir, "turbines.csv")
	assert.NoError(t, os.WriteFile(turbinesPath, []byte("case_id,xlong,ylat,t_ttlh\nwest,2.5,5.5,100\neast,9.5,5.5,100\nfar,100,100,100\n"), 0o666))
	outDir := filepath.Join(dir, "out")

	output := execute(t, "turbines", demPath, turbinesPath, "--turbines-epsg", "32613")
	assert.Contains(t, output, "id,x,y,elevation,height,project\n")
	assert.Contains(t, output, "west,2.5,5.5,0,100,\n")
	assert.NotContains(t, output, "far")

	execute(t, "batch", demPath, turbinesPath,
		"--turbines-epsg", "32613",
		"--out-dir", outDir,
		"--concurrency", "2",
		"--png",
	)
	for _, name := range []string{"viewshed_west.tif", "viewshed_east.tif", windshed.CompositeTIFFName, windshed.CompositePNGName} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err)
	}

	hillshadePath := filepath.Join(dir, "hillshade.tif")
	execute(t, "hillshade", demPath, hillshadePath)
	pngPath := filepath.Join(dir, "composite.png")
	execute(t, "render", hillshadePath, filepath.Join(outDir, windshed.CompositeTIFFName), pngPath, "--scale", "2")
	_, err := os.Stat(pngPath)
	assert.NoError(t, err)
}

func TestView(t *testing.T) {
	dir := t.TempDir()
	demPath := writeTestDEM(t, dir)
	execute(t, "view", demPath, "--x", "2.5", "--y", "5.5", "--out-dir", dir, "--png")

	f, err := windshed.OpenGeoTIFFFile(filepath.Join(dir, "viewshed_point.tif"))
	assert.NoError(t, err)
	defer f.Close()
	viewshed, err := f.ReadAll(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, float32(255), viewshed.At(2, 5))
	_, err = os.Stat(filepath.Join(dir, "viewshed_point.png"))
	assert.NoError(t, err)
}

func TestBatchSRTM(t *testing.T) {
	t.Cleanup(func() {
		demFlags.srtmDir = ""
		demFlags.bounds = nil
	})

	const pixel = 1.0 / 1200
	dir := t.TempDir()
	srtmDir := filepath.Join(dir, "srtm")
	assert.NoError(t, os.Mkdir(srtmDir, 0o777))
	tile := windshed.NewGrid(20, 20, windshed.GeoTransform{-105 - pixel/2, pixel, 0, 40 + pixel/2, 0, -pixel}, windshed.WGS84)
	tile.Fill(1000)
	assert.NoError(t, windshed.WriteGeoTIFFFile(filepath.Join(srtmDir, "srtm_16_05.tif"), tile, windshed.Float32))
	turbinesPath := filepath.Join(dir, "turbines.csv")
	assert.NoError(t, os.WriteFile(turbinesPath, []byte("case_id,xlong,ylat,t_ttlh\nsoco,-104.996,39.996,130\n"), 0o666))
	outDir := filepath.Join(dir, "out")

	execute(t, "batch", turbinesPath,
		"--turbines-epsg", "4326",
		"--srtm-dir", srtmDir,
		"--bounds=-105,39.99,-104.99,40",
		"--out-dir", outDir,
	)

	f, err := windshed.OpenGeoTIFFFile(filepath.Join(outDir, windshed.CompositeTIFFName))
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, windshed.WGS84, f.CRS())
	count, err := f.Sample(t.Context(), windshed.Coord{X: -104.996, Y: 39.996})
	assert.NoError(t, err)
	assert.Equal(t, 1.0, count)
	_, err = os.Stat(filepath.Join(outDir, "viewshed_soco.tif"))
	assert.NoError(t, err)
}
