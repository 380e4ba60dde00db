package windshed

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

// TIFF compression, predictor and sample format values.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946

	predictorNone       = 1
	predictorHorizontal = 2

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var errShortRead = errors.New("short read")

type readAtSeekFile interface {
	fs.File
	io.ReaderAt
	io.Seeker
}

// A GeoTIFF is an open single band GeoTIFF file.
type GeoTIFF struct {
	file                   readAtSeekFile
	name                   string
	imageWidth             int
	imageLength            int
	blockWidth             int
	blockLength            int
	blocksAcross           int
	blocksDown             int
	striped                bool
	blockOffsets           []uint64
	blockByteCounts        []uint64
	smallestBlockByteCount uint64
	compression            int
	predictor              int
	sampleFormat           int
	bytesPerSample         int
	noData                 float64
	hasNoData              bool
	blockCacheSizeBytes    int
	blockSamplesCache      *otter.Cache[BlockCoord, []float32]
	emptyBlockBytes        []byte
	transform              GeoTransform
	crs                    CRS
}

type GeoTIFFOption func(*GeoTIFF)

const defaultBlockCacheSize = 128 << 20 // 128MB.

// A Profile describes the layout of a GeoTIFF.
type Profile struct {
	Width       int
	Height      int
	Transform   GeoTransform
	CRS         CRS
	NoData      float64
	HasNoData   bool
	DataType    string
	Compression string
	BlockWidth  int
	BlockLength int
	Tiled       bool
}

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALMetadata              string    `tiff:"field,tag=42112"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// OpenGeoTIFF opens the GeoTIFF name in fsys.
func OpenGeoTIFF(fsys fs.FS, name string, options ...GeoTIFFOption) (*GeoTIFF, error) {
	var err error
	ok := false

	f := &GeoTIFF{
		name:                name,
		blockCacheSizeBytes: defaultBlockCacheSize,
	}
	for _, option := range options {
		option(f)
	}

	file, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	readAtSeeker, isReadAtSeeker := file.(readAtSeekFile)
	if !isReadAtSeeker {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	f.file = readAtSeeker
	defer func() {
		if !ok {
			_ = f.file.Close()
		}
	}()

	var byteOrder [2]byte
	if _, err := f.file.ReadAt(byteOrder[:], 0); err != nil {
		return nil, err
	}
	if string(byteOrder[:]) != "II" {
		return nil, fmt.Errorf("%s: big-endian TIFF: %w", name, errors.ErrUnsupported)
	}

	tiffTIFF, err := tiff.Parse(f.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%s: no IFDs", name)
	}

	// Overviews and masks follow the first IFD.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := f.init(&ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	blockByteCountUncompressed := f.blockWidth * f.blockLength * f.bytesPerSample
	blockCacheCount := max(f.blockCacheSizeBytes/blockByteCountUncompressed, 1)
	f.blockSamplesCache, err = otter.New(&otter.Options[BlockCoord, []float32]{
		MaximumSize: blockCacheCount,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return f, nil
}

// OpenGeoTIFFFile opens the GeoTIFF at path.
func OpenGeoTIFFFile(path string, options ...GeoTIFFOption) (*GeoTIFF, error) {
	return OpenGeoTIFF(os.DirFS(filepath.Dir(path)), filepath.Base(path), options...)
}

func WithBlockCacheSize(blockCacheSize int) GeoTIFFOption {
	return func(f *GeoTIFF) {
		f.blockCacheSizeBytes = blockCacheSize
	}
}

func (f *GeoTIFF) init(ifd *geoTIFFIFD) error {
	if ifd.SamplesPerPixel > 1 ||
		(ifd.PlanarConfiguration != 0 && ifd.PlanarConfiguration != 1) ||
		(ifd.PhotometricInterpretation != 0 && ifd.PhotometricInterpretation != 1) {
		return errors.ErrUnsupported
	}

	f.compression = int(ifd.Compression)
	switch f.compression {
	case 0:
		f.compression = compressionNone
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return fmt.Errorf("compression %d: %w", f.compression, errors.ErrUnsupported)
	}

	f.sampleFormat = int(ifd.SampleFormat)
	if f.sampleFormat == 0 {
		f.sampleFormat = sampleFormatUint
	}
	switch bits := int(ifd.BitsPerSample); {
	case f.sampleFormat == sampleFormatFloat && (bits == 32 || bits == 64):
	case f.sampleFormat != sampleFormatFloat && (bits == 8 || bits == 16 || bits == 32):
	default:
		return fmt.Errorf("%d bit samples with format %d: %w", bits, f.sampleFormat, errors.ErrUnsupported)
	}
	f.bytesPerSample = int(ifd.BitsPerSample) / 8

	f.predictor = int(ifd.Predictor)
	switch f.predictor {
	case 0:
		f.predictor = predictorNone
	case predictorNone:
	case predictorHorizontal:
		if f.sampleFormat == sampleFormatFloat {
			return fmt.Errorf("horizontal predictor with float samples: %w", errors.ErrUnsupported)
		}
	default:
		return fmt.Errorf("predictor %d: %w", f.predictor, errors.ErrUnsupported)
	}

	f.imageWidth = int(ifd.ImageWidth)
	f.imageLength = int(ifd.ImageLength)
	if f.imageWidth == 0 || f.imageLength == 0 {
		return errors.New("empty image")
	}
	if ifd.TileWidth != 0 {
		f.blockWidth = int(ifd.TileWidth)
		f.blockLength = int(ifd.TileLength)
		f.blockOffsets = ifd.TileOffsets
		f.blockByteCounts = ifd.TileByteCounts
	} else {
		f.striped = true
		f.blockWidth = f.imageWidth
		f.blockLength = int(ifd.RowsPerStrip)
		if f.blockLength == 0 || f.blockLength > f.imageLength {
			f.blockLength = f.imageLength
		}
		f.blockOffsets = ifd.StripOffsets
		f.blockByteCounts = ifd.StripByteCounts
	}
	if f.blockLength == 0 {
		return errors.New("zero block length")
	}
	f.blocksAcross = (f.imageWidth + f.blockWidth - 1) / f.blockWidth
	f.blocksDown = (f.imageLength + f.blockLength - 1) / f.blockLength
	blocksPerImage := f.blocksAcross * f.blocksDown
	if len(f.blockByteCounts) != blocksPerImage || len(f.blockOffsets) != blocksPerImage {
		return errors.New("incorrect number of block byte counts or offsets")
	}
	f.smallestBlockByteCount = slices.Min(f.blockByteCounts)

	if noData := strings.TrimRight(ifd.GDALNoData, "\x00 "); noData != "" {
		value, err := strconv.ParseFloat(noData, 64)
		if err != nil {
			return fmt.Errorf("GDAL_NODATA %q: %w", noData, err)
		}
		f.noData = value
		f.hasNoData = true
	}

	if len(ifd.ModelPixelScaleTag) < 2 || len(ifd.ModelTiepointTag) < 6 {
		return fmt.Errorf("missing pixel scale or tie point: %w", errors.ErrUnsupported)
	}
	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	f.transform = GeoTransform{x - i*scaleX, scaleX, 0, y + j*scaleY, 0, -scaleY}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		parsedGeoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return fmt.Errorf("geokeys: %w", err)
		}
		f.crs = parsedGeoKeys.CRS()
		if parsedGeoKeys.PixelIsPoint() {
			f.transform[0] -= 0.5 * scaleX
			f.transform[3] += 0.5 * scaleY
		}
	}

	return nil
}

func (f *GeoTIFF) Close() error {
	return f.file.Close()
}

// GeoTransform returns f's geo transform.
func (f *GeoTIFF) GeoTransform() GeoTransform {
	return f.transform
}

// CRS returns f's coordinate reference system.
func (f *GeoTIFF) CRS() CRS {
	return f.crs
}

// Bounds returns f's extent.
func (f *GeoTIFF) Bounds() Bounds {
	return (&Grid{Width: f.imageWidth, Height: f.imageLength, Transform: f.transform}).Bounds()
}

// Profile returns f's layout.
func (f *GeoTIFF) Profile() Profile {
	return Profile{
		Width:       f.imageWidth,
		Height:      f.imageLength,
		Transform:   f.transform,
		CRS:         f.crs,
		NoData:      f.noData,
		HasNoData:   f.hasNoData,
		DataType:    dataTypeName(f.sampleFormat, f.bytesPerSample),
		Compression: compressionName(f.compression),
		BlockWidth:  f.blockWidth,
		BlockLength: f.blockLength,
		Tiled:       !f.striped,
	}
}

// Sample returns a single sample from f.
func (f *GeoTIFF) Sample(ctx context.Context, coord Coord) (float64, error) {
	pixel := f.pixel(coord)
	blockCoord, ok := f.blockCoord(pixel)
	if !ok {
		return math.NaN(), nil
	}
	switch blockSamples, err := f.getBlockSamplesCached(ctx, blockCoord); {
	case errors.Is(err, otter.ErrNotFound):
		return math.NaN(), nil
	case err != nil:
		return 0, err
	default:
		return f.blockSample(blockSamples, pixel), nil
	}
}

// Samples returns multiple samples from f. It is significantly faster than
// calling [Sample] for each coordinate.
func (f *GeoTIFF) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	pixels := make([]Pixel, len(coords))
	for i, coord := range coords {
		pixels[i] = f.pixel(coord)
	}

	samples := make([]float64, len(pixels))

	// Group indexes by block coord.
	indexesByBlockCoord := make(map[BlockCoord][]int)
	for index, pixel := range pixels {
		blockCoord, ok := f.blockCoord(pixel)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByBlockCoord[blockCoord] = append(indexesByBlockCoord[blockCoord], index)
	}

	// Populate samples one block at a time.
	for blockCoord, indexes := range indexesByBlockCoord {
		switch blockSamples, err := f.getBlockSamplesCached(ctx, blockCoord); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = f.blockSample(blockSamples, pixels[index])
			}
		}
	}

	return samples, nil
}

// ReadAll reads the whole of f into a Grid.
func (f *GeoTIFF) ReadAll(ctx context.Context) (*Grid, error) {
	return f.Read(ctx, Window{Width: f.imageWidth, Height: f.imageLength})
}

// ReadBounds reads the part of f covering bounds into a Grid.
func (f *GeoTIFF) ReadBounds(ctx context.Context, bounds Bounds) (*Grid, error) {
	window, ok := boundsWindow(f.transform, f.imageWidth, f.imageLength, bounds)
	if !ok {
		return nil, ErrOutsideRaster
	}
	return f.Read(ctx, window)
}

// Read reads window w of f into a Grid.
func (f *GeoTIFF) Read(ctx context.Context, w Window) (*Grid, error) {
	if w.X0 < 0 || w.Y0 < 0 || w.Width <= 0 || w.Height <= 0 ||
		w.X0+w.Width > f.imageWidth || w.Y0+w.Height > f.imageLength {
		return nil, fmt.Errorf("window %+v: %w", w, ErrOutsideRaster)
	}
	g := NewGrid(w.Width, w.Height, f.transform, f.crs)
	origin := f.transform.Apply(float64(w.X0), float64(w.Y0))
	g.Transform[0], g.Transform[3] = origin.X, origin.Y

	c0, r0 := w.X0/f.blockWidth, w.Y0/f.blockLength
	c1, r1 := (w.X0+w.Width-1)/f.blockWidth, (w.Y0+w.Height-1)/f.blockLength
	for r := r0; r <= r1; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for c := c0; c <= c1; c++ {
			blockSamples, err := f.getBlockSamplesCached(ctx, BlockCoord{C: c, R: r})
			switch {
			case errors.Is(err, otter.ErrNotFound):
				continue
			case err != nil:
				return nil, err
			}
			// Intersection of the block with the window, in image pixels.
			x0 := max(c*f.blockWidth, w.X0)
			x1 := min((c+1)*f.blockWidth, w.X0+w.Width)
			y0 := max(r*f.blockLength, w.Y0)
			y1 := min((r+1)*f.blockLength, w.Y0+w.Height)
			for y := y0; y < y1; y++ {
				src := blockSamples[(y-r*f.blockLength)*f.blockWidth+x0-c*f.blockWidth:]
				dst := g.Data[(y-w.Y0)*w.Width+x0-w.X0:]
				copy(dst[:x1-x0], src[:x1-x0])
			}
		}
	}
	return g, nil
}

// getCompressedBlockData returns the compressed data for the block at
// blockCoord. If the block is known to be empty, it returns the error
// otter.ErrNotFound.
func (f *GeoTIFF) getCompressedBlockData(blockCoord BlockCoord) ([]byte, error) {
	blockIndex := blockCoord.C + f.blocksAcross*blockCoord.R
	blockByteCount := f.blockByteCounts[blockIndex]
	blockOffset := f.blockOffsets[blockIndex]
	if blockByteCount == 0 {
		// Sparse block.
		return nil, otter.ErrNotFound
	}
	compressedData := make([]byte, blockByteCount)
	switch n, err := f.file.ReadAt(compressedData, int64(blockOffset)); {
	case err != nil && !(errors.Is(err, io.EOF) && n == int(blockByteCount)):
		return nil, err
	case n != int(blockByteCount):
		return nil, errShortRead
	case f.emptyBlockBytes != nil && bytes.Equal(compressedData, f.emptyBlockBytes):
		return nil, otter.ErrNotFound
	default:
		return compressedData, nil
	}
}

// blockRows returns the number of image rows stored in block row r.
func (f *GeoTIFF) blockRows(r int) int {
	if f.striped {
		return min(f.blockLength, f.imageLength-r*f.blockLength)
	}
	return f.blockLength
}

// decompressBlockData decompresses the block data in compressedData.
func (f *GeoTIFF) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch f.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		r = lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
	case compressionDeflate, compressionAdobeDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		r = zr
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// undoPredictor reverses horizontal differencing in place.
func (f *GeoTIFF) undoPredictor(blockData []byte, rows int) {
	if f.predictor != predictorHorizontal {
		return
	}
	rowBytes := f.blockWidth * f.bytesPerSample
	for y := range rows {
		row := blockData[y*rowBytes : (y+1)*rowBytes]
		switch f.bytesPerSample {
		case 1:
			for x := 1; x < len(row); x++ {
				row[x] += row[x-1]
			}
		case 2:
			for x := 2; x < len(row); x += 2 {
				v := binary.LittleEndian.Uint16(row[x:]) + binary.LittleEndian.Uint16(row[x-2:])
				binary.LittleEndian.PutUint16(row[x:], v)
			}
		case 4:
			for x := 4; x < len(row); x += 4 {
				v := binary.LittleEndian.Uint32(row[x:]) + binary.LittleEndian.Uint32(row[x-4:])
				binary.LittleEndian.PutUint32(row[x:], v)
			}
		}
	}
}

// decodeBlockData decodes blockData into a full block of samples, mapping
// nodata to NaN.
func (f *GeoTIFF) decodeBlockData(blockData []byte, rows int) []float32 {
	blockSamples := make([]float32, f.blockWidth*f.blockLength)
	n := f.blockWidth * rows
	for i := range n {
		b := blockData[i*f.bytesPerSample : (i+1)*f.bytesPerSample]
		var v float64
		switch f.sampleFormat {
		case sampleFormatFloat:
			if f.bytesPerSample == 4 {
				v = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			} else {
				v = math.Float64frombits(binary.LittleEndian.Uint64(b))
			}
		case sampleFormatInt:
			switch f.bytesPerSample {
			case 1:
				v = float64(int8(b[0]))
			case 2:
				v = float64(int16(binary.LittleEndian.Uint16(b)))
			case 4:
				v = float64(int32(binary.LittleEndian.Uint32(b)))
			}
		default:
			switch f.bytesPerSample {
			case 1:
				v = float64(b[0])
			case 2:
				v = float64(binary.LittleEndian.Uint16(b))
			case 4:
				v = float64(binary.LittleEndian.Uint32(b))
			}
		}
		if f.hasNoData && (v == f.noData || float64(float32(v)) == float64(float32(f.noData))) {
			v = math.NaN()
		}
		blockSamples[i] = float32(v)
	}
	for i := n; i < len(blockSamples); i++ {
		blockSamples[i] = float32(math.NaN())
	}
	return blockSamples
}

// pixel returns the pixel containing coord.
func (f *GeoTIFF) pixel(coord Coord) Pixel {
	fx, fy := f.transform.PixelOf(coord)
	return Pixel{
		X: int(math.Floor(fx)),
		Y: int(math.Floor(fy)),
	}
}

// getBlockSamples returns the block samples at blockCoord.
func (f *GeoTIFF) getBlockSamples(ctx context.Context, blockCoord BlockCoord) ([]float32, error) {
	// Retrieve the compressed block data.
	compressedBlockData, err := f.getCompressedBlockData(blockCoord)
	if err != nil {
		return nil, err
	}

	// Decompress the block data and decode it.
	rows := f.blockRows(blockCoord.R)
	blockData, err := f.decompressBlockData(compressedBlockData, f.blockWidth*rows*f.bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("%s: block %d,%d: %w", f.name, blockCoord.C, blockCoord.R, err)
	}
	f.undoPredictor(blockData, rows)
	blockSamples := f.decodeBlockData(blockData, rows)

	// If we do not know what an empty block looks like compressed, check to
	// see if this is an empty block, and, if so, use its bytes to detect
	// empty blocks before they are decompressed. We assume that the empty
	// block is the smallest block.
	if f.emptyBlockBytes == nil && f.compression != compressionNone &&
		len(compressedBlockData) == int(f.smallestBlockByteCount) && rows == f.blockLength {
		isEmptyBlock := true
		for _, sample := range blockSamples {
			if !math.IsNaN(float64(sample)) {
				isEmptyBlock = false
				break
			}
		}
		if isEmptyBlock {
			f.emptyBlockBytes = compressedBlockData
			return nil, otter.ErrNotFound
		}
	}

	return blockSamples, nil
}

// getBlockSamplesCached returns the block at blockCoord using f's cache.
func (f *GeoTIFF) getBlockSamplesCached(ctx context.Context, blockCoord BlockCoord) ([]float32, error) {
	return f.blockSamplesCache.Get(ctx, blockCoord, otter.LoaderFunc[BlockCoord, []float32](f.getBlockSamples))
}

// blockCoord returns the block coord for a given pixel.
func (f *GeoTIFF) blockCoord(pixel Pixel) (BlockCoord, bool) {
	if pixel.X < 0 || f.imageWidth <= pixel.X || pixel.Y < 0 || f.imageLength <= pixel.Y {
		return BlockCoord{}, false
	}
	return BlockCoord{
		C: pixel.X / f.blockWidth,
		R: pixel.Y / f.blockLength,
	}, true
}

// blockSample returns the sample from blockSamples at pixel.
func (f *GeoTIFF) blockSample(blockSamples []float32, pixel Pixel) float64 {
	return float64(blockSamples[pixel.X%f.blockWidth+(pixel.Y%f.blockLength)*f.blockWidth])
}

func dataTypeName(sampleFormat, bytesPerSample int) string {
	bits := strconv.Itoa(8 * bytesPerSample)
	switch sampleFormat {
	case sampleFormatFloat:
		return "float" + bits
	case sampleFormatInt:
		return "int" + bits
	default:
		return "uint" + bits
	}
}

func compressionName(compression int) string {
	switch compression {
	case compressionNone:
		return "none"
	case compressionLZW:
		return "lzw"
	default:
		return "deflate"
	}
}
