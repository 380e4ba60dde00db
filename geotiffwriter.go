package windshed

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
)

// A DataType is the sample type of a written GeoTIFF.
type DataType int

const (
	Float32 DataType = iota
	Byte
)

// TIFF field types.
const (
	fieldTypeASCII  = 2
	fieldTypeShort  = 3
	fieldTypeLong   = 4
	fieldTypeDouble = 12
)

const defaultFloat32NoData = -math.MaxFloat32

type geoTIFFWriter struct {
	tileSize  int
	noData    float64
	hasNoData bool
}

type GeoTIFFWriterOption func(*geoTIFFWriter)

// WithNoData sets the value written for missing samples.
func WithNoData(noData float64) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.noData = noData
		w.hasNoData = true
	}
}

func WithTileSize(tileSize int) GeoTIFFWriterOption {
	return func(w *geoTIFFWriter) {
		w.tileSize = tileSize
	}
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// WriteGeoTIFF writes g to w as a tiled, deflate compressed GeoTIFF.
func WriteGeoTIFF(w io.Writer, g *Grid, dataType DataType, options ...GeoTIFFWriterOption) error {
	gw := &geoTIFFWriter{
		tileSize: 256,
	}
	if dataType == Float32 {
		gw.noData = defaultFloat32NoData
		gw.hasNoData = true
	}
	for _, option := range options {
		option(gw)
	}
	if gw.tileSize <= 0 || gw.tileSize%16 != 0 {
		return errors.New("tile size must be a positive multiple of 16")
	}
	if g.Width <= 0 || g.Height <= 0 {
		return errors.New("empty grid")
	}
	if g.Transform[2] != 0 || g.Transform[4] != 0 {
		return errors.ErrUnsupported
	}

	bytesPerSample := 4
	if dataType == Byte {
		bytesPerSample = 1
	}

	// Tile data follows the 8 byte header.
	tilesAcross := (g.Width + gw.tileSize - 1) / gw.tileSize
	tilesDown := (g.Height + gw.tileSize - 1) / gw.tileSize
	var tileData bytes.Buffer
	tileOffsets := make([]uint32, 0, tilesAcross*tilesDown)
	tileByteCounts := make([]uint32, 0, tilesAcross*tilesDown)
	raw := make([]byte, gw.tileSize*gw.tileSize*bytesPerSample)
	for r := range tilesDown {
		for c := range tilesAcross {
			gw.encodeTile(raw, g, c, r, dataType)
			offset := 8 + tileData.Len()
			zw := zlib.NewWriter(&tileData)
			if _, err := zw.Write(raw); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			tileOffsets = append(tileOffsets, uint32(offset))
			tileByteCounts = append(tileByteCounts, uint32(8+tileData.Len()-offset))
		}
	}
	sampleFormat := uint16(sampleFormatFloat)
	if dataType == Byte {
		sampleFormat = sampleFormatUint
	}
	scaleX, scaleY := g.Transform.Resolution()
	entries := []ifdEntry{
		longEntry(256, uint32(g.Width)),
		longEntry(257, uint32(g.Height)),
		shortEntry(258, uint16(8*bytesPerSample)),
		shortEntry(259, compressionDeflate),
		shortEntry(262, 1),
		shortEntry(277, 1),
		shortEntry(284, 1),
		shortEntry(317, predictorNone),
		longEntry(322, uint32(gw.tileSize)),
		longEntry(323, uint32(gw.tileSize)),
		longEntry(324, tileOffsets...),
		longEntry(325, tileByteCounts...),
		shortEntry(339, sampleFormat),
		doubleEntry(33550, scaleX, scaleY, 0),
		doubleEntry(33922, 0, 0, 0, g.Transform[0], g.Transform[3], 0),
		shortEntry(34735, geoKeyDirectory(g.CRS)...),
	}
	if gw.hasNoData {
		entries = append(entries, asciiEntry(42113, strconv.FormatFloat(gw.noData, 'g', -1, 64)))
	}

	return writeTIFF(w, tileData.Bytes(), entries)
}

// writeTIFF writes a little-endian TIFF with a single IFD to w. blockData
// starts at offset 8.
func writeTIFF(w io.Writer, blockData []byte, entries []ifdEntry) error {
	padding := make([]byte, len(blockData)%2)
	ifdOffset := 8 + len(blockData) + len(padding)
	overflowOffset := ifdOffset + 2 + 12*len(entries) + 4
	var ifd, overflow bytes.Buffer
	le := binary.LittleEndian
	ifd.Write(le.AppendUint16(nil, uint16(len(entries))))
	for _, e := range entries {
		ifd.Write(le.AppendUint16(nil, e.tag))
		ifd.Write(le.AppendUint16(nil, e.typ))
		ifd.Write(le.AppendUint32(nil, e.count))
		if len(e.data) <= 4 {
			var value [4]byte
			copy(value[:], e.data)
			ifd.Write(value[:])
			continue
		}
		ifd.Write(le.AppendUint32(nil, uint32(overflowOffset+overflow.Len())))
		overflow.Write(e.data)
		if overflow.Len()%2 == 1 {
			overflow.WriteByte(0)
		}
	}
	ifd.Write(le.AppendUint32(nil, 0))

	header := []byte{'I', 'I', 42, 0}
	header = le.AppendUint32(header, uint32(ifdOffset))
	for _, b := range [][]byte{header, blockData, padding, ifd.Bytes(), overflow.Bytes()} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// WriteGeoTIFFFile writes g to a GeoTIFF at path.
func WriteGeoTIFFFile(path string, g *Grid, dataType DataType, options ...GeoTIFFWriterOption) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()
	bw := bufio.NewWriter(file)
	if err := WriteGeoTIFF(bw, g, dataType, options...); err != nil {
		return err
	}
	return bw.Flush()
}

// encodeTile encodes tile c, r of g into raw, padding with nodata.
func (gw *geoTIFFWriter) encodeTile(raw []byte, g *Grid, c, r int, dataType DataType) {
	for ty := range gw.tileSize {
		for tx := range gw.tileSize {
			x, y := c*gw.tileSize+tx, r*gw.tileSize+ty
			v := math.NaN()
			if g.In(x, y) {
				v = float64(g.At(x, y))
			}
			if math.IsNaN(v) {
				v = gw.noData
			}
			i := ty*gw.tileSize + tx
			switch dataType {
			case Byte:
				raw[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
			default:
				binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
			}
		}
	}
}

func shortEntry(tag uint16, values ...uint16) ifdEntry {
	data := make([]byte, 0, 2*len(values))
	for _, v := range values {
		data = binary.LittleEndian.AppendUint16(data, v)
	}
	return ifdEntry{tag: tag, typ: fieldTypeShort, count: uint32(len(values)), data: data}
}

func longEntry(tag uint16, values ...uint32) ifdEntry {
	data := make([]byte, 0, 4*len(values))
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	return ifdEntry{tag: tag, typ: fieldTypeLong, count: uint32(len(values)), data: data}
}

func doubleEntry(tag uint16, values ...float64) ifdEntry {
	data := make([]byte, 0, 8*len(values))
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: fieldTypeDouble, count: uint32(len(values)), data: data}
}

func asciiEntry(tag uint16, value string) ifdEntry {
	data := append([]byte(value), 0)
	return ifdEntry{tag: tag, typ: fieldTypeASCII, count: uint32(len(data)), data: data}
}
