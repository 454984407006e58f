package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/raster"
)

// tileSize is the block edge of the internal tiling, the GDAL COG default.
const tileSize = 512

var le = binary.LittleEndian

// EncodeRaster writes r as a float32 GeoTIFF, invalid cells as NaN.
func EncodeRaster(w io.Writer, r *raster.Raster) error {
	values := make([]float32, len(r.Data))
	for i, v := range r.Data {
		if r.Valid[i] {
			values[i] = float32(v)
		} else {
			values[i] = float32(math.NaN())
		}
	}
	return Encode(w, r.Grid, values)
}

// Encode writes row-major float32 values on grid as a Deflate compressed,
// internally tiled GeoTIFF with GDAL_NODATA set to nan. The file is laid out
// as a cloud optimized GeoTIFF: the IFD and its values come first and the
// tiles follow in row-major order. Edge tiles are padded with NaN. The grid
// reference must be an EPSG code.
func Encode(w io.Writer, grid raster.Grid, values []float32) error {
	if grid.Empty() {
		return eris.New("geotiff: cannot encode an empty grid")
	}
	if len(values) != grid.Len() {
		return eris.Errorf("geotiff: %d values for %dx%d grid", len(values), grid.Rows, grid.Cols)
	}
	keys, err := geoKeyDirectory(grid.CRS)
	if err != nil {
		return err
	}

	tiles, err := encodeTiles(grid, values)
	if err != nil {
		return err
	}
	counts := make([]uint32, len(tiles))
	for i, t := range tiles {
		counts[i] = uint32(len(t))
	}

	scaleY := -grid.CellHeight
	entriesWith := func(offsets []uint32) []entry {
		return []entry{
			longEntry(tagImageWidth, uint32(grid.Cols)),
			longEntry(tagImageLength, uint32(grid.Rows)),
			shortEntry(tagBitsPerSample, 32),
			shortEntry(tagCompression, compressionDeflate),
			shortEntry(tagPhotometric, 1),
			shortEntry(tagSamplesPerPixel, 1),
			shortEntry(tagPlanarConfiguration, 1),
			shortEntry(tagPredictor, predictorFloatingPoint),
			shortEntry(tagTileWidth, tileSize),
			shortEntry(tagTileLength, tileSize),
			longEntry(tagTileOffsets, offsets...),
			longEntry(tagTileByteCounts, counts...),
			shortEntry(tagSampleFormat, sampleFloat),
			doubleEntry(tagModelPixelScale, grid.CellWidth, scaleY, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, grid.OriginX, grid.OriginY, 0),
			shortEntry(tagGeoKeyDirectory, keys...),
			asciiEntry(tagGDALNoData, "nan"),
		}
	}

	const ifdOffset = 8
	offsets := make([]uint32, len(tiles))
	pos := uint32(ifdOffset + ifdSize(entriesWith(offsets)))
	for i, t := range tiles {
		offsets[i] = pos
		pos += uint32(len(t))
	}

	var buf bytes.Buffer
	head := make([]byte, 8)
	copy(head, "II")
	le.PutUint16(head[2:], 42)
	le.PutUint32(head[4:], ifdOffset)
	buf.Write(head)
	writeIFD(&buf, le, ifdOffset, entriesWith(offsets))
	for _, t := range tiles {
		buf.Write(t)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return eris.Wrap(err, "geotiff: write")
	}
	return nil
}

// encodeTiles cuts values into tileSize blocks, row-major over the grid.
func encodeTiles(grid raster.Grid, values []float32) ([][]byte, error) {
	across := (grid.Cols + tileSize - 1) / tileSize
	down := (grid.Rows + tileSize - 1) / tileSize
	nan := float32(math.NaN())

	tiles := make([][]byte, 0, across*down)
	block := make([]float32, tileSize*tileSize)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			for r := 0; r < tileSize; r++ {
				y := ty*tileSize + r
				for c := 0; c < tileSize; c++ {
					x := tx*tileSize + c
					if y < grid.Rows && x < grid.Cols {
						block[r*tileSize+c] = values[y*grid.Cols+x]
					} else {
						block[r*tileSize+c] = nan
					}
				}
			}
			t, err := encodeBlock(block, tileSize)
			if err != nil {
				return nil, err
			}
			tiles = append(tiles, t)
		}
	}
	return tiles, nil
}

// encodeBlock applies the floating point predictor row by row and deflates
// the result.
func encodeBlock(values []float32, cols int) ([]byte, error) {
	const bytesPer = 4
	raw := make([]byte, len(values)*bytesPer)
	for row := 0; row*cols < len(values); row++ {
		line := raw[row*cols*bytesPer : (row+1)*cols*bytesPer]
		for i, v := range values[row*cols : (row+1)*cols] {
			bits := math.Float32bits(v)
			for b := 0; b < bytesPer; b++ {
				line[b*cols+i] = byte(bits >> (8 * uint(bytesPer-1-b)))
			}
		}
		for i := len(line) - 1; i > 0; i-- {
			line[i] -= line[i-1]
		}
	}

	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(raw); err != nil {
		return nil, eris.Wrap(err, "geotiff: deflate tile")
	}
	if err := zw.Close(); err != nil {
		return nil, eris.Wrap(err, "geotiff: deflate tile")
	}
	return out.Bytes(), nil
}

type entry struct {
	tag    uint16
	typ    uint16
	values any
}

func shortEntry(tag uint16, vs ...uint16) entry { return entry{tag, dtShort, vs} }
func longEntry(tag uint16, vs ...uint32) entry { return entry{tag, dtLong, vs} }
func doubleEntry(tag uint16, vs ...float64) entry { return entry{tag, dtDouble, vs} }
func asciiEntry(tag uint16, s string) entry { return entry{tag, dtASCII, s} }

func (e entry) encode(bo binary.ByteOrder) (count uint32, data []byte) {
	switch vs := e.values.(type) {
	case []uint16:
		data = make([]byte, 2*len(vs))
		for i, v := range vs {
			bo.PutUint16(data[2*i:], v)
		}
		return uint32(len(vs)), data
	case []uint32:
		data = make([]byte, 4*len(vs))
		for i, v := range vs {
			bo.PutUint32(data[4*i:], v)
		}
		return uint32(len(vs)), data
	case []float64:
		data = make([]byte, 8*len(vs))
		for i, v := range vs {
			bo.PutUint64(data[8*i:], math.Float64bits(v))
		}
		return uint32(len(vs)), data
	case string:
		data = append([]byte(vs), 0)
		return uint32(len(data)), data
	}
	return 0, nil
}

// ifdSize is the number of bytes writeIFD emits for entries.
func ifdSize(entries []entry) int {
	n := 2 + 12*len(entries) + 4
	for _, e := range entries {
		_, data := e.encode(le)
		if len(data) > 4 {
			n += len(data) + len(data)%2
		}
	}
	return n
}

// writeIFD appends an IFD at offset, followed by the values that do not fit
// inline.
func writeIFD(buf *bytes.Buffer, bo binary.ByteOrder, offset uint32, entries []entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	extra := offset + 2 + 12*uint32(len(entries)) + 4
	var tail bytes.Buffer
	ifd := make([]byte, 2+12*len(entries)+4)
	bo.PutUint16(ifd, uint16(len(entries)))
	for i, e := range entries {
		count, data := e.encode(bo)
		p := ifd[2+12*i:]
		bo.PutUint16(p[0:], e.tag)
		bo.PutUint16(p[2:], e.typ)
		bo.PutUint32(p[4:], count)
		if len(data) <= 4 {
			copy(p[8:12], data)
			continue
		}
		bo.PutUint32(p[8:], extra+uint32(tail.Len()))
		tail.Write(data)
		if tail.Len()%2 == 1 {
			tail.WriteByte(0)
		}
	}
	buf.Write(ifd)
	buf.Write(tail.Bytes())
}
