package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"

	"github.com/sells-group/dep-population/internal/raster"
)

// maxFieldBytes bounds a single IFD value read from an untrusted file.
const maxFieldBytes = 1 << 28

// Metadata describes the first image of a decoded file.
type Metadata struct {
	Width         int
	Height        int
	BitsPerSample int
	SampleFormat  int
	Compression   int
	Predictor     int
	Tiled         bool
	NoData        float64
	HasNoData     bool
	Grid          raster.Grid
}

// DecodeFile decodes the GeoTIFF at path.
func DecodeFile(path string) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geotiff: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r, _, err := Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "geotiff: decode %s", path)
	}
	return r, nil
}

// Decode reads the first band of a GeoTIFF. Cells equal to the GDAL no-data
// value, and NaN cells, are invalid in the returned raster.
func Decode(r io.ReaderAt) (*raster.Raster, *Metadata, error) {
	d, err := newDecoder(r)
	if err != nil {
		return nil, nil, err
	}
	values, err := d.readPixels()
	if err != nil {
		return nil, nil, err
	}
	nodata := math.NaN()
	if d.meta.HasNoData {
		nodata = d.meta.NoData
	}
	out, err := raster.FromValues(d.meta.Grid, values, nodata)
	if err != nil {
		return nil, nil, eris.Wrap(err, "geotiff: build raster")
	}
	return out, &d.meta, nil
}

type decoder struct {
	r      io.ReaderAt
	bo     binary.ByteOrder
	fields map[uint16]field
	meta   Metadata
	spp    int
	planar int
}

func newDecoder(r io.ReaderAt) (*decoder, error) {
	head := make([]byte, 8)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, eris.Wrap(err, "geotiff: read header")
	}
	d := &decoder{r: r}
	switch string(head[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return nil, eris.New("geotiff: not a TIFF file")
	}
	switch d.bo.Uint16(head[2:]) {
	case 42:
	case 43:
		return nil, eris.New("geotiff: BigTIFF is not supported")
	default:
		return nil, eris.New("geotiff: bad TIFF magic number")
	}

	fields, err := d.readIFD(int64(d.bo.Uint32(head[4:])))
	if err != nil {
		return nil, err
	}
	d.fields = fields
	if err := d.parseMetadata(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *decoder) readIFD(off int64) (map[uint16]field, error) {
	var n [2]byte
	if _, err := d.r.ReadAt(n[:], off); err != nil {
		return nil, eris.Wrap(err, "geotiff: read IFD")
	}
	count := int(d.bo.Uint16(n[:]))
	entries := make([]byte, 12*count)
	if _, err := d.r.ReadAt(entries, off+2); err != nil {
		return nil, eris.Wrap(err, "geotiff: read IFD entries")
	}

	fields := make(map[uint16]field, count)
	for i := 0; i < count; i++ {
		e := entries[12*i : 12*i+12]
		tag := d.bo.Uint16(e[0:])
		typ := d.bo.Uint16(e[2:])
		cnt := d.bo.Uint32(e[4:])
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(cnt)
		if total > maxFieldBytes {
			return nil, eris.Errorf("geotiff: tag %d value too large", tag)
		}
		var raw []byte
		if total <= 4 {
			raw = append([]byte(nil), e[8:8+total]...)
		} else {
			raw = make([]byte, total)
			if _, err := d.r.ReadAt(raw, int64(d.bo.Uint32(e[8:]))); err != nil {
				return nil, eris.Wrapf(err, "geotiff: read tag %d", tag)
			}
		}
		fields[tag] = field{typ: typ, count: cnt, raw: raw}
	}
	return fields, nil
}

func (d *decoder) uints(tag uint16) ([]uint64, bool, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, false, nil
	}
	v, err := f.uints(d.bo)
	if err != nil {
		return nil, true, eris.Wrapf(err, "geotiff: tag %d", tag)
	}
	return v, true, nil
}

func (d *decoder) uint(tag uint16, def int) (int, error) {
	v, ok, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if !ok || len(v) == 0 {
		return def, nil
	}
	return int(v[0]), nil
}

func (d *decoder) floats(tag uint16) ([]float64, bool, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, false, nil
	}
	v, err := f.floats(d.bo)
	if err != nil {
		return nil, true, eris.Wrapf(err, "geotiff: tag %d", tag)
	}
	return v, true, nil
}

func (d *decoder) parseMetadata() error {
	m := &d.meta
	var err error
	if m.Width, err = d.uint(tagImageWidth, 0); err != nil {
		return err
	}
	if m.Height, err = d.uint(tagImageLength, 0); err != nil {
		return err
	}
	if m.Width <= 0 || m.Height <= 0 {
		return eris.New("geotiff: missing image dimensions")
	}
	if m.BitsPerSample, err = d.uint(tagBitsPerSample, 1); err != nil {
		return err
	}
	if m.SampleFormat, err = d.uint(tagSampleFormat, sampleUint); err != nil {
		return err
	}
	if m.Compression, err = d.uint(tagCompression, compressionNone); err != nil {
		return err
	}
	if m.Predictor, err = d.uint(tagPredictor, predictorNone); err != nil {
		return err
	}
	if d.spp, err = d.uint(tagSamplesPerPixel, 1); err != nil {
		return err
	}
	if d.planar, err = d.uint(tagPlanarConfiguration, 1); err != nil {
		return err
	}
	_, m.Tiled = d.fields[tagTileOffsets]

	if err := checkSampleType(m.SampleFormat, m.BitsPerSample); err != nil {
		return err
	}
	switch m.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return eris.Errorf("geotiff: unsupported compression %d", m.Compression)
	}
	switch m.Predictor {
	case predictorNone, predictorHorizontal, predictorFloatingPoint:
	default:
		return eris.Errorf("geotiff: unsupported predictor %d", m.Predictor)
	}
	if m.Predictor == predictorFloatingPoint && m.SampleFormat != sampleFloat {
		return eris.New("geotiff: floating point predictor on integer samples")
	}
	if d.spp < 1 {
		return eris.Errorf("geotiff: bad samples per pixel %d", d.spp)
	}

	if f, ok := d.fields[tagGDALNoData]; ok {
		s := strings.TrimSpace(f.ascii())
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return eris.Wrapf(err, "geotiff: GDAL_NODATA %q", s)
		}
		if m.SampleFormat == sampleFloat && m.BitsPerSample == 32 {
			v = float64(float32(v))
		}
		m.NoData, m.HasNoData = v, true
	}

	grid, err := d.georeference()
	if err != nil {
		return err
	}
	m.Grid = grid
	return nil
}

func checkSampleType(format, bits int) error {
	switch format {
	case sampleFloat:
		if bits == 32 || bits == 64 {
			return nil
		}
	case sampleUint, sampleInt:
		if bits == 8 || bits == 16 || bits == 32 {
			return nil
		}
	}
	return eris.Errorf("geotiff: unsupported sample format %d with %d bits", format, bits)
}

// chunk is one strip or tile: its pixel origin and stored size.
type chunk struct {
	x0, y0        int
	width, height int
	offset, size  uint64
}

func (d *decoder) chunks() ([]chunk, error) {
	m := d.meta
	if m.Tiled {
		tw, err := d.uint(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := d.uint(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw <= 0 || th <= 0 {
			return nil, eris.New("geotiff: missing tile dimensions")
		}
		across := (m.Width + tw - 1) / tw
		down := (m.Height + th - 1) / th
		return d.layout(tagTileOffsets, tagTileByteCounts, across*down, func(i int) chunk {
			return chunk{x0: (i % across) * tw, y0: (i / across) * th, width: tw, height: th}
		})
	}

	rps, err := d.uint(tagRowsPerStrip, m.Height)
	if err != nil {
		return nil, err
	}
	if rps <= 0 || rps > m.Height {
		rps = m.Height
	}
	n := (m.Height + rps - 1) / rps
	return d.layout(tagStripOffsets, tagStripByteCounts, n, func(i int) chunk {
		return chunk{x0: 0, y0: i * rps, width: m.Width, height: min(rps, m.Height-i*rps)}
	})
}

func (d *decoder) layout(offTag, countTag uint16, n int, at func(int) chunk) ([]chunk, error) {
	offsets, ok, err := d.uints(offTag)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Errorf("geotiff: missing tag %d", offTag)
	}
	counts, ok, err := d.uints(countTag)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Errorf("geotiff: missing tag %d", countTag)
	}
	// Planar images store the first band in the first n chunks.
	if len(offsets) < n || len(counts) < n {
		return nil, eris.Errorf("geotiff: expected %d chunks, found %d offsets and %d counts", n, len(offsets), len(counts))
	}
	out := make([]chunk, n)
	for i := range out {
		c := at(i)
		c.offset, c.size = offsets[i], counts[i]
		out[i] = c
	}
	return out, nil
}

func (d *decoder) readPixels() ([]float64, error) {
	chunks, err := d.chunks()
	if err != nil {
		return nil, err
	}
	m := d.meta
	bytesPer := m.BitsPerSample / 8
	stride := d.spp
	if d.planar == 2 {
		stride = 1
	}

	values := make([]float64, m.Width*m.Height)
	for _, c := range chunks {
		if c.size > maxFieldBytes {
			return nil, eris.Errorf("geotiff: chunk of %d bytes too large", c.size)
		}
		raw := make([]byte, c.size)
		if n, err := d.r.ReadAt(raw, int64(c.offset)); err != nil && !(errors.Is(err, io.EOF) && n == len(raw)) {
			return nil, eris.Wrap(err, "geotiff: read chunk")
		}
		rowBytes := c.width * stride * bytesPer
		need := rowBytes * c.height
		buf, err := d.decompress(raw, need)
		if err != nil {
			return nil, err
		}
		if len(buf) < need {
			return nil, eris.Errorf("geotiff: chunk has %d bytes, need %d", len(buf), need)
		}

		for row := 0; row < c.height; row++ {
			line := buf[row*rowBytes : (row+1)*rowBytes]
			d.unpredict(line, c.width*stride, stride)
			y := c.y0 + row
			if y >= m.Height {
				break
			}
			for col := 0; col < c.width; col++ {
				x := c.x0 + col
				if x >= m.Width {
					break
				}
				values[y*m.Width+x] = d.sample(line[col*stride*bytesPer:])
			}
		}
	}
	return values, nil
}

func (d *decoder) decompress(raw []byte, need int) ([]byte, error) {
	switch d.meta.Compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close() //nolint:errcheck
		out, err := io.ReadAll(rc)
		// Some writers omit the end-of-information code.
		if err != nil && len(out) < need {
			return nil, eris.Wrap(err, "geotiff: lzw")
		}
		return out, nil
	default:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrap(err, "geotiff: deflate")
		}
		defer zr.Close() //nolint:errcheck
		out, err := io.ReadAll(zr)
		if err != nil && len(out) < need {
			return nil, eris.Wrap(err, "geotiff: deflate")
		}
		return out, nil
	}
}

// unpredict reverses the predictor over one row of wc samples, interleaved
// with the given stride.
func (d *decoder) unpredict(line []byte, wc, stride int) {
	bytesPer := d.meta.BitsPerSample / 8
	switch d.meta.Predictor {
	case predictorHorizontal:
		mask := uint64(1)<<uint(d.meta.BitsPerSample) - 1
		for i := stride; i < wc; i++ {
			cur := readUint(d.bo, line[i*bytesPer:], bytesPer)
			prev := readUint(d.bo, line[(i-stride)*bytesPer:], bytesPer)
			writeUint(d.bo, line[i*bytesPer:], bytesPer, (cur+prev)&mask)
		}
	case predictorFloatingPoint:
		for i := stride; i < len(line); i++ {
			line[i] += line[i-stride]
		}
		// Bytes are stored as planes, most significant first.
		tmp := append([]byte(nil), line...)
		for i := 0; i < wc; i++ {
			var bits uint64
			for b := 0; b < bytesPer; b++ {
				bits = bits<<8 | uint64(tmp[b*wc+i])
			}
			writeUint(d.bo, line[i*bytesPer:], bytesPer, bits)
		}
	}
}

func (d *decoder) sample(p []byte) float64 {
	m := d.meta
	bytesPer := m.BitsPerSample / 8
	u := readUint(d.bo, p, bytesPer)
	switch m.SampleFormat {
	case sampleFloat:
		if bytesPer == 4 {
			return float64(math.Float32frombits(uint32(u)))
		}
		return math.Float64frombits(u)
	case sampleInt:
		shift := 64 - uint(m.BitsPerSample)
		return float64(int64(u<<shift) >> shift)
	default:
		return float64(u)
	}
}

func readUint(bo binary.ByteOrder, p []byte, n int) uint64 {
	switch n {
	case 1:
		return uint64(p[0])
	case 2:
		return uint64(bo.Uint16(p))
	case 4:
		return uint64(bo.Uint32(p))
	default:
		return bo.Uint64(p)
	}
}

func writeUint(bo binary.ByteOrder, p []byte, n int, v uint64) {
	switch n {
	case 1:
		p[0] = byte(v)
	case 2:
		bo.PutUint16(p, uint16(v))
	case 4:
		bo.PutUint32(p, uint32(v))
	default:
		bo.PutUint64(p, v)
	}
}
