// Package geotiff reads and writes single-band GeoTIFF rasters.
//
// Decoding covers what population grids are published as: classic TIFF in
// either byte order, strips or tiles, no compression, LZW or Deflate, the
// horizontal and floating point predictors, and integer or float samples.
// The first band is read. Encoding always writes Deflate compressed float32
// 512x512 tiles with the floating point predictor and a NaN no-data value,
// laid out as a cloud optimized GeoTIFF.
package geotiff

import (
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
)

// TIFF tags.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8, dtSByte: 1,
	dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8, dtFloat: 4, dtDouble: 8,
}

// Compression schemes.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// Sample formats.
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// field is one decoded IFD entry.
type field struct {
	typ   uint16
	count uint32
	raw   []byte
}

// uints returns integer-typed values.
func (f field) uints(bo binary.ByteOrder) ([]uint64, error) {
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(f.raw[i])
		case dtShort:
			out[i] = uint64(bo.Uint16(f.raw[2*i:]))
		case dtLong:
			out[i] = uint64(bo.Uint32(f.raw[4*i:]))
		default:
			return nil, eris.Errorf("geotiff: field type %d is not an unsigned integer", f.typ)
		}
	}
	return out, nil
}

// floats returns values of any numeric type as float64.
func (f field) floats(bo binary.ByteOrder) ([]float64, error) {
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case dtByte, dtUndefined:
			out[i] = float64(f.raw[i])
		case dtSByte:
			out[i] = float64(int8(f.raw[i]))
		case dtShort:
			out[i] = float64(bo.Uint16(f.raw[2*i:]))
		case dtSShort:
			out[i] = float64(int16(bo.Uint16(f.raw[2*i:])))
		case dtLong:
			out[i] = float64(bo.Uint32(f.raw[4*i:]))
		case dtSLong:
			out[i] = float64(int32(bo.Uint32(f.raw[4*i:])))
		case dtRational:
			out[i] = float64(bo.Uint32(f.raw[8*i:])) / float64(bo.Uint32(f.raw[8*i+4:]))
		case dtSRational:
			out[i] = float64(int32(bo.Uint32(f.raw[8*i:]))) / float64(int32(bo.Uint32(f.raw[8*i+4:])))
		case dtFloat:
			out[i] = float64(math.Float32frombits(bo.Uint32(f.raw[4*i:])))
		case dtDouble:
			out[i] = math.Float64frombits(bo.Uint64(f.raw[8*i:]))
		default:
			return nil, eris.Errorf("geotiff: field type %d is not numeric", f.typ)
		}
	}
	return out, nil
}

// ascii returns the value of an ASCII field without its trailing NUL.
func (f field) ascii() string {
	s := f.raw
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s)
}
