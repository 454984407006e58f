package geotiff

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/raster"
)

// GeoTIFF keys.
const (
	keyModelType       = 1024
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	rasterPixelIsPoint  = 2
	userDefined         = 32767
)

// geoKeys holds the short-valued keys of a GeoKeyDirectory.
type geoKeys map[uint16]uint16

func (d *decoder) geoKeys() (geoKeys, error) {
	dir, ok, err := d.uints(tagGeoKeyDirectory)
	if err != nil || !ok {
		return geoKeys{}, err
	}
	if len(dir) < 4 {
		return nil, eris.New("geotiff: short GeoKeyDirectory")
	}
	n := int(dir[3])
	if len(dir) < 4+4*n {
		return nil, eris.Errorf("geotiff: GeoKeyDirectory declares %d keys, holds %d", n, (len(dir)-4)/4)
	}
	keys := make(geoKeys, n)
	for i := 0; i < n; i++ {
		k := dir[4+4*i : 8+4*i]
		// Only keys stored inline in the directory are needed.
		if k[1] == 0 {
			keys[uint16(k[0])] = uint16(k[3])
		}
	}
	return keys, nil
}

// crs resolves the EPSG reference named by the keys. User-defined or absent
// references resolve to "", which classifies as unknown downstream.
func (k geoKeys) crs() string {
	if code, ok := k[keyProjectedCSType]; ok && code != 0 && code != userDefined {
		return raster.EPSG(int(code))
	}
	if code, ok := k[keyGeographicType]; ok && code != 0 && code != userDefined {
		return raster.EPSG(int(code))
	}
	return ""
}

func (d *decoder) georeference() (raster.Grid, error) {
	keys, err := d.geoKeys()
	if err != nil {
		return raster.Grid{}, err
	}
	g := raster.Grid{Rows: d.meta.Height, Cols: d.meta.Width, CRS: keys.crs()}

	if m, ok, err := d.floats(tagModelTransformation); err != nil {
		return raster.Grid{}, err
	} else if ok {
		if len(m) < 16 {
			return raster.Grid{}, eris.New("geotiff: short ModelTransformation")
		}
		if m[1] != 0 || m[4] != 0 {
			return raster.Grid{}, eris.New("geotiff: rotated rasters are not supported")
		}
		g.CellWidth, g.OriginX = m[0], m[3]
		g.CellHeight, g.OriginY = m[5], m[7]
	} else {
		scale, okScale, err := d.floats(tagModelPixelScale)
		if err != nil {
			return raster.Grid{}, err
		}
		tie, okTie, err := d.floats(tagModelTiepoint)
		if err != nil {
			return raster.Grid{}, err
		}
		if !okScale || !okTie || len(scale) < 2 || len(tie) < 6 {
			return raster.Grid{}, eris.New("geotiff: missing georeferencing")
		}
		g.CellWidth, g.CellHeight = scale[0], -scale[1]
		g.OriginX = tie[3] - tie[0]*g.CellWidth
		g.OriginY = tie[4] - tie[1]*g.CellHeight
	}

	if keys[keyRasterType] == rasterPixelIsPoint {
		g.OriginX -= g.CellWidth / 2
		g.OriginY -= g.CellHeight / 2
	}
	if g.CellWidth == 0 || g.CellHeight == 0 {
		return raster.Grid{}, eris.New("geotiff: zero pixel size")
	}
	return g, nil
}

// geoKeyDirectory builds the key directory for an EPSG reference.
func geoKeyDirectory(crs string) ([]uint16, error) {
	code, ok := raster.EPSGCode(crs)
	if !ok {
		return nil, eris.Errorf("geotiff: reference %q has no EPSG code", crs)
	}
	kind, err := raster.Classify(crs)
	if err != nil {
		return nil, eris.Wrap(err, "geotiff: classify reference")
	}
	model, key := uint16(modelTypeProjected), uint16(keyProjectedCSType)
	if kind == raster.Geographic {
		model, key = modelTypeGeographic, keyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, model,
		keyRasterType, 0, 1, rasterPixelIsArea,
		key, 0, 1, uint16(code),
	}, nil
}
