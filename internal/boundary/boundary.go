// Package boundary answers which territories intersect a tile, from a GADM
// level-0 shapefile or a PostGIS table.
package boundary

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/raster"
)

// DefaultCodeField is the GADM attribute holding the ISO 3166-1 alpha-3 code.
const DefaultCodeField = "GID_0"

// Lookup reports the territories intersecting a tile grid and the lon/lat
// extents of every territory part. Codes are sorted and unique.
type Lookup interface {
	TerritoriesIntersecting(ctx context.Context, grid raster.Grid) ([]string, error)
	Extents(ctx context.Context) ([]raster.Bounds, error)
}

var transformers sync.Map // CRS string -> *raster.Transformer

func toLonLat(crs string) (*raster.Transformer, error) {
	if t, ok := transformers.Load(crs); ok {
		return t.(*raster.Transformer), nil
	}
	t, err := raster.NewTransformer(crs, raster.EPSG4326)
	if err != nil {
		return nil, err
	}
	actual, _ := transformers.LoadOrStore(crs, t)
	return actual.(*raster.Transformer), nil
}

// edgeSamples is the number of points taken along each grid edge when
// projecting a tile footprint to lon/lat.
const edgeSamples = 16

// LonLatBoxes returns the lon/lat footprint of grid as one or two boxes in
// [-180, 180]. A footprint crossing the antimeridian is split in two.
func LonLatBoxes(grid raster.Grid) ([]raster.Bounds, error) {
	t, err := toLonLat(grid.CRS)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: footprint transform")
	}
	b := grid.Bounds()

	var lons, lats []float64
	for i := 0; i <= edgeSamples; i++ {
		f := float64(i) / edgeSamples
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		for _, p := range [][2]float64{{x, b.MinY}, {x, b.MaxY}, {b.MinX, y}, {b.MaxX, y}} {
			lon, lat, err := t.Point(p[0], p[1])
			if err != nil || math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
				continue
			}
			lons = append(lons, lon)
			lats = append(lats, lat)
		}
	}
	if len(lons) == 0 {
		return nil, eris.Errorf("boundary: footprint of %s could not be transformed", grid)
	}

	ref := lons[0]
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	for i, lon := range lons {
		lon = unwrap(lon, ref)
		minLon = math.Min(minLon, lon)
		maxLon = math.Max(maxLon, lon)
		minLat = math.Min(minLat, lats[i])
		maxLat = math.Max(maxLat, lats[i])
	}
	return splitAntimeridian(minLon, minLat, maxLon, maxLat), nil
}

// unwrap shifts lon by whole turns so it lies within 180 degrees of ref.
func unwrap(lon, ref float64) float64 {
	for lon-ref > 180 {
		lon -= 360
	}
	for lon-ref < -180 {
		lon += 360
	}
	return lon
}

func splitAntimeridian(minLon, minLat, maxLon, maxLat float64) []raster.Bounds {
	minLat = math.Max(minLat, -90)
	maxLat = math.Min(maxLat, 90)
	if maxLon-minLon >= 360 {
		return []raster.Bounds{{MinX: -180, MinY: minLat, MaxX: 180, MaxY: maxLat}}
	}
	for minLon < -180 {
		minLon += 360
		maxLon += 360
	}
	for minLon >= 180 {
		minLon -= 360
		maxLon -= 360
	}
	if maxLon <= 180 {
		return []raster.Bounds{{MinX: minLon, MinY: minLat, MaxX: maxLon, MaxY: maxLat}}
	}
	return []raster.Bounds{
		{MinX: minLon, MinY: minLat, MaxX: 180, MaxY: maxLat},
		{MinX: -180, MinY: minLat, MaxX: maxLon - 360, MaxY: maxLat},
	}
}

func sortedUnique(codes map[string]struct{}) []string {
	out := make([]string, 0, len(codes))
	for c := range codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
