package tile

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/raster"
)

// GridSpec describes the fixed output tiling: square tiles of TileSize cells
// of Resolution units, laid out from a north-west origin in CRS.
type GridSpec struct {
	CRS        string  `yaml:"crs" mapstructure:"crs"`
	Resolution float64 `yaml:"resolution" mapstructure:"resolution"`
	TileSize   int     `yaml:"tile_size" mapstructure:"tile_size"`
	OriginX    float64 `yaml:"origin_x" mapstructure:"origin_x"`
	OriginY    float64 `yaml:"origin_y" mapstructure:"origin_y"`
}

// DefaultGridSpec is the Pacific population grid: 100 m cells in PDC
// Mercator, 96 km tiles.
func DefaultGridSpec() GridSpec {
	return GridSpec{
		CRS:        raster.EPSG3832,
		Resolution: 100,
		TileSize:   960,
		OriginX:    -3000000,
		OriginY:    4000000,
	}
}

// Validate checks the spec for usable values.
func (s GridSpec) Validate() error {
	if s.Resolution <= 0 {
		return eris.Errorf("tile: resolution must be positive, got %g", s.Resolution)
	}
	if s.TileSize <= 0 {
		return eris.Errorf("tile: tile size must be positive, got %d", s.TileSize)
	}
	kind, err := raster.Classify(s.CRS)
	if err != nil {
		return eris.Wrap(err, "tile: grid reference")
	}
	if kind != raster.Projected {
		return eris.Errorf("tile: grid reference %s must be projected", s.CRS)
	}
	return nil
}

// TileExtent returns the side length of one tile in CRS units.
func (s GridSpec) TileExtent() float64 {
	return float64(s.TileSize) * s.Resolution
}

// GridFor returns the raster grid of a tile.
func (s GridSpec) GridFor(id ID) raster.Grid {
	ext := s.TileExtent()
	return raster.Grid{
		OriginX:    s.OriginX + float64(id.Col)*ext,
		OriginY:    s.OriginY - float64(id.Row)*ext,
		CellWidth:  s.Resolution,
		CellHeight: -s.Resolution,
		Rows:       s.TileSize,
		Cols:       s.TileSize,
		CRS:        s.CRS,
	}
}

// TilesCovering returns the ids of tiles whose footprint overlaps b, which is
// expressed in the grid CRS. Tiles that only touch b along an edge are
// excluded.
func (s GridSpec) TilesCovering(b raster.Bounds) []ID {
	ext := s.TileExtent()
	if ext <= 0 || b.MaxX < b.MinX || b.MaxY < b.MinY {
		return nil
	}
	c0 := int(math.Floor((b.MinX - s.OriginX) / ext))
	c1 := int(math.Ceil((b.MaxX-s.OriginX)/ext)) - 1
	r0 := int(math.Floor((s.OriginY - b.MaxY) / ext))
	r1 := int(math.Ceil((s.OriginY-b.MinY)/ext)) - 1
	if c1 < c0 {
		c1 = c0
	}
	if r1 < r0 {
		r1 = r0
	}

	var ids []ID
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			ids = append(ids, ID{Row: r, Col: c})
		}
	}
	return ids
}

// Intersector reports which territories intersect a tile grid and the
// lon/lat extents of all territory parts.
type Intersector interface {
	TerritoriesIntersecting(ctx context.Context, grid raster.Grid) ([]string, error)
	Extents(ctx context.Context) ([]raster.Bounds, error)
}

// LandTiles returns every tile that intersects at least one territory,
// sorted by row then column.
func LandTiles(ctx context.Context, spec GridSpec, lookup Intersector) ([]ID, error) {
	extents, err := lookup.Extents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "tile: territory extents")
	}
	toGrid, err := raster.NewTransformer(raster.EPSG4326, spec.CRS)
	if err != nil {
		return nil, eris.Wrap(err, "tile: transformer")
	}

	candidates := make(map[ID]struct{})
	for _, e := range extents {
		b, err := toGrid.Bounds(e, 8)
		if err != nil {
			zap.L().Debug("tile: skipping untransformable extent", zap.Any("extent", e), zap.Error(err))
			continue
		}
		for _, id := range spec.TilesCovering(b) {
			candidates[id] = struct{}{}
		}
	}

	ids := make([]ID, 0, len(candidates))
	for id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		codes, err := lookup.TerritoriesIntersecting(ctx, spec.GridFor(id))
		if err != nil {
			return nil, eris.Wrapf(err, "tile: lookup %s", id)
		}
		if len(codes) > 0 {
			ids = append(ids, id)
		}
	}
	SortIDs(ids)
	return ids, nil
}

// SortIDs orders ids by row then column.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
