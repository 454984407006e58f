package boundary

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/db"
	"github.com/sells-group/dep-population/internal/raster"
)

// Querier is the subset of pgxpool.Pool used by PostGISLookup.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostGISLookup answers territory queries against a boundary table with a
// lon/lat (SRID 4326) geometry column named geom.
type PostGISLookup struct {
	db        Querier
	table     string
	codeField string
}

// NewPostGISLookup returns a lookup over table. The table may be schema
// qualified ("gadm.level0").
func NewPostGISLookup(q Querier, table, codeField string) (*PostGISLookup, error) {
	if table == "" {
		return nil, eris.New("boundary: postgis table is required")
	}
	if codeField == "" {
		codeField = DefaultCodeField
	}
	return &PostGISLookup{
		db:        q,
		table:     db.SanitizeTable(table),
		codeField: pgx.Identifier{strings.ToLower(codeField)}.Sanitize(),
	}, nil
}

// TerritoriesIntersecting implements Lookup.
func (l *PostGISLookup) TerritoriesIntersecting(ctx context.Context, grid raster.Grid) ([]string, error) {
	boxes, err := LonLatBoxes(grid)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s WHERE ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))`,
		l.codeField, l.table,
	)

	found := make(map[string]struct{})
	for _, b := range boxes {
		rows, err := l.db.Query(ctx, sql, b.MinX, b.MinY, b.MaxX, b.MaxY)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: query intersecting territories")
		}
		codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, eris.Wrap(err, "boundary: scan territory codes")
		}
		for _, c := range codes {
			found[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
		}
	}
	return sortedUnique(found), nil
}

// Extents implements Lookup, returning one box per polygon part.
func (l *PostGISLookup) Extents(ctx context.Context) ([]raster.Bounds, error) {
	sql := fmt.Sprintf(
		`SELECT ST_XMin(g), ST_YMin(g), ST_XMax(g), ST_YMax(g) FROM (SELECT (ST_Dump(geom)).geom AS g FROM %s) parts`,
		l.table,
	)
	rows, err := l.db.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: query territory extents")
	}
	extents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (raster.Bounds, error) {
		var b raster.Bounds
		err := row.Scan(&b.MinX, &b.MinY, &b.MaxX, &b.MaxY)
		return b, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "boundary: scan territory extents")
	}
	return extents, nil
}
