package boundary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/db"
)

// LoadPostGIS replaces the contents of table with the territories held by l,
// one MultiPolygon row per code, so that a PostGISLookup over the same table
// answers like l. The table and its spatial index are created when missing.
func LoadPostGIS(ctx context.Context, pool db.Pool, table, codeField string, l *ShapefileLookup) (int64, error) {
	if table == "" {
		return 0, eris.New("boundary: postgis table is required")
	}
	if codeField == "" {
		codeField = DefaultCodeField
	}
	ident := db.TableIdentifier(table)
	col := strings.ToLower(codeField)
	log := zap.L().With(zap.String("component", "boundary.load"), zap.String("table", table))

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT NOT NULL,
	geom geometry(MultiPolygon, 4326) NOT NULL
)`, ident.Sanitize(), pgx.Identifier{col}.Sanitize())
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return 0, eris.Wrapf(err, "boundary: create %s", table)
	}
	index := pgx.Identifier{ident[len(ident)-1] + "_geom_idx"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)", index, ident.Sanitize())); err != nil {
		return 0, eris.Wrapf(err, "boundary: index %s", table)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", ident.Sanitize())); err != nil {
		return 0, eris.Wrapf(err, "boundary: truncate %s", table)
	}

	codes := make([]string, 0, len(l.territories))
	for code := range l.territories {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rows := make([][]any, 0, len(codes))
	for _, code := range codes {
		mp := l.territories[code]
		data, err := ewkb.Marshal(mp.SetSRID(4326), ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "boundary: encode %s", code)
		}
		rows = append(rows, []any{code, data})
	}

	n, err := pool.CopyFrom(ctx, ident, []string{col, "geom"}, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "boundary: copy into %s", table)
	}
	log.Info("boundaries loaded", zap.Int64("rows", n))
	return n, nil
}
