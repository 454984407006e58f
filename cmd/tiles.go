package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dep-population/internal/tile"
)

// existsConcurrency bounds parallel metadata existence checks.
const existsConcurrency = 16

// itemChecker reports whether a tile's metadata has been written.
type itemChecker interface {
	ItemExists(ctx context.Context, id tile.ID) (bool, error)
}

// pendingTiles returns the land tiles whose metadata does not yet exist, or
// every land tile when all is set.
func pendingTiles(ctx context.Context, lookup tile.Intersector, items itemChecker, all bool) ([]tile.ID, error) {
	ids, err := tile.LandTiles(ctx, cfg.Grid, lookup)
	if err != nil {
		return nil, eris.Wrap(err, "list land tiles")
	}
	if all {
		return ids, nil
	}

	done := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(existsConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			ok, err := items.ItemExists(gctx, id)
			if err != nil {
				return eris.Wrapf(err, "check %s", id)
			}
			done[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pending := make([]tile.ID, 0, len(ids))
	for i, id := range ids {
		if !done[i] {
			pending = append(pending, id)
		}
	}
	zap.L().Info("tiles listed",
		zap.Int("land", len(ids)),
		zap.Int("pending", len(pending)),
	)
	return pending, nil
}

// parseTileIDs parses "[row,col]" strings.
func parseTileIDs(raw []string) ([]tile.ID, error) {
	ids := make([]tile.ID, 0, len(raw))
	for _, s := range raw {
		id, err := tile.ParseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
