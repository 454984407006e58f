// Package pipeline turns tile ids into written population-density tiles.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/density"
	"github.com/sells-group/dep-population/internal/output"
	"github.com/sells-group/dep-population/internal/raster"
	"github.com/sells-group/dep-population/internal/resample"
	"github.com/sells-group/dep-population/internal/store"
	"github.com/sells-group/dep-population/internal/tile"
)

// Lookup finds the territories intersecting a tile.
type Lookup interface {
	TerritoriesIntersecting(ctx context.Context, grid raster.Grid) ([]string, error)
}

// CountSource returns a territory's population counts, or nil when none are
// available.
type CountSource interface {
	FetchCounts(ctx context.Context, code string) (*raster.Raster, error)
}

// TileWriter persists a finished tile and its STAC item.
type TileWriter interface {
	WriteTile(ctx context.Context, id tile.ID, t *density.CompositeTile) (string, error)
	WriteItem(ctx context.Context, id tile.ID, item *output.Item) (string, error)
}

// Ledger records task outcomes.
type Ledger interface {
	CreateTask(ctx context.Context, tileID string) (*store.Task, error)
	FinishTask(ctx context.Context, taskID string, outcome store.TaskOutcome) error
}

// Processor produces tiles. It holds no per-tile state, so one Processor
// serves concurrent ProcessTile calls.
type Processor struct {
	spec     tile.GridSpec
	lookup   Lookup
	source   CountSource
	writer   TileWriter
	ledger   Ledger
	itemPath output.ItemPath
	now      func() time.Time
}

// Options configures a Processor. Ledger is optional.
type Options struct {
	Spec     tile.GridSpec
	Lookup   Lookup
	Source   CountSource
	Writer   TileWriter
	Ledger   Ledger
	ItemPath output.ItemPath
}

// New creates a Processor.
func New(opts Options) (*Processor, error) {
	if err := opts.Spec.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: grid")
	}
	if opts.Lookup == nil || opts.Source == nil || opts.Writer == nil {
		return nil, eris.New("pipeline: lookup, source and writer are required")
	}
	return &Processor{
		spec:     opts.Spec,
		lookup:   opts.Lookup,
		source:   opts.Source,
		writer:   opts.Writer,
		ledger:   opts.Ledger,
		itemPath: opts.ItemPath,
		now:      time.Now,
	}, nil
}

// Result describes one processed tile.
type Result struct {
	TileID       tile.ID          `json:"tile_id"`
	Status       store.TaskStatus `json:"status"`
	Territories  []string         `json:"territories"`            // intersecting the tile
	Contributing []string         `json:"contributing"`           // produced valid density cells
	Skipped      []string         `json:"skipped,omitempty"`      // no source, unusable reference or no overlap
	AssetKey     string           `json:"asset_key,omitempty"`
	ItemKey      string           `json:"item_key,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

// ProcessTile builds and writes one tile. A tile that no territory
// contributes to is reported with status empty and nothing is written.
func (p *Processor) ProcessTile(ctx context.Context, id tile.ID) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("tile_id", id.String()))

	var task *store.Task
	if p.ledger != nil {
		t, err := p.ledger.CreateTask(ctx, id.String())
		if err != nil {
			log.Warn("pipeline: failed to create task", zap.Error(err))
		} else {
			task = t
		}
	}

	res, err := p.process(ctx, id, log)
	if res == nil {
		res = &Result{TileID: id}
	}
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = store.TaskFailed
	}

	if task != nil {
		outcome := store.TaskOutcome{Status: res.Status, Territories: res.Contributing}
		if err != nil {
			outcome.Error = err.Error()
		}
		if ferr := p.ledger.FinishTask(ctx, task.ID, outcome); ferr != nil {
			log.Warn("pipeline: failed to finish task", zap.Error(ferr))
		}
	}

	if err != nil {
		log.Error("pipeline: tile failed", zap.Duration("duration", res.Duration), zap.Error(err))
		return res, err
	}
	log.Info("pipeline: tile done",
		zap.String("status", string(res.Status)),
		zap.Strings("territories", res.Contributing),
		zap.Strings("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *Processor) process(ctx context.Context, id tile.ID, log *zap.Logger) (*Result, error) {
	tl, res, err := p.Build(ctx, id)
	if err != nil {
		return res, err
	}
	if tl == nil {
		res.Status = store.TaskEmpty
		log.Info("pipeline: no contributions, nothing written")
		return res, nil
	}

	res.AssetKey, err = p.writer.WriteTile(ctx, id, tl)
	if err != nil {
		return res, eris.Wrapf(err, "pipeline: write tile %s", id)
	}
	item, err := output.BuildItem(p.itemPath, id, tl, p.now())
	if err != nil {
		return res, eris.Wrapf(err, "pipeline: build item %s", id)
	}
	res.ItemKey, err = p.writer.WriteItem(ctx, id, item)
	if err != nil {
		return res, eris.Wrapf(err, "pipeline: write item %s", id)
	}
	res.Status = store.TaskComplete
	return res, nil
}

// Build computes a tile's composite without writing it. The tile is nil when
// no territory contributes.
func (p *Processor) Build(ctx context.Context, id tile.ID) (*density.CompositeTile, *Result, error) {
	grid := p.spec.GridFor(id)
	res := &Result{TileID: id}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("tile_id", id.String()))

	codes, err := p.lookup.TerritoriesIntersecting(ctx, grid)
	if err != nil {
		return nil, res, eris.Wrapf(err, "pipeline: territories for %s", id)
	}
	res.Territories = codes

	var layers []*raster.Raster
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		layer, err := p.territoryDensity(ctx, code, grid)
		if err != nil {
			if density.IsDomainError(err) {
				log.Warn("pipeline: skipping territory with unusable reference",
					zap.String("territory", code), zap.Error(err))
				res.Skipped = append(res.Skipped, code)
				continue
			}
			return nil, res, eris.Wrapf(err, "pipeline: territory %s", code)
		}
		if layer == nil {
			res.Skipped = append(res.Skipped, code)
			continue
		}
		layers = append(layers, layer)
		res.Contributing = append(res.Contributing, code)
	}

	tl, err := density.Composite(grid, layers)
	if errors.Is(err, density.ErrNoContributions) {
		return nil, res, nil
	}
	if err != nil {
		return nil, res, eris.Wrapf(err, "pipeline: composite %s", id)
	}
	return tl, res, nil
}

// territoryDensity returns one territory's density on the tile grid, or nil
// when the territory has no source or no valid cells inside the tile.
func (p *Processor) territoryDensity(ctx context.Context, code string, grid raster.Grid) (*raster.Raster, error) {
	log := zap.L().With(zap.String("territory", code), zap.Stringer("grid", grid))

	counts, err := p.source.FetchCounts(ctx, code)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		log.Info("pipeline: no source for territory")
		return nil, nil
	}

	counts, err = cropToTile(counts, grid)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		log.Debug("pipeline: territory raster misses tile")
		return nil, nil
	}

	// Counts become densities on their own grid; only densities are resampled.
	dens, err := density.PopulationDensity(counts)
	if err != nil {
		return nil, err
	}
	onTile, err := resample.Reproject(dens, grid)
	if err != nil {
		return nil, eris.Wrap(err, "reproject density")
	}
	if onTile.ValidCount() == 0 {
		log.Debug("pipeline: no valid density cells in tile")
		return nil, nil
	}
	return onTile, nil
}
