package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/density"
	"github.com/sells-group/dep-population/internal/output"
	"github.com/sells-group/dep-population/internal/pipeline"
	"github.com/sells-group/dep-population/internal/tile"
)

var (
	runTileID string
	runDryRun bool
)

// dryRunReport summarizes a tile built without writing it.
type dryRunReport struct {
	TileID       tile.ID            `json:"tile_id"`
	Territories  []string           `json:"territories"`
	Contributing []string           `json:"contributing"`
	Skipped      []string           `json:"skipped"`
	ValidCells   int                `json:"valid_cells"`
	Statistics   *output.Statistics `json:"statistics,omitempty"`
	AssetKey     string             `json:"asset_key"`
	ItemKey      string             `json:"item_key"`
}

// newDryRunReport describes a built tile. tl is nil when nothing contributed.
func newDryRunReport(path output.ItemPath, tl *density.CompositeTile, res *pipeline.Result) dryRunReport {
	report := dryRunReport{
		TileID:       res.TileID,
		Territories:  res.Territories,
		Contributing: res.Contributing,
		Skipped:      res.Skipped,
		AssetKey:     path.AssetKey(res.TileID, output.Band),
		ItemKey:      path.STACKey(res.TileID),
	}
	if tl != nil {
		report.ValidCells = tl.ValidCount()
		report.Statistics = output.BandStatistics(tl)
	}
	return report
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build and write one population density tile",
	Long:  "Builds the density composite for one tile and writes its GeoTIFF and STAC item. A tile no territory contributes to is logged and nothing is written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := tile.ParseID(runTileID)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if runDryRun {
			tl, res, err := env.Processor.Build(ctx, id)
			if err != nil {
				return eris.Wrap(err, "build tile")
			}
			return writeJSON(cmd.OutOrStdout(), newDryRunReport(env.Writer.Path(), tl, res), true)
		}

		res, err := env.Processor.ProcessTile(ctx, id)
		if err != nil {
			return eris.Wrap(err, "run tile")
		}

		zap.L().Info("tile complete",
			zap.String("tile_id", id.String()),
			zap.String("status", string(res.Status)),
			zap.String("asset", res.AssetKey),
		)
		return writeJSON(cmd.OutOrStdout(), res, true)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTileID, "tile-id", "", `tile id as "[row,col]" (required)`)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "build the tile and report without writing")
	_ = runCmd.MarkFlagRequired("tile-id")
	rootCmd.AddCommand(runCmd)
}
