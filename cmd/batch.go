package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchLimit       int
	batchConcurrency int
	batchTileIDs     []string
	batchAll         bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process many tiles concurrently",
	Long:  "Processes the given tiles, or every land tile without metadata, with a bounded number of tiles in flight. A failed tile is recorded and does not stop the batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := parseTileIDs(batchTileIDs)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			ids, err = pendingTiles(ctx, env.Lookup, env.Writer, batchAll)
			if err != nil {
				return err
			}
		}
		if batchLimit > 0 && len(ids) > batchLimit {
			ids = ids[:batchLimit]
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentTiles
		}

		summary, err := env.Processor.RunBatch(ctx, ids, concurrency)
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			zap.L().Warn("some tiles failed", zap.Int64("failed", summary.Failed))
		}
		alertAfterBatch(ctx, env.Store)
		return writeJSON(cmd.OutOrStdout(), summary, true)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of tiles to process (0 for no limit)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "tiles in flight (defaults to batch.max_concurrent_tiles)")
	batchCmd.Flags().StringArrayVar(&batchTileIDs, "tile-id", nil, `tile id as "[row,col]"; repeatable`)
	batchCmd.Flags().BoolVar(&batchAll, "all", false, "reprocess tiles that already have metadata")
	rootCmd.AddCommand(batchCmd)
}
