package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/boundary"
	"github.com/sells-group/dep-population/internal/db"
)

var boundariesSource string

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage territory boundaries",
}

var boundariesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a boundary shapefile into PostGIS",
	Long:  "Reads a GADM level-0 shapefile (local .shp/.zip or URL) and replaces boundaries.table in boundaries.database_url with one MultiPolygon per territory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		b := cfg.Boundaries
		if b.DatabaseURL == "" {
			return eris.New("boundaries load: boundaries.database_url is required")
		}
		src := boundariesSource
		if src == "" {
			src = b.Path
		}

		path, err := boundary.ResolveShapefile(ctx, newFetcher(nil), src, b.CacheDir)
		if err != nil {
			return err
		}
		l, err := boundary.LoadShapefile(path, boundary.ShapefileOptions{CodeField: b.CodeField})
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, b.DatabaseURL, &db.PoolConfig{MaxConns: b.MaxConns})
		if err != nil {
			return eris.Wrap(err, "connect boundaries database")
		}
		defer pool.Close()

		n, err := boundary.LoadPostGIS(ctx, pool, b.Table, b.CodeField, l)
		if err != nil {
			return err
		}
		zap.L().Info("boundaries load complete",
			zap.String("source", src),
			zap.String("table", b.Table),
			zap.Int64("territories", n),
		)
		return nil
	},
}

func init() {
	boundariesLoadCmd.Flags().StringVar(&boundariesSource, "source", "", "shapefile path or URL (defaults to boundaries.path)")
	boundariesCmd.AddCommand(boundariesLoadCmd)
	rootCmd.AddCommand(boundariesCmd)
}
