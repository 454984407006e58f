package main

import (
	"github.com/spf13/cobra"
)

var printIDsAll bool

var printIDsCmd = &cobra.Command{
	Use:   "print-ids",
	Short: "Print the tile ids still to be processed",
	Long:  "Prints a JSON array of land tile ids whose STAC item is not yet in the destination, or every land tile id with --all.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := pendingTiles(ctx, env.Lookup, env.Writer, printIDsAll)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), ids, false)
	},
}

func init() {
	printIDsCmd.Flags().BoolVar(&printIDsAll, "all", false, "include tiles that already have metadata")
	rootCmd.AddCommand(printIDsCmd)
}
