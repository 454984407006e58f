package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/dep-population/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the territory population sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := source.LoadRegistry(cfg.Sources.Registry)
		if err != nil {
			return err
		}
		formatSources(cmd.OutOrStdout(), reg.Locations())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

// formatSources writes a tabular list of source locations to w.
func formatSources(out io.Writer, locs []source.Location) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tKIND\tMEMBER\tURL")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t---")
	for _, l := range locs {
		member := l.Member
		if member == "" {
			member = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Code, l.Kind, member, l.URL)
	}
	_ = w.Flush()
}
