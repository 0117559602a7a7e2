package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the datasets in the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opener, err := newOpener(cfg)
		if err != nil {
			return err
		}
		names := opener.Names()
		if len(names) == 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No datasets in %s\n", cfg.Data.Catalog)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tSOURCE\tLAYER\tCRS\tDESCRIPTION")
		for _, n := range names {
			ds, _ := opener.Describe(n)
			src := ds.Path
			if ds.URL != "" {
				src = ds.URL
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n, src, ds.Layer, ds.CRS, ds.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
