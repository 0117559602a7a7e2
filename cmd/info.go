package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/geo-cli/internal/layer"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

var infoCmd = &cobra.Command{
	Use:   "info <dataset>",
	Short: "Describe a layer",
	Long: `Prints the CRS, feature count, geometry types, bounds and fields of a layer,
with min/max/mean/sum for numeric columns. <dataset> is a catalog name, a
path under the data directory or a URL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if list, _ := cmd.Flags().GetBool("layers"); list {
			opener, err := newOpener(cfg)
			if err != nil {
				return err
			}
			path, _, err := opener.Locate(ctx, args[0])
			if err != nil {
				return err
			}
			names, err := vectorio.ListLayers(ctx, path)
			if err != nil {
				return err
			}
			for _, n := range names {
				_, _ = fmt.Fprintln(out, n)
			}
			return nil
		}

		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		s := l.Describe()

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		printSummary(out, s)
		return nil
	},
}

func init() {
	addReadFlags(infoCmd)
	infoCmd.Flags().Bool("json", false, "print the summary as JSON")
	infoCmd.Flags().Bool("layers", false, "list the layers in the file instead")
	rootCmd.AddCommand(infoCmd)
}

func printSummary(out io.Writer, s layer.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Layer:\t%s\n", s.Name)
	_, _ = fmt.Fprintf(w, "CRS:\t%s\n", s.CRS)
	_, _ = fmt.Fprintf(w, "Features:\t%d\n", s.Count)
	for _, name := range s.GeometryTypeNames() {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", name, s.GeometryTypes[name])
	}
	if s.Bounds != nil {
		b := *s.Bounds
		_, _ = fmt.Fprintf(w, "Bounds:\t%g %g %g %g\n", b[0], b[1], b[2], b[3])
	}
	_ = w.Flush()

	if len(s.Fields) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tTYPE\tMIN\tMAX\tMEAN")
	for _, f := range s.Fields {
		st, ok := s.Numeric[f.Name]
		if !ok {
			_, _ = fmt.Fprintf(w, "%s\t%s\t\t\t\n", f.Name, f.Type)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%.4g\n", f.Name, f.Type, st.Min, st.Max, st.Mean)
	}
	_ = w.Flush()
}
