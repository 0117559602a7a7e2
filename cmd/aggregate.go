package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geo-cli/internal/layer"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <dataset>",
	Short: "Reduce rows per group of a column",
	Long: `Groups rows by --by and reduces each group with col:func specs, where func is
count, sum, mean, min, max or first. Without --agg the rows per value are
counted, most frequent first. The table is printed; --out also writes it
(without geometry).`,
	Example: `  geo-cli aggregate municipalities --by region --agg population:sum,area_km2:mean
  geo-cli aggregate stops --by zone -o out/zones.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		if by == "" {
			return eris.New("aggregate: --by is required")
		}
		aggs, _ := cmd.Flags().GetString("agg")
		out, _ := cmd.Flags().GetString("out")

		specs, err := layer.ParseAggSpecs(splitAndTrim(aggs))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		var res *layer.Layer
		if len(specs) == 0 {
			res, err = valueCounts(l, by)
		} else {
			res, err = l.Aggregate(by, specs)
		}
		if err != nil {
			return err
		}

		if err := printTable(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if out != "" {
			path, err := writeLayer(ctx, cmd, res, l.Name+"_by_"+by)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		}
		return nil
	},
}

func init() {
	addReadFlags(aggregateCmd)
	addWriteFlags(aggregateCmd)
	aggregateCmd.Flags().String("by", "", "grouping column")
	aggregateCmd.Flags().String("agg", "", "comma-separated col:func reductions")
	rootCmd.AddCommand(aggregateCmd)
}

// valueCounts tabulates rows per value of col, most frequent first.
func valueCounts(l *layer.Layer, col string) (*layer.Layer, error) {
	counts, err := l.ValueCounts(col)
	if err != nil {
		return nil, err
	}
	f, _ := l.Field(col)
	out := layer.New(l.Name, nil, []layer.Field{f, {Name: "count", Type: layer.Integer, Width: 10}})
	for _, c := range counts {
		out.Features = append(out.Features, &layer.Feature{
			ID:         layer.FormatValue(c.Value),
			Properties: map[string]any{col: c.Value, "count": int64(c.Count)},
		})
	}
	return out, nil
}

// printTable writes the attribute table of l, one row per feature.
func printTable(out io.Writer, l *layer.Layer) error {
	cols := l.Columns()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = strings.ToUpper(c)
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	row := make([]string, len(cols))
	for _, f := range l.Features {
		for i, c := range cols {
			row[i] = layer.FormatValue(f.Get(c))
		}
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
