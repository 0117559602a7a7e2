package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
)

// areaUnits maps unit names to their factor from square CRS units.
var areaUnits = map[string]float64{
	"m2":  1,
	"ha":  1e-4,
	"km2": 1e-6,
}

var areaCmd = &cobra.Command{
	Use:   "area <dataset>",
	Short: "Sum polygon areas, optionally per group",
	Long: `Computes the planar area of every feature and prints the total, or one total
per value of --by. Areas are in the layer's CRS units; measure a geographic
layer in a projected CRS with --to-crs. With --out the layer is written with
an area column added.`,
	Example: `  geo-cli area municipalities --units km2
  geo-cli area parcels.gpkg --to-crs EPSG:3067 --by zoning --units ha`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unitName, _ := cmd.Flags().GetString("units")
		by, _ := cmd.Flags().GetString("by")
		toCRS, _ := cmd.Flags().GetString("to-crs")
		col, _ := cmd.Flags().GetString("column")
		out, _ := cmd.Flags().GetString("out")

		factor, ok := areaUnits[strings.ToLower(unitName)]
		if !ok {
			return eris.Errorf("area: unknown units %q (m2, ha, km2)", unitName)
		}

		ctx := cmd.Context()
		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		if toCRS != "" {
			target, err := crs.Parse(toCRS)
			if err != nil {
				return err
			}
			if l, err = l.Reproject(target); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
		if by != "" {
			groups, err := l.GroupBy(by)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s\tFEATURES\tAREA (%s)\t\n", strings.ToUpper(by), unitName)
			for _, g := range groups {
				key := g.Key
				if g.Value == nil {
					key = "(null)"
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%.3f\t\n", key, g.Layer.Len(), g.Layer.TotalArea()*factor)
			}
		}
		total := l.TotalArea()
		_, _ = fmt.Fprintf(w, "Total\t%d\t%.3f\t\n", l.Len(), total*factor)
		if err := w.Flush(); err != nil {
			return err
		}

		if out != "" {
			path, err := writeLayer(ctx, cmd, l.WithArea(col), l.Name+"_area")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		}

		zap.L().With(zap.String("command", "area")).Info("computed area",
			zap.String("crs", l.CRS.String()),
			zap.Float64("total", total),
		)
		return nil
	},
}

func init() {
	addReadFlags(areaCmd)
	addWriteFlags(areaCmd)
	areaCmd.Flags().String("units", "m2", "area units: m2, ha or km2")
	areaCmd.Flags().String("by", "", "group totals by this column")
	areaCmd.Flags().String("to-crs", "", "measure in this CRS")
	areaCmd.Flags().String("column", "area", "name of the area column written with --out")
	rootCmd.AddCommand(areaCmd)
}
