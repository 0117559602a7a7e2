package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

var convertCmd = &cobra.Command{
	Use:   "convert <dataset>",
	Short: "Filter, reshape, reproject and write a layer",
	Long: `Reads a layer and writes it in another format. Rows are filtered with --where
first, then columns are selected, dropped and renamed, rows sorted and
truncated, and finally the geometry is reprojected with --to-crs.`,
	Example: `  geo-cli convert municipalities.shp --format gpkg
  geo-cli convert stops --where "zone in A,B" --select name,zone -o out/stops_ab.geojson
  geo-cli convert roads.gpkg --layer roads --rename kunta=municipality --to-crs EPSG:4326`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("convert"); err != nil {
			return err
		}
		ctx := cmd.Context()

		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		in := l.Len()

		l, err = transformLayer(cmd, l)
		if err != nil {
			return err
		}

		path, err := writeLayer(ctx, cmd, l, l.Name)
		if err != nil {
			return err
		}

		zap.L().With(zap.String("command", "convert")).Info("converted layer",
			zap.String("input", args[0]),
			zap.Int("read", in),
			zap.Int("written", l.Len()),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d of %d features to %s\n", l.Len(), in, path)
		return nil
	},
}

func init() {
	addReadFlags(convertCmd)
	addWriteFlags(convertCmd)
	convertCmd.Flags().String("where", "", `row filter, e.g. "population >= 10000" or "zone in A,B"`)
	convertCmd.Flags().String("select", "", "comma-separated columns to keep")
	convertCmd.Flags().String("drop", "", "comma-separated columns to remove")
	convertCmd.Flags().String("rename", "", "comma-separated old=new column renames")
	convertCmd.Flags().String("sort", "", "column to sort by")
	convertCmd.Flags().Bool("desc", false, "sort descending")
	convertCmd.Flags().Int("limit", 0, "keep only the first n rows (0 keeps all)")
	convertCmd.Flags().String("to-crs", "", "reproject to this CRS")
	rootCmd.AddCommand(convertCmd)
}

// transformLayer applies the attribute and CRS flags of convert in order.
func transformLayer(cmd *cobra.Command, l *layer.Layer) (*layer.Layer, error) {
	where, _ := cmd.Flags().GetString("where")
	sel, _ := cmd.Flags().GetString("select")
	drop, _ := cmd.Flags().GetString("drop")
	rename, _ := cmd.Flags().GetString("rename")
	sortCol, _ := cmd.Flags().GetString("sort")
	desc, _ := cmd.Flags().GetBool("desc")
	limit, _ := cmd.Flags().GetInt("limit")
	toCRS, _ := cmd.Flags().GetString("to-crs")

	var err error
	if where != "" {
		if l, err = l.Where(where); err != nil {
			return nil, err
		}
	}
	if cols := splitAndTrim(sel); len(cols) > 0 {
		if l, err = l.Select(cols...); err != nil {
			return nil, err
		}
	}
	if cols := splitAndTrim(drop); len(cols) > 0 {
		if l, err = l.Drop(cols...); err != nil {
			return nil, err
		}
	}
	if rename != "" {
		m, err := parseRenames(rename)
		if err != nil {
			return nil, err
		}
		if l, err = l.Rename(m); err != nil {
			return nil, err
		}
	}
	if sortCol != "" {
		if l, err = l.SortBy(sortCol, desc); err != nil {
			return nil, err
		}
	}
	if limit > 0 {
		l = l.Head(limit)
	}
	if toCRS != "" {
		target, err := crs.Parse(toCRS)
		if err != nil {
			return nil, err
		}
		if l, err = l.Reproject(target); err != nil {
			return nil, err
		}
	}
	return l, nil
}
