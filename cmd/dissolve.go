package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/layer"
)

var dissolveCmd = &cobra.Command{
	Use:   "dissolve <dataset>",
	Short: "Merge features sharing a column value into one multi-geometry",
	Example: `  geo-cli dissolve municipalities --by region --agg population:sum --format geojson`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("convert"); err != nil {
			return err
		}
		by, _ := cmd.Flags().GetString("by")
		if by == "" {
			return eris.New("dissolve: --by is required")
		}
		aggs, _ := cmd.Flags().GetString("agg")
		specs, err := layer.ParseAggSpecs(splitAndTrim(aggs))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		res, err := l.Dissolve(by, specs...)
		if err != nil {
			return err
		}

		path, err := writeLayer(ctx, cmd, res, l.Name+"_dissolved")
		if err != nil {
			return err
		}
		zap.L().With(zap.String("command", "dissolve")).Info("dissolved layer",
			zap.String("column", by),
			zap.Int("features", l.Len()),
			zap.Int("groups", res.Len()),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Dissolved %d features into %d by %s: %s\n", l.Len(), res.Len(), by, path)
		return nil
	},
}

func init() {
	addReadFlags(dissolveCmd)
	addWriteFlags(dissolveCmd)
	dissolveCmd.Flags().String("by", "", "column to dissolve on")
	dissolveCmd.Flags().String("agg", "", "comma-separated col:func reductions")
	rootCmd.AddCommand(dissolveCmd)
}
