package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/spatial"
)

var sjoinCmd = &cobra.Command{
	Use:   "sjoin <left> <right>",
	Short: "Attach the attributes of related features from another layer",
	Long: `Joins the right layer's attributes onto every left feature that relates to a
right feature by --predicate (intersects, within or contains). An inner join
keeps only matched left features; a left join keeps all of them. The right
layer is reprojected to the left layer's CRS when they differ.`,
	Example: `  geo-cli sjoin stops municipalities --predicate within --prefix kunta_
  geo-cli sjoin parcels.gpkg zoning.gpkg --how left -o out/parcels_zoned.gpkg`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("convert"); err != nil {
			return err
		}
		howName, _ := cmd.Flags().GetString("how")
		predName, _ := cmd.Flags().GetString("predicate")
		prefix, _ := cmd.Flags().GetString("prefix")

		how, err := spatial.ParseHow(howName)
		if err != nil {
			return err
		}
		pred, err := spatial.ParsePredicate(predName)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		left, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		right, err := openLayer(ctx, cmd, args[1])
		if err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "sjoin"))
		if left.CRS != nil && right.CRS != nil && !left.CRS.Equal(right.CRS) {
			log.Info("reprojecting right layer",
				zap.String("from", right.CRS.String()),
				zap.String("to", left.CRS.String()),
			)
			if right, err = right.Reproject(left.CRS); err != nil {
				return err
			}
		}

		joined, err := spatial.Join(left, right, spatial.JoinOptions{
			How:         how,
			Predicate:   pred,
			RightPrefix: prefix,
		})
		if err != nil {
			return err
		}

		path, err := writeLayer(ctx, cmd, joined, left.Name+"_"+right.Name)
		if err != nil {
			return err
		}
		log.Info("joined layers",
			zap.Int("left", left.Len()),
			zap.Int("right", right.Len()),
			zap.Int("rows", joined.Len()),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Joined %d rows (%s %s) to %s\n", joined.Len(), how, pred, path)
		return nil
	},
}

func init() {
	addReadFlags(sjoinCmd)
	addWriteFlags(sjoinCmd)
	sjoinCmd.Flags().String("how", "inner", "join type: inner or left")
	sjoinCmd.Flags().String("predicate", "intersects", "spatial predicate: intersects, within or contains")
	sjoinCmd.Flags().String("prefix", "", "prefix for the right layer's columns")
	rootCmd.AddCommand(sjoinCmd)
}
