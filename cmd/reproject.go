package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
)

var reprojectCmd = &cobra.Command{
	Use:   "reproject <dataset>",
	Short: "Reproject a layer to another CRS",
	Example: `  geo-cli reproject municipalities --to EPSG:4326
  geo-cli reproject stops.geojson --to 3067 -o out/stops_tm35.gpkg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("convert"); err != nil {
			return err
		}
		to, _ := cmd.Flags().GetString("to")
		if to == "" {
			return eris.New("reproject: --to is required")
		}
		target, err := crs.Parse(to)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		from := l.CRS
		out, err := l.Reproject(target)
		if err != nil {
			return err
		}

		stem := fmt.Sprintf("%s_%d", l.Name, target.EPSG)
		if target.EPSG == 0 {
			stem = l.Name + "_reprojected"
		}
		path, err := writeLayer(ctx, cmd, out, stem)
		if err != nil {
			return err
		}

		zap.L().With(zap.String("command", "reproject")).Info("reprojected layer",
			zap.String("from", from.String()),
			zap.String("to", target.String()),
			zap.Int("features", out.Len()),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reprojected %d features from %s to %s: %s\n", out.Len(), from, target, path)
		return nil
	},
}

func init() {
	addReadFlags(reprojectCmd)
	addWriteFlags(reprojectCmd)
	reprojectCmd.Flags().String("to", "", "target CRS (EPSG code, URN, proj string or WKT)")
	rootCmd.AddCommand(reprojectCmd)
}
