package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/datapath"
	"github.com/sells-group/geo-cli/internal/export"
	"github.com/sells-group/geo-cli/internal/plot"
)

var plotCmd = &cobra.Command{
	Use:   "plot <dataset>",
	Short: "Render a layer as an SVG map",
	Long: `Draws every geometry of a layer fitted to the canvas: points as circles, lines
as polylines and polygons as filled paths. With --column features are
coloured by category and a legend is drawn.`,
	Example: `  geo-cli plot municipalities --column region -o out/regions.svg
  geo-cli plot stops.geojson --to-crs EPSG:3067 --palette viridis`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("plot"); err != nil {
			return err
		}
		column, _ := cmd.Flags().GetString("column")
		out, _ := cmd.Flags().GetString("out")
		title, _ := cmd.Flags().GetString("title")
		palette, _ := cmd.Flags().GetString("palette")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		legend, _ := cmd.Flags().GetBool("legend")
		toCRS, _ := cmd.Flags().GetString("to-crs")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		if palette == "" {
			palette = cfg.Plot.Palette
		}
		if width == 0 {
			width = cfg.Plot.Width
		}
		if height == 0 {
			height = cfg.Plot.Height
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
		if title == "" {
			title = l.Name
		}

		if out == "" {
			res := datapath.Resolver{OutDir: cfg.Data.OutDir}
			out = res.OutputPath(export.Sanitize(l.Name), ".svg")
		}
		if err := datapath.EnsureDir(filepath.Dir(out)); err != nil {
			return err
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !overwrite {
			flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
		f, err := os.OpenFile(out, flags, 0o644)
		if err != nil {
			return eris.Wrapf(err, "plot: create %s", out)
		}

		err = plot.RenderSVG(f, l, plot.PlotOptions{
			Column:  column,
			Width:   width,
			Height:  height,
			Title:   title,
			Palette: palette,
			Legend:  legend,
		})
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "plot: close %s", out)
		}
		if err != nil {
			_ = os.Remove(out)
			return err
		}

		zap.L().With(zap.String("command", "plot")).Info("rendered map",
			zap.String("path", out),
			zap.Int("features", l.Len()),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rendered %d features to %s\n", l.Len(), out)
		return nil
	},
}

func init() {
	addReadFlags(plotCmd)
	plotCmd.Flags().String("column", "", "colour features by this column")
	plotCmd.Flags().StringP("out", "o", "", "SVG file (default: <out_dir>/<name>.svg)")
	plotCmd.Flags().String("title", "", "map title (default: layer name)")
	plotCmd.Flags().String("palette", "", "tableau, viridis or mono (default: plot.palette)")
	plotCmd.Flags().Int("width", 0, "canvas width in pixels (default: plot.width)")
	plotCmd.Flags().Int("height", 0, "canvas height in pixels (default: plot.height)")
	plotCmd.Flags().Bool("legend", true, "draw a legend for --column")
	plotCmd.Flags().String("to-crs", "", "reproject before drawing")
	plotCmd.Flags().Bool("overwrite", false, "replace an existing file")
	rootCmd.AddCommand(plotCmd)
}
