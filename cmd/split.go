package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/export"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

var splitCmd = &cobra.Command{
	Use:   "split <dataset>",
	Short: "Write one file per value of a column",
	Long: `Groups the features of a layer by a categorical column and writes each group
to its own file named <prefix><value>.<ext>. Values are made filesystem-safe;
empty values go to "null" and names that collide get a numeric suffix.`,
	Example: `  geo-cli split municipalities --by region --format shp
  geo-cli split stops.geojson --by zone --dir out/zones --prefix stops_`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("split"); err != nil {
			return err
		}
		by, _ := cmd.Flags().GetString("by")
		if by == "" {
			return eris.New("split: --by is required")
		}
		dir, _ := cmd.Flags().GetString("dir")
		formatName, _ := cmd.Flags().GetString("format")
		prefix, _ := cmd.Flags().GetString("prefix")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		if dir == "" {
			dir = cfg.Data.OutDir
		}
		if formatName == "" {
			formatName = cfg.Export.DefaultFormat
		}
		format, err := vectorio.ParseFormat(formatName)
		if err != nil {
			return err
		}
		if concurrency == 0 {
			concurrency = cfg.Export.Concurrency
		}

		ctx := cmd.Context()
		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}

		outputs, err := export.SplitByColumn(ctx, l, export.SplitOptions{
			Column:      by,
			Dir:         dir,
			Format:      format,
			Prefix:      prefix,
			Concurrency: concurrency,
			Overwrite:   overwrite,
			Encoding:    cfg.Export.ShapefileEncoding,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "VALUE\tROWS\tFILE")
		for _, o := range outputs {
			key := o.Key
			if o.Value == nil {
				key = "(null)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", key, o.Rows, o.Path)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		zap.L().With(zap.String("command", "split")).Info("split complete",
			zap.String("column", by),
			zap.Int("files", len(outputs)),
		)
		return nil
	},
}

func init() {
	addReadFlags(splitCmd)
	splitCmd.Flags().String("by", "", "column to split on")
	splitCmd.Flags().String("dir", "", "output directory (default: data.out_dir)")
	splitCmd.Flags().String("format", "", "output format (default: export.default_format)")
	splitCmd.Flags().String("prefix", "", "file name prefix")
	splitCmd.Flags().Int("concurrency", 0, "parallel writers (default: export.concurrency)")
	splitCmd.Flags().Bool("overwrite", false, "replace existing files")
	rootCmd.AddCommand(splitCmd)
}
