package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geo-cli",
	Short: "Geospatial vector data toolkit",
	Long: `Loads Shapefile, GeoPackage, GeoJSON and CSV layers from the data directory,
a dataset catalog, a URL or a WFS service; inspects, filters, groups and
reprojects them; and writes files, PostGIS tables, SVG maps or serves them
as GeoJSON.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			c.Data.BaseDir = dir
		}
		if dir, _ := cmd.Flags().GetString("out-dir"); dir != "" {
			c.Data.OutDir = dir
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "base data directory (default: data.base_dir)")
	rootCmd.PersistentFlags().String("out-dir", "", "output directory (default: data.out_dir)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
