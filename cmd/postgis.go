package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/db"
	"github.com/sells-group/geo-cli/internal/postgis"
)

var postgisCmd = &cobra.Command{
	Use:   "postgis",
	Short: "Load layers into PostGIS",
}

var postgisLoadCmd = &cobra.Command{
	Use:   "load <dataset>",
	Short: "Copy a layer into a PostGIS table",
	Long: `Creates <schema>.<table> from the layer's fields with a geometry column in the
layer's SRID and copies every feature in batches. --mode create refuses an
existing table, replace truncates it first and append adds rows. Each load is
recorded in <schema>.geo_cli_loads.`,
	Example: `  geo-cli postgis load municipalities --schema gis
  geo-cli postgis load stops.geojson --table hsl_stops --mode replace`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("postgis"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		table, _ := cmd.Flags().GetString("table")
		schema, _ := cmd.Flags().GetString("schema")
		modeName, _ := cmd.Flags().GetString("mode")
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		mode, err := postgis.ParseMode(modeName)
		if err != nil {
			return err
		}
		if schema == "" {
			schema = cfg.PostGIS.Schema
		}
		if batchSize == 0 {
			batchSize = cfg.PostGIS.BatchSize
		}

		l, err := openLayer(ctx, cmd, args[0])
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, cfg.PostGIS.DatabaseURL, nil)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := postgis.Load(ctx, pool, l, postgis.LoadOptions{
			Schema:    schema,
			Table:     table,
			Mode:      mode,
			BatchSize: batchSize,
		})
		if err != nil {
			return eris.Wrap(err, "postgis load")
		}

		zap.L().With(zap.String("command", "postgis load")).Info("load complete",
			zap.String("load_id", res.ID.String()),
		)
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d rows into %s.%s (SRID %d) in %s\n",
			res.Rows, res.Schema, res.Table, res.SRID, res.Duration.Round(time.Millisecond))
		return nil
	},
}

var postgisLoadsCmd = &cobra.Command{
	Use:   "loads",
	Short: "List recorded loads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("postgis"); err != nil {
			return err
		}
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.PostGIS.Schema
		}

		ctx := cmd.Context()
		pool, err := db.Connect(ctx, cfg.PostGIS.DatabaseURL, nil)
		if err != nil {
			return err
		}
		defer pool.Close()

		recs, err := postgis.Loads(ctx, pool, schema)
		if err != nil {
			return err
		}
		return printLoads(cmd, recs)
	},
}

func init() {
	postgisCmd.PersistentFlags().String("schema", "", "target schema (default: postgis.schema)")

	addReadFlags(postgisLoadCmd)
	postgisLoadCmd.Flags().String("table", "", "table name (default: from the layer name)")
	postgisLoadCmd.Flags().String("mode", "create", "create, replace or append")
	postgisLoadCmd.Flags().Int("batch-size", 0, "rows per COPY batch (default: postgis.batch_size)")

	postgisCmd.AddCommand(postgisLoadCmd, postgisLoadsCmd)
	rootCmd.AddCommand(postgisCmd)
}

func printLoads(cmd *cobra.Command, recs []postgis.LoadRecord) error {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No loads recorded")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LOADED\tTABLE\tSOURCE\tMODE\tROWS\tSRID\tDURATION")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.LoadedAt.Format(time.DateTime), r.Table, r.Source, r.Mode, r.Rows, r.SRID,
			(time.Duration(r.DurationMs) * time.Millisecond).String())
	}
	return w.Flush()
}
