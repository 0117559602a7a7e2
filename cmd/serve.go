package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/geo-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve catalog datasets as GeoJSON over HTTP",
	Long: `Starts a read-only feature server for the datasets in the catalog:

  GET /health
  GET /layers
  GET /layers/{name}?crs=&bbox=&where=&limit=
  GET /layers/{name}/info`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opener, err := newOpener(cfg)
		if err != nil {
			return err
		}
		srv, err := server.New(opener, server.Options{
			CacheSize:   cfg.Server.CacheSize,
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port)")
	rootCmd.AddCommand(serveCmd)
}
