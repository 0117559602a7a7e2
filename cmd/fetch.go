package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url|dataset>",
	Short: "Download a remote dataset",
	Long: `Downloads an HTTP(S) or FTP dataset, or a catalog entry with a url, into the
temp directory and prints the local path. Zip archives are extracted and the
first vector file inside is reported. Existing downloads are reused unless
--refresh is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		refresh, _ := cmd.Flags().GetBool("refresh")

		opener, err := newOpener(cfg)
		if err != nil {
			return err
		}
		if dir != "" {
			opener.TempDir = dir
		}
		opener.Source.Refresh = refresh

		path, target, err := opener.Locate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !target.Remote() {
			zap.L().With(zap.String("command", "fetch")).Info("dataset is local, nothing to download",
				zap.String("path", path),
			)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("dir", "", "download directory (default: data.temp_dir)")
	fetchCmd.Flags().Bool("refresh", false, "revalidate existing downloads")
	rootCmd.AddCommand(fetchCmd)
}
