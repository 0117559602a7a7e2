package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/config"
	"github.com/sells-group/geo-cli/internal/datapath"
	"github.com/sells-group/geo-cli/internal/dataset"
	"github.com/sells-group/geo-cli/internal/export"
	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

// newOpener wires the catalog, the data directories and the remote fetchers.
func newOpener(c *config.Config) (*dataset.Opener, error) {
	cat, err := datapath.LoadCatalog(c.Data.Catalog)
	if err != nil {
		return nil, err
	}
	ftp := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: time.Duration(c.Fetch.FTPTimeoutSecs) * time.Second,
	})
	return &dataset.Opener{
		Resolver: &datapath.Resolver{BaseDir: c.Data.BaseDir, OutDir: c.Data.OutDir, Catalog: cat},
		Source:   fetcher.NewSource(newHTTPFetcher(c.Fetch), ftp),
		TempDir:  c.Data.TempDir,
	}, nil
}

func newHTTPFetcher(fc config.FetchConfig) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  fc.UserAgent,
		Timeout:    time.Duration(fc.TimeoutSecs) * time.Second,
		MaxRetries: fc.MaxRetries,
		RatePerSec: fc.RatePerSec,
		HostRates:  fetcher.DefaultHostRates(),
	})
}

// addReadFlags registers the flags that tune how an input is read.
func addReadFlags(cmd *cobra.Command) {
	cmd.Flags().String("layer", "", "GeoPackage table or XLSX sheet (default: catalog layer or first)")
	cmd.Flags().String("encoding", "", "shapefile code page, overriding .cpg")
	cmd.Flags().String("assign-crs", "", "CRS to assign to the input, replacing the declared one")
	cmd.Flags().String("wkt-col", "", "WKT geometry column of CSV input")
	cmd.Flags().String("x-col", "", "x/longitude column of CSV input")
	cmd.Flags().String("y-col", "", "y/latitude column of CSV input")
}

func readOptions(cmd *cobra.Command) vectorio.ReadOptions {
	var opts vectorio.ReadOptions
	opts.Layer, _ = cmd.Flags().GetString("layer")
	opts.Encoding, _ = cmd.Flags().GetString("encoding")
	opts.CRS, _ = cmd.Flags().GetString("assign-crs")
	opts.GeometryColumn, _ = cmd.Flags().GetString("wkt-col")
	opts.XColumn, _ = cmd.Flags().GetString("x-col")
	opts.YColumn, _ = cmd.Flags().GetString("y-col")
	return opts
}

// openLayer reads the dataset named by ref with the command's read flags.
func openLayer(ctx context.Context, cmd *cobra.Command, ref string) (*layer.Layer, error) {
	opener, err := newOpener(cfg)
	if err != nil {
		return nil, err
	}
	l, err := opener.OpenWith(ctx, ref, readOptions(cmd))
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", ref)
	}
	return l, nil
}

// addWriteFlags registers the output flags.
func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "", "output file (default: <out_dir>/<name>.<ext>)")
	cmd.Flags().String("format", "", "output format: shp, gpkg, geojson, csv, xlsx (default: from --out or export.default_format)")
	cmd.Flags().Bool("overwrite", false, "replace existing output")
}

// writeLayer writes l to --out, or to <out_dir>/<stem>.<ext> in the chosen
// or configured format, and returns the path written.
func writeLayer(ctx context.Context, cmd *cobra.Command, l *layer.Layer, stem string) (string, error) {
	out, _ := cmd.Flags().GetString("out")
	formatName, _ := cmd.Flags().GetString("format")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	stem = export.Sanitize(stem)

	var format vectorio.Format
	if formatName != "" {
		f, err := vectorio.ParseFormat(formatName)
		if err != nil {
			return "", err
		}
		format = f
	}
	if out == "" {
		if format == vectorio.FormatUnknown {
			f, err := vectorio.ParseFormat(cfg.Export.DefaultFormat)
			if err != nil {
				return "", err
			}
			format = f
		}
		res := datapath.Resolver{OutDir: cfg.Data.OutDir}
		out = res.OutputPath(stem, format.Ext())
	}
	if err := datapath.EnsureDir(filepath.Dir(out)); err != nil {
		return "", err
	}

	err := vectorio.Write(ctx, out, l, vectorio.WriteOptions{
		Format:    format,
		LayerName: stem,
		Encoding:  cfg.Export.ShapefileEncoding,
		Overwrite: overwrite,
	})
	if err != nil {
		return "", eris.Wrapf(err, "write %s", out)
	}
	zap.L().Info("wrote layer", zap.String("path", out), zap.Int("features", l.Len()))
	return out, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseRenames reads "old=new,old2=new2".
func parseRenames(s string) (map[string]string, error) {
	m := map[string]string{}
	for _, item := range splitAndTrim(s) {
		from, to, ok := strings.Cut(item, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, eris.Errorf("rename %q must be old=new", item)
		}
		m[from] = to
	}
	return m, nil
}
