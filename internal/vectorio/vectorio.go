// Package vectorio reads and writes vector layers in the supported file
// formats: ESRI Shapefile (plain or zipped), GeoPackage, GeoJSON, CSV with a
// WKT or X/Y geometry, and XLSX attribute exports.
package vectorio

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
)

// Sentinel errors.
var (
	ErrUnknownFormat = eris.New("vectorio: unknown format")
	ErrLayerNotFound = eris.New("vectorio: layer not found")
	ErrExists        = eris.New("vectorio: output exists")
)

// Format is a vector file format.
type Format int

// Formats.
const (
	FormatUnknown Format = iota
	Shapefile
	GeoPackage
	GeoJSON
	CSV
	XLSX
)

func (f Format) String() string {
	switch f {
	case Shapefile:
		return "shp"
	case GeoPackage:
		return "gpkg"
	case GeoJSON:
		return "geojson"
	case CSV:
		return "csv"
	case XLSX:
		return "xlsx"
	}
	return "unknown"
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + f.String()
}

// ParseFormat maps a user-facing format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "shp", "shapefile", "esri shapefile":
		return Shapefile, nil
	case "gpkg", "geopackage":
		return GeoPackage, nil
	case "geojson", "json":
		return GeoJSON, nil
	case "csv":
		return CSV, nil
	case "xlsx", "excel":
		return XLSX, nil
	}
	return FormatUnknown, eris.Wrapf(ErrUnknownFormat, "vectorio: format %q", name)
}

// DetectFormat picks the format from a file extension. Zip archives are
// treated as zipped shapefiles.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp", ".zip":
		return Shapefile, nil
	case ".gpkg":
		return GeoPackage, nil
	case ".geojson", ".json":
		return GeoJSON, nil
	case ".csv", ".tsv":
		return CSV, nil
	case ".xlsx":
		return XLSX, nil
	}
	return FormatUnknown, eris.Wrapf(ErrUnknownFormat, "vectorio: cannot detect format of %s", path)
}

// ReadOptions tunes Read.
type ReadOptions struct {
	// Layer selects a GeoPackage table; the first feature table by default.
	Layer string
	// Encoding overrides the shapefile code page (.cpg).
	Encoding string
	// CRS assigns a CRS, replacing whatever the file declares.
	CRS string
	// GeometryColumn is the WKT column of CSV and XLSX input.
	GeometryColumn string
	// XColumn and YColumn build points from coordinate columns.
	XColumn string
	YColumn string
}

// WriteOptions tunes Write.
type WriteOptions struct {
	// Format overrides extension detection.
	Format Format
	// LayerName names the GeoPackage table or XLSX sheet.
	LayerName string
	// Encoding is the shapefile code page, UTF-8 by default.
	Encoding string
	// Overwrite replaces existing outputs.
	Overwrite bool
}

// Read loads a layer from path.
func Read(ctx context.Context, path string, opts ReadOptions) (*layer.Layer, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "vectorio: read")
	}
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return readZip(ctx, path, opts)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var l *layer.Layer
	switch format {
	case Shapefile:
		l, err = readShapefile(path, opts)
	case GeoPackage:
		l, err = readGeoPackage(ctx, path, opts)
	case GeoJSON:
		l, err = readGeoJSONFile(path)
	case CSV:
		l, err = readCSV(ctx, path, opts)
	case XLSX:
		l, err = readXLSX(path, opts)
	}
	if err != nil {
		return nil, err
	}

	if opts.CRS != "" {
		c, err := crs.Parse(opts.CRS)
		if err != nil {
			return nil, eris.Wrap(err, "vectorio: crs override")
		}
		l.CRS = c
		for _, f := range l.Features {
			if f.Geometry != nil {
				f.Geometry = crs.SetSRID(f.Geometry, c.EPSG)
			}
		}
	}

	zap.L().Debug("vectorio: read layer",
		zap.String("path", path),
		zap.String("format", format.String()),
		zap.String("layer", l.Name),
		zap.Int("features", l.Len()),
		zap.String("crs", l.CRS.String()),
	)
	return l, nil
}

// readZip extracts an archive to a temporary directory and reads the first
// vector file inside it.
func readZip(ctx context.Context, path string, opts ReadOptions) (*layer.Layer, error) {
	dir, err := os.MkdirTemp("", "geo-cli-zip-*")
	if err != nil {
		return nil, eris.Wrap(err, "vectorio: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	if _, err := fetcher.ExtractZIP(path, dir); err != nil {
		return nil, eris.Wrapf(err, "vectorio: extract %s", path)
	}
	inner, err := fetcher.FindVectorFile(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: %s", path)
	}
	l, err := Read(ctx, inner, opts)
	if err != nil {
		return nil, err
	}
	if l.Name == "" {
		l.Name = stem(path)
	}
	return l, nil
}

// Write stores a layer at path.
func Write(ctx context.Context, path string, l *layer.Layer, opts WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "vectorio: write")
	}
	format := opts.Format
	if format == FormatUnknown {
		f, err := DetectFormat(path)
		if err != nil {
			return err
		}
		format = f
	}
	if format == Shapefile && strings.EqualFold(filepath.Ext(path), ".zip") {
		return eris.Wrap(ErrUnknownFormat, "vectorio: writing zipped shapefiles is not supported")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "vectorio: create directory %s", dir)
		}
	}

	var err error
	switch format {
	case Shapefile:
		err = writeShapefile(path, l, opts)
	case GeoPackage:
		err = writeGeoPackage(ctx, path, l, opts)
	case GeoJSON:
		err = writeGeoJSONFile(path, l, opts)
	case CSV:
		err = writeCSV(path, l, opts)
	case XLSX:
		err = writeXLSX(path, l, opts)
	default:
		err = eris.Wrapf(ErrUnknownFormat, "vectorio: format %d", format)
	}
	if err != nil {
		return err
	}

	zap.L().Debug("vectorio: wrote layer",
		zap.String("path", path),
		zap.String("format", format.String()),
		zap.Int("features", l.Len()),
	)
	return nil
}

// ListLayers names the layers in a file. Single-layer formats return the
// file stem.
func ListLayers(ctx context.Context, path string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == GeoPackage {
		return listGeoPackageLayers(ctx, path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "vectorio: stat %s", path)
	}
	return []string{stem(path)}, nil
}

// checkOverwrite fails when any of paths exists and overwrite is off, and
// removes them when it is on.
func checkOverwrite(overwrite bool, paths ...string) error {
	for _, p := range paths {
		_, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return eris.Wrapf(err, "vectorio: stat %s", p)
		}
		if !overwrite {
			return eris.Wrapf(ErrExists, "vectorio: %s (use overwrite)", p)
		}
		if err := os.Remove(p); err != nil {
			return eris.Wrapf(err, "vectorio: remove %s", p)
		}
	}
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
