package vectorio

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
)

// Column names recognised when no geometry column is configured.
var (
	wktColumnNames = []string{"geometry", "wkt", "geom", "the_geom"}
	xyColumnNames  = [][2]string{
		{"x", "y"},
		{"lon", "lat"},
		{"lng", "lat"},
		{"longitude", "latitude"},
		{"easting", "northing"},
	}
)

func readCSV(ctx context.Context, path string, opts ReadOptions) (*layer.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	csvOpts := fetcher.CSVOptions{Delimiter: ',', LazyQuotes: true}
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		csvOpts.Delimiter = '\t'
	}
	rowCh, errCh := fetcher.StreamCSV(ctx, bufio.NewReader(f), csvOpts)

	var header []string
	var rows [][]string
	for row := range rowCh {
		if header == nil {
			header = row
			continue
		}
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "vectorio: read %s", path)
	}
	if header == nil {
		return nil, eris.Errorf("vectorio: %s is empty", path)
	}
	return tableLayer(stem(path), header, rows, opts)
}

// tableLayer builds a layer from a header and text rows, taking geometry
// from a WKT column or a pair of coordinate columns.
func tableLayer(name string, header []string, rows [][]string, opts ReadOptions) (*layer.Layer, error) {
	index := make(map[string]int, len(header))
	lower := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
		lower[strings.ToLower(strings.TrimSpace(h))] = i
	}
	lookup := func(col string) (int, bool) {
		if i, ok := index[col]; ok {
			return i, true
		}
		i, ok := lower[strings.ToLower(col)]
		return i, ok
	}

	wktCol, xCol, yCol := -1, -1, -1
	switch {
	case opts.GeometryColumn != "":
		i, ok := lookup(opts.GeometryColumn)
		if !ok {
			return nil, eris.Wrapf(layer.ErrNoColumn, "vectorio: geometry column %q", opts.GeometryColumn)
		}
		wktCol = i
	case opts.XColumn != "" || opts.YColumn != "":
		xi, okX := lookup(opts.XColumn)
		yi, okY := lookup(opts.YColumn)
		if !okX || !okY {
			return nil, eris.Wrapf(layer.ErrNoColumn, "vectorio: coordinate columns %q/%q", opts.XColumn, opts.YColumn)
		}
		xCol, yCol = xi, yi
	default:
		for _, n := range wktColumnNames {
			if i, ok := lower[n]; ok {
				wktCol = i
				break
			}
		}
		if wktCol < 0 {
			for _, pair := range xyColumnNames {
				xi, okX := lower[pair[0]]
				yi, okY := lower[pair[1]]
				if okX && okY {
					xCol, yCol = xi, yi
					break
				}
			}
		}
	}

	var c *crs.CRS
	if xCol >= 0 {
		if h := strings.ToLower(header[xCol]); h == "lon" || h == "lng" || h == "longitude" {
			c = crs.WGS84()
		}
	}
	srid := 0
	if c != nil {
		srid = c.EPSG
	}

	var attrCols []int
	for i := range header {
		if i != wktCol && i != xCol && i != yCol {
			attrCols = append(attrCols, i)
		}
	}
	cell := func(row []string, i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	l := layer.New(name, c, nil)
	for _, i := range attrCols {
		samples := make([]string, len(rows))
		for r, row := range rows {
			samples[r] = cell(row, i)
		}
		t := layer.InferType(samples)
		if t == layer.Date {
			t = layer.String
		}
		l.Fields = append(l.Fields, layer.Field{Name: header[i], Type: t})
	}

	for r, row := range rows {
		feat := &layer.Feature{ID: strconv.Itoa(r + 1), Properties: make(map[string]any, len(attrCols))}
		for k, i := range attrCols {
			fld := l.Fields[k]
			v, err := layer.ParseValue(cell(row, i), fld.Type)
			if err != nil {
				return nil, eris.Wrapf(err, "vectorio: row %d column %s", r+1, fld.Name)
			}
			feat.Properties[fld.Name] = v
		}

		switch {
		case wktCol >= 0:
			if s := strings.TrimSpace(cell(row, wktCol)); s != "" {
				g, err := wkt.Unmarshal(s)
				if err != nil {
					return nil, eris.Wrapf(err, "vectorio: row %d geometry", r+1)
				}
				feat.Geometry = crs.SetSRID(g, srid)
			}
		case xCol >= 0:
			xs, ys := strings.TrimSpace(cell(row, xCol)), strings.TrimSpace(cell(row, yCol))
			if xs != "" && ys != "" {
				x, errX := strconv.ParseFloat(xs, 64)
				y, errY := strconv.ParseFloat(ys, 64)
				if errX != nil || errY != nil {
					return nil, eris.Errorf("vectorio: row %d coordinates %q, %q", r+1, xs, ys)
				}
				feat.Geometry = geom.NewPointFlat(geom.XY, []float64{x, y}).SetSRID(srid)
			}
		}
		l.Features = append(l.Features, feat)
	}
	return l, nil
}

// geometryColumnName picks a WKT column name that does not clash with an
// attribute.
func geometryColumnName(l *layer.Layer) string {
	for _, n := range []string{"geometry", "wkt", "geometry_wkt"} {
		if _, taken := l.Field(n); !taken {
			return n
		}
	}
	return "_geometry"
}

func geometryWKT(g geom.T) (string, error) {
	if g == nil {
		return "", nil
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		return "", eris.Wrapf(err, "vectorio: encode %s as wkt", layer.TypeName(g))
	}
	return s, nil
}

func writeCSV(path string, l *layer.Layer, opts WriteOptions) error {
	if err := checkOverwrite(opts.Overwrite, path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "vectorio: create %s", path)
	}
	w := csv.NewWriter(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		w.Comma = '\t'
	}

	header := append(l.Columns(), geometryColumnName(l))
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "vectorio: write header %s", path)
	}
	record := make([]string, len(header))
	for _, feat := range l.Features {
		for i, fld := range l.Fields {
			record[i] = layer.FormatValue(feat.Get(fld.Name))
		}
		s, err := geometryWKT(feat.Geometry)
		if err != nil {
			_ = f.Close()
			return err
		}
		record[len(record)-1] = s
		if err := w.Write(record); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "vectorio: write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "vectorio: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "vectorio: close %s", path)
}
