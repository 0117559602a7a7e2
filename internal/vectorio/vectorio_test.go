package vectorio

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

// municipalities returns a two-feature polygon layer in ETRS-TM35FIN. The
// first polygon has a 2x2 hole.
func municipalities() *layer.Layer {
	l := layer.New("kunnat", crs.MustEPSG(3067), []layer.Field{
		{Name: "name", Type: layer.String},
		{Name: "pop", Type: layer.Integer},
		{Name: "density", Type: layer.Float},
		{Name: "coastal", Type: layer.Bool},
		{Name: "founded", Type: layer.Date},
	})
	withHole := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		2, 2, 2, 4, 4, 4, 4, 2, 2, 2,
	}, []int{10, 20}).SetSRID(3067)
	square := geom.NewPolygonFlat(geom.XY, []float64{20, 0, 25, 0, 25, 5, 20, 5, 20, 0}, []int{10}).SetSRID(3067)

	l.Features = []*layer.Feature{
		{ID: "1", Geometry: withHole, Properties: map[string]any{
			"name": "Hämeenlinna", "pop": int64(68000), "density": 37.5, "coastal": false,
			"founded": time.Date(1639, 1, 19, 0, 0, 0, 0, time.UTC),
		}},
		{ID: "2", Geometry: square, Properties: map[string]any{
			"name": "Hanko", "pop": int64(8000), "density": 68.25, "coastal": true, "founded": nil,
		}},
	}
	return l
}

func points() *layer.Layer {
	l := layer.New("stops", crs.WGS84(), []layer.Field{{Name: "stop", Type: layer.String}, {Name: "lines", Type: layer.Integer}})
	l.Features = []*layer.Feature{
		{ID: "1", Geometry: geom.NewPointFlat(geom.XY, []float64{24.94, 60.17}).SetSRID(4326), Properties: map[string]any{"stop": "Rautatientori", "lines": int64(12)}},
		{ID: "2", Geometry: geom.NewPointFlat(geom.XY, []float64{24.93, 60.19}).SetSRID(4326), Properties: map[string]any{"stop": "Töölön tori", "lines": int64(3)}},
	}
	return l
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"shp": Shapefile, "ESRI Shapefile": Shapefile, "gpkg": GeoPackage, "GeoPackage": GeoPackage,
		"geojson": GeoJSON, "json": GeoJSON, "csv": CSV, "xlsx": XLSX,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("kml")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestDetectFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"a/kunnat.shp": Shapefile, "kunnat.ZIP": Shapefile, "x.gpkg": GeoPackage, "x.geojson": GeoJSON,
		"x.json": GeoJSON, "x.csv": CSV, "x.tsv": CSV, "x.xlsx": XLSX,
	} {
		got, err := DetectFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := DetectFormat("x.kml")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
	assert.Equal(t, ".gpkg", GeoPackage.Ext())
	assert.Equal(t, "", FormatUnknown.Ext())
}

func TestGeoJSON_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kunnat.geojson")
	require.NoError(t, Write(ctx, path, municipalities(), WriteOptions{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::3067"}}`)
	assert.Less(t, strings.Index(string(data), `"name":"Hämeenlinna"`), strings.Index(string(data), `"pop":68000`))

	l, err := Read(ctx, path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "kunnat", l.Name)
	assert.Equal(t, 3067, l.CRS.EPSG)
	assert.Equal(t, []string{"name", "pop", "density", "coastal", "founded"}, l.Columns())
	require.Equal(t, 2, l.Len())

	f := l.Features[0]
	assert.Equal(t, "Hämeenlinna", f.Get("name"))
	assert.Equal(t, int64(68000), f.Get("pop"))
	assert.Equal(t, 37.5, f.Get("density"))
	assert.Equal(t, false, f.Get("coastal"))
	assert.Equal(t, "1639-01-19", f.Get("founded"))
	assert.InDelta(t, 96.0, layer.Area(f.Geometry), 1e-9)
	assert.Nil(t, l.Features[1].Get("founded"))

	fld, ok := l.Field("density")
	require.True(t, ok)
	assert.Equal(t, layer.Float, fld.Type)
}

func TestGeoJSON_Exists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stops.geojson")
	require.NoError(t, Write(ctx, path, points(), WriteOptions{}))

	err := Write(ctx, path, points(), WriteOptions{})
	assert.True(t, errors.Is(err, ErrExists))
	assert.NoError(t, Write(ctx, path, points(), WriteOptions{Overwrite: true}))
}

func TestReadGeoJSON_Variants(t *testing.T) {
	l, err := ReadGeoJSON(strings.NewReader(`{"type":"Point","coordinates":[24.9,60.2]}`), "bare")
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, 4326, l.CRS.EPSG)
	assert.Equal(t, "bare", l.Name)
	assert.IsType(t, &geom.Point{}, l.Features[0].Geometry)

	l, err = ReadGeoJSON(strings.NewReader(`{"type":"Feature","id":7,"geometry":null,"properties":{"v":1}}`), "one")
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "7", l.Features[0].ID)
	assert.Nil(t, l.Features[0].Geometry)

	// Integers in a column that also holds floats become floats.
	l, err = ReadGeoJSON(strings.NewReader(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":null,"properties":{"v":1,"s":null}},
		{"type":"Feature","geometry":null,"properties":{"v":2.5,"s":"x"}}]}`), "mixed")
	require.NoError(t, err)
	fld, _ := l.Field("v")
	assert.Equal(t, layer.Float, fld.Type)
	assert.Equal(t, 1.0, l.Features[0].Get("v"))
	fld, _ = l.Field("s")
	assert.Equal(t, layer.String, fld.Type)

	_, err = ReadGeoJSON(strings.NewReader(`{"features":[]}`), "x")
	assert.Error(t, err)
}

func TestShapefile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kunnat.shp")
	require.NoError(t, Write(ctx, path, municipalities(), WriteOptions{}))

	for _, ext := range []string{".shx", ".dbf", ".prj", ".cpg"} {
		assert.FileExists(t, sidecar(path, ext))
	}

	l, err := Read(ctx, path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "kunnat", l.Name)
	require.NotNil(t, l.CRS)
	assert.Equal(t, 3067, l.CRS.EPSG)
	require.Equal(t, 2, l.Len())

	f := l.Features[0]
	assert.Equal(t, "Hämeenlinna", f.Get("name"))
	assert.Equal(t, int64(68000), f.Get("pop"))
	assert.InDelta(t, 37.5, f.Get("density"), 1e-9)
	assert.Equal(t, false, f.Get("coastal"))
	founded, ok := f.Get("founded").(time.Time)
	require.True(t, ok)
	assert.True(t, founded.Equal(time.Date(1639, 1, 19, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, l.Features[1].Get("founded"))
	assert.Equal(t, true, l.Features[1].Get("coastal"))

	poly, ok := f.Geometry.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, 2, poly.NumLinearRings())
	assert.InDelta(t, 96.0, layer.Area(poly), 1e-9)
	// Shells come back counter-clockwise, holes clockwise.
	assert.True(t, layer.CounterClockwise(poly.LinearRing(0)))
	assert.False(t, layer.CounterClockwise(poly.LinearRing(1)))
	assert.Equal(t, 3067, poly.SRID())
}

func TestShapefile_UpperCaseExtension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "KUNNAT.SHP")
	require.NoError(t, Write(ctx, path, municipalities(), WriteOptions{}))

	for _, name := range []string{"KUNNAT.shp", "KUNNAT.shx", "KUNNAT.dbf", "KUNNAT.prj", "KUNNAT.cpg"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "KUNNAT.SHP.prj"))

	l, err := Read(ctx, filepath.Join(dir, "KUNNAT.shp"), ReadOptions{})
	require.NoError(t, err)
	require.NotNil(t, l.CRS)
	assert.Equal(t, 3067, l.CRS.EPSG)
	assert.Equal(t, "Hämeenlinna", l.Features[0].Get("name"))
}

func TestShapefile_ReadsUpperCaseSet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, Write(ctx, filepath.Join(dir, "kunnat.shp"), municipalities(), WriteOptions{}))
	for _, ext := range []string{"shp", "shx", "dbf", "prj", "cpg"} {
		require.NoError(t, os.Rename(filepath.Join(dir, "kunnat."+ext), filepath.Join(dir, "KUNNAT."+strings.ToUpper(ext))))
	}

	l, err := Read(ctx, filepath.Join(dir, "KUNNAT.SHP"), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "KUNNAT", l.Name)
	require.NotNil(t, l.CRS)
	assert.Equal(t, 3067, l.CRS.EPSG)
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "Hämeenlinna", l.Features[0].Get("name"))
}

func TestFindSidecar_UpperCase(t *testing.T) {
	dir := t.TempDir()
	shpPath := filepath.Join(dir, "TIET.shp")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TIET.PRJ"), []byte("x"), 0o644))
	assert.Equal(t, filepath.Join(dir, "TIET.PRJ"), findSidecar(shpPath, ".prj"))
	assert.Equal(t, filepath.Join(dir, "TIET.cpg"), findSidecar(shpPath, ".cpg"))
	assert.Equal(t, filepath.Join(dir, "TIET.dbf"), sidecar(filepath.Join(dir, "TIET.SHP"), ".dbf"))
}

func TestShapefile_Encoding(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kunnat.shp")
	require.NoError(t, Write(ctx, path, municipalities(), WriteOptions{Encoding: "cp1252"}))

	dbf, err := os.ReadFile(sidecar(path, ".dbf"))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(dbf, []byte("H\xe4meenlinna")))
	cpg, err := os.ReadFile(sidecar(path, ".cpg"))
	require.NoError(t, err)
	assert.Equal(t, "cp1252", string(cpg))

	l, err := Read(ctx, path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hämeenlinna", l.Features[0].Get("name"))

	// Forcing the wrong code page decodes the bytes differently.
	l, err = Read(ctx, path, ReadOptions{Encoding: "cp866"})
	require.NoError(t, err)
	assert.NotEqual(t, "Hämeenlinna", l.Features[0].Get("name"))
}

func TestShapefile_FieldNames(t *testing.T) {
	assert.Equal(t,
		[]string{"population", "populatio1", "name", "kuntanumer"},
		dbfFieldNames([]string{"population_total", "population_male", "name", "kuntanumero"}))

	l := layer.New("t", crs.MustEPSG(3067), []layer.Field{{Name: "population_total", Type: layer.Integer}})
	l.Features = []*layer.Feature{{ID: "1", Geometry: geom.NewPointFlat(geom.XY, []float64{1, 2}), Properties: map[string]any{"population_total": int64(5)}}}
	path := filepath.Join(t.TempDir(), "t.shp")
	require.NoError(t, Write(context.Background(), path, l, WriteOptions{}))

	got, err := Read(context.Background(), path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"population"}, got.Columns())
	assert.Equal(t, int64(5), got.Features[0].Get("population"))
}

func TestShapefile_RejectsMixedGeometry(t *testing.T) {
	l := municipalities()
	l.Features[1].Geometry = geom.NewPointFlat(geom.XY, []float64{1, 1})
	err := Write(context.Background(), filepath.Join(t.TempDir(), "mixed.shp"), l, WriteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixes")
}

func TestGeoPackage_Layers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.gpkg")
	require.NoError(t, Write(ctx, path, municipalities(), WriteOptions{}))
	require.NoError(t, Write(ctx, path, points(), WriteOptions{}))

	names, err := ListLayers(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"kunnat", "stops"}, names)

	l, err := Read(ctx, path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "kunnat", l.Name)
	assert.Equal(t, 3067, l.CRS.EPSG)
	require.Equal(t, 2, l.Len())
	f := l.Features[0]
	assert.Equal(t, "Hämeenlinna", f.Get("name"))
	assert.Equal(t, int64(68000), f.Get("pop"))
	assert.Equal(t, 37.5, f.Get("density"))
	assert.Equal(t, false, f.Get("coastal"))
	assert.InDelta(t, 96.0, layer.Area(f.Geometry), 1e-9)
	founded, ok := f.Get("founded").(time.Time)
	require.True(t, ok)
	assert.Equal(t, 1639, founded.Year())

	stops, err := Read(ctx, path, ReadOptions{Layer: "stops"})
	require.NoError(t, err)
	assert.Equal(t, 4326, stops.CRS.EPSG)
	assert.Equal(t, "Töölön tori", stops.Features[1].Get("stop"))
	assert.Equal(t, []float64{24.93, 60.19}, stops.Features[1].Geometry.FlatCoords())

	_, err = Read(ctx, path, ReadOptions{Layer: "missing"})
	assert.True(t, errors.Is(err, ErrLayerNotFound))

	err = Write(ctx, path, points(), WriteOptions{})
	assert.True(t, errors.Is(err, ErrExists))

	renamed := points()
	renamed.Features = renamed.Features[:1]
	require.NoError(t, Write(ctx, path, renamed, WriteOptions{Overwrite: true}))
	stops, err = Read(ctx, path, ReadOptions{Layer: "stops"})
	require.NoError(t, err)
	assert.Equal(t, 1, stops.Len())
}

func TestGPKGGeometry_RoundTrip(t *testing.T) {
	g := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 3, 4})
	blob, err := encodeGPKGGeometry(g, 3067)
	require.NoError(t, err)
	assert.Equal(t, "GP", string(blob[:2]))

	back, err := decodeGPKGGeometry(blob)
	require.NoError(t, err)
	assert.Equal(t, g.FlatCoords(), back.FlatCoords())
}

func TestCSV_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kunnat.csv")
	require.NoError(t, Write(ctx, path, municipalities(), WriteOptions{}))

	l, err := Read(ctx, path, ReadOptions{CRS: "EPSG:3067"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "pop", "density", "coastal", "founded"}, l.Columns())
	assert.Equal(t, int64(68000), l.Features[0].Get("pop"))
	assert.Equal(t, "Hanko", l.Features[1].Get("name"))
	assert.Equal(t, 3067, l.CRS.EPSG)
	assert.InDelta(t, 96.0, layer.Area(l.Features[0].Geometry), 1e-9)
}

func TestCSV_XYColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stops.csv")
	data := "\ufeffstop,lon,lat\nRautatientori,24.94,60.17\nTyhjä,,\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	l, err := Read(context.Background(), path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"stop"}, l.Columns())
	assert.Equal(t, 4326, l.CRS.EPSG)
	require.Equal(t, 2, l.Len())
	assert.Equal(t, []float64{24.94, 60.17}, l.Features[0].Geometry.FlatCoords())
	assert.Nil(t, l.Features[1].Geometry)

	_, err = Read(context.Background(), path, ReadOptions{XColumn: "x", YColumn: "y"})
	assert.True(t, errors.Is(err, layer.ErrNoColumn))
}

func TestXLSX_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stops.xlsx")
	require.NoError(t, Write(ctx, path, points(), WriteOptions{}))

	l, err := Read(ctx, path, ReadOptions{Layer: "stops", CRS: "4326"})
	require.NoError(t, err)
	assert.Equal(t, []string{"stop", "lines"}, l.Columns())
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "Töölön tori", l.Features[1].Get("stop"))
	assert.Equal(t, int64(12), l.Features[0].Get("lines"))
	assert.Equal(t, []float64{24.94, 60.17}, l.Features[0].Geometry.FlatCoords())
}

func TestRead_Zip(t *testing.T) {
	dir := t.TempDir()
	var gj bytes.Buffer
	require.NoError(t, WriteGeoJSON(&gj, points()))

	zipPath := filepath.Join(dir, "stops.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("data/stops.geojson")
	require.NoError(t, err)
	_, err = w.Write(gj.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	l, err := Read(context.Background(), zipPath, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, "Rautatientori", l.Features[0].Get("stop"))
}

func TestWrite_ZipRejected(t *testing.T) {
	err := Write(context.Background(), filepath.Join(t.TempDir(), "x.zip"), points(), WriteOptions{})
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestListLayers_SingleLayerFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stops.geojson")
	require.NoError(t, Write(context.Background(), path, points(), WriteOptions{}))
	names, err := ListLayers(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"stops"}, names)
}

func TestCodePage(t *testing.T) {
	e, err := codePage("UTF-8")
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = codePage("1252")
	require.NoError(t, err)
	assert.Equal(t, "Ä", decodeString(e, "\xc4"))
	assert.Equal(t, "\xc4", encodeString(e, "Ä"))

	_, err = codePage("no-such-charset")
	assert.Error(t, err)
}
