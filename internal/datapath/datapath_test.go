package datapath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "kunnat.shp"), Join("data", "kunnat.shp"))
	assert.Equal(t, filepath.Join("data", "sub", "a.gpkg"), Join("data/", "./sub/../sub/a.gpkg"))
	assert.Equal(t, "/abs/file.geojson", Join("data", "/abs/file.geojson"))
	assert.Equal(t, "file.geojson", Join("", "file.geojson"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "gis", "a.shp"), Join("~/gis", "a.shp"))
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.zip"))
	assert.True(t, IsURL("ftp://ftp.example.com/pub/a.zip"))
	assert.False(t, IsURL("data/a.shp"))
	assert.False(t, IsURL("C:/data/a.shp"))
	assert.False(t, IsURL("file:///tmp/a.shp"))
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasets.yaml")
	content := `
datasets:
  districts:
    path: helsinki/districts.gpkg
    layer: osa_alue
    crs: EPSG:3879
    description: Helsinki sub-districts
  roads:
    url: https://example.com/roads.zip
  aaa:
    path: a.geojson
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "districts", "roads"}, c.Names())
	assert.Equal(t, "osa_alue", c.Datasets["districts"].Layer)
}

func TestLoadCatalog_Missing(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, c.Names())
}

func TestLoadCatalog_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasets:\n  x:\n    layer: y\n"), 0o644))
	_, err := LoadCatalog(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("datasets: [unclosed"), 0o644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t))
	require.NoError(t, err)
	r := &Resolver{BaseDir: "/srv/gis", OutDir: "/srv/out", Catalog: c}

	tg, err := r.Resolve("districts")
	require.NoError(t, err)
	assert.Equal(t, "/srv/gis/helsinki/districts.gpkg", tg.Path)
	assert.Equal(t, "osa_alue", tg.Layer)
	assert.Equal(t, "EPSG:3879", tg.CRS)
	assert.False(t, tg.Remote())

	tg, err = r.Resolve("roads")
	require.NoError(t, err)
	assert.True(t, tg.Remote())
	assert.Equal(t, "https://example.com/roads.zip", tg.URL)

	tg, err = r.Resolve("https://example.com/x.geojson")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x.geojson", tg.URL)

	tg, err = r.Resolve("kunnat.shp")
	require.NoError(t, err)
	assert.Equal(t, "/srv/gis/kunnat.shp", tg.Path)

	_, err = r.Resolve("  ")
	assert.Error(t, err)
}

func TestResolve_NoCatalog(t *testing.T) {
	r := &Resolver{BaseDir: "data"}
	tg, err := r.Resolve("districts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "districts"), tg.Path)
}

func TestOutputPathAndEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	r := &Resolver{OutDir: dir}
	assert.Equal(t, filepath.Join(dir, "result.gpkg"), r.OutputPath("result", "gpkg"))
	assert.Equal(t, filepath.Join(dir, "result.shp"), r.OutputPath("result", ".shp"))

	require.NoError(t, EnsureDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NoError(t, EnsureDir(""))
}
