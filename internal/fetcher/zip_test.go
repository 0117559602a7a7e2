package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractZIP_Shapefile(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"kunnat/kunnat.shp": "shp",
		"kunnat/kunnat.shx": "shx",
		"kunnat/kunnat.dbf": "dbf",
		"kunnat/kunnat.prj": "prj",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 4)

	data, err := os.ReadFile(filepath.Join(destDir, "kunnat", "kunnat.prj"))
	require.NoError(t, err)
	assert.Equal(t, "prj", string(data))
}

func TestExtractZIP_ZipSlip(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("../../escape.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("pwned"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.zip")
	require.NoError(t, writeTestFile(path, "not a zip"))

	_, err := ExtractZIP(path, t.TempDir())
	assert.Error(t, err)
}

func TestFindFileByExt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "__MACOSX"), 0o755))
	require.NoError(t, writeTestFile(filepath.Join(dir, "b", "roads.SHP"), "x"))
	require.NoError(t, writeTestFile(filepath.Join(dir, "a.shp"), "x"))
	require.NoError(t, writeTestFile(filepath.Join(dir, "._a.shp"), "x"))
	require.NoError(t, writeTestFile(filepath.Join(dir, "__MACOSX", "c.shp"), "x"))
	require.NoError(t, writeTestFile(filepath.Join(dir, "a.dbf"), "x"))

	got, err := FindFileByExt(dir, ".shp")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.shp"), filepath.Join(dir, "b", "roads.SHP")}, got)
}

func TestFindVectorFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeTestFile(filepath.Join(dir, "meta.json"), "{}"))
	require.NoError(t, writeTestFile(filepath.Join(dir, "data.gpkg"), "x"))

	got, err := FindVectorFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data.gpkg"), got)

	require.NoError(t, writeTestFile(filepath.Join(dir, "data.shp"), "x"))
	got, err = FindVectorFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data.shp"), got)

	_, err = FindVectorFile(t.TempDir())
	assert.Error(t, err)
}
