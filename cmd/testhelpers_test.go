package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const stopsGeoJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":"1","geometry":{"type":"Point","coordinates":[24.9414,60.1710]},"properties":{"name":"Rautatientori","zone":"A","riders":1200}},
{"type":"Feature","id":"2","geometry":{"type":"Point","coordinates":[24.9608,60.1867]},"properties":{"name":"Sörnäinen","zone":"A","riders":800}},
{"type":"Feature","id":"3","geometry":{"type":"Point","coordinates":[24.6559,60.2055]},"properties":{"name":"Espoon keskus","zone":"B","riders":500}}]}`

// Three rectangles in ETRS-TM35FIN: 150, 150 and 100 km².
const municipalitiesGeoJSON = `{"type":"FeatureCollection",
"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::3067"}},
"features":[
{"type":"Feature","id":"091","geometry":{"type":"Polygon","coordinates":[[[380000,6665000],[390000,6665000],[390000,6680000],[380000,6680000],[380000,6665000]]]},"properties":{"name":"Helsinki","region":"Uusimaa","population":674500}},
{"type":"Feature","id":"049","geometry":{"type":"Polygon","coordinates":[[[365000,6670000],[375000,6670000],[375000,6685000],[365000,6685000],[365000,6670000]]]},"properties":{"name":"Espoo","region":"Uusimaa","population":314000}},
{"type":"Feature","id":"837","geometry":{"type":"Polygon","coordinates":[[[320000,6815000],[330000,6815000],[330000,6825000],[320000,6825000],[320000,6815000]]]},"properties":{"name":"Tampere","region":"Pirkanmaa","population":255000}}]}`

const catalogYAML = `datasets:
  stops:
    path: stops.geojson
    description: HSL stops
  municipalities:
    path: municipalities.geojson
    description: Municipality rectangles
`

const configYAML = `log:
  level: error
  format: console
data:
  temp_dir: tmp
`

// workspace creates a working directory with config, catalog and data files
// and changes into it.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("config.yaml", configYAML)
	write("datasets.yaml", catalogYAML)
	write("data/stops.geojson", stopsGeoJSON)
	write("data/municipalities.geojson", municipalitiesGeoJSON)
	t.Chdir(dir)

	oldCfg := cfg
	t.Cleanup(func() { cfg = oldCfg })
	return dir
}

// runCLI executes the root command with args and returns what it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so runs do not leak into
// each other.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
