package dataset

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-cli/internal/datapath"
	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

const stopsJSON = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":"1","geometry":{"type":"Point","coordinates":[24.94,60.17]},"properties":{"name":"Rautatientori"}},
{"type":"Feature","id":"2","geometry":{"type":"Point","coordinates":[24.96,60.19]},"properties":{"name":"Sörnäinen"}}]}`

func testOpener(t *testing.T, remoteURL string) *Opener {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "stops.geojson"), []byte(stopsJSON), 0o644))
	cat := &datapath.Catalog{Datasets: map[string]datapath.Dataset{
		"stops":  {Path: "stops.geojson", Description: "HSL stops"},
		"remote": {URL: remoteURL},
	}}
	return &Opener{
		Resolver: &datapath.Resolver{BaseDir: base, Catalog: cat},
		Source: fetcher.NewSource(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			MaxRetries: 1, RatePerSec: 1000, RetryBackoff: time.Millisecond,
		}), nil),
		TempDir: t.TempDir(),
	}
}

func TestOpen_CatalogAndPath(t *testing.T) {
	o := testOpener(t, "http://example.invalid/x.geojson")
	assert.Equal(t, []string{"remote", "stops"}, o.Names())

	l, err := o.Open(context.Background(), "stops", "")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	l, err = o.Open(context.Background(), "stops.geojson", "")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	ds, ok := o.Describe("stops")
	require.True(t, ok)
	assert.Equal(t, "HSL stops", ds.Description)
}

func TestOpen_Remote(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(stopsJSON))
	}))
	defer srv.Close()

	o := testOpener(t, srv.URL+"/stops.geojson")
	l, err := o.Open(context.Background(), "remote", "")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	// The second open reuses the download.
	_, err = o.Open(context.Background(), "remote", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOpenNamed(t *testing.T) {
	o := testOpener(t, "http://example.invalid/x.geojson")
	_, err := o.OpenNamed(context.Background(), "stops.geojson")
	assert.True(t, errors.Is(err, ErrUnknownDataset))

	l, err := o.OpenNamed(context.Background(), " stops ")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
}

func TestOpen_Errors(t *testing.T) {
	o := &Opener{}
	_, err := o.Open(context.Background(), "stops", "")
	assert.Error(t, err)
	assert.Nil(t, o.Names())

	o = testOpener(t, "http://example.invalid/x.geojson")
	o.Source = nil
	_, err = o.Open(context.Background(), "remote", "")
	assert.Error(t, err)

	_, err = o.Open(context.Background(), "missing.geojson", "")
	assert.Error(t, err)
}

func TestOpenWith_OverridesCatalog(t *testing.T) {
	o := testOpener(t, "http://example.invalid/x.geojson")
	l, err := o.OpenWith(context.Background(), "stops", vectorio.ReadOptions{CRS: "EPSG:3067"})
	require.NoError(t, err)
	require.NotNil(t, l.CRS)
	assert.Equal(t, 3067, l.CRS.EPSG)
}
