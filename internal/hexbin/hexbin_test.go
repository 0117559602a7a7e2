package hexbin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

func pt(x, y float64) *geom.Point { return geom.NewPointFlat(geom.XY, []float64{x, y}) }

func sightings() *layer.Layer {
	l := layer.New("sightings", crs.WGS84(), []layer.Field{
		{Name: "species", Type: layer.String},
		{Name: "n", Type: layer.Integer},
	})
	l.Features = []*layer.Feature{
		{ID: "1", Geometry: pt(24.9384, 60.1699), Properties: map[string]any{"species": "gull", "n": int64(3)}},
		{ID: "2", Geometry: pt(24.9384, 60.1699), Properties: map[string]any{"species": "crow", "n": int64(2)}},
		{ID: "3", Geometry: pt(22.2666, 60.4518), Properties: map[string]any{"species": "gull", "n": int64(5)}},
		{ID: "4", Properties: map[string]any{"species": "owl", "n": int64(1)}},
	}
	return l
}

func TestBin_CountsAndSums(t *testing.T) {
	out, err := Bin(sightings(), BinOptions{Resolution: 6, SumColumn: "n"})
	require.NoError(t, err)

	assert.Equal(t, []string{"h3", "count", "sum_n"}, out.Columns())
	assert.Equal(t, "sightings_h3", out.Name)
	assert.True(t, out.CRS.Equal(crs.WGS84()))
	require.Equal(t, 2, out.Len())

	helsinki, err := h3.LatLngToCell(h3.LatLng{Lat: 60.1699, Lng: 24.9384}, 6)
	require.NoError(t, err)

	byCell := map[string]*layer.Feature{}
	for _, f := range out.Features {
		byCell[f.Get("h3").(string)] = f
	}
	hf := byCell[helsinki.String()]
	require.NotNil(t, hf)
	assert.Equal(t, int64(2), hf.Get("count"))
	assert.InDelta(t, 5.0, hf.Get("sum_n"), 1e-9)

	assert.Less(t, out.Features[0].Get("h3").(string), out.Features[1].Get("h3").(string))
}

func TestBin_CellGeometry(t *testing.T) {
	out, err := Bin(sightings(), BinOptions{Resolution: 8})
	require.NoError(t, err)
	assert.Equal(t, []string{"h3", "count"}, out.Columns())

	for _, f := range out.Features {
		poly, ok := f.Geometry.(*geom.Polygon)
		require.True(t, ok)
		flat := poly.FlatCoords()
		n := len(flat)
		assert.GreaterOrEqual(t, n/2, 6)
		assert.Equal(t, flat[:2], flat[n-2:], "ring is closed")
		assert.Greater(t, layer.Area(poly), 0.0)
	}
	b, ok := layer.GeometryBBox(out.Features[0].Geometry)
	require.True(t, ok)
	b2, _ := layer.GeometryBBox(out.Features[1].Geometry)
	inside := b.Contains(24.9384, 60.1699) || b2.Contains(24.9384, 60.1699)
	assert.True(t, inside)
}

func TestBin_ReprojectsFirst(t *testing.T) {
	tr, err := crs.NewTransformer(crs.WGS84(), crs.MustEPSG(3067))
	require.NoError(t, err)
	x, y, err := tr.Transform(24.9384, 60.1699)
	require.NoError(t, err)

	l := layer.New("tm35", crs.MustEPSG(3067), nil)
	l.Features = []*layer.Feature{{ID: "a", Geometry: pt(x, y), Properties: map[string]any{}}}

	out, err := Bin(l, BinOptions{Resolution: 4})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())

	want, err := h3.LatLngToCell(h3.LatLng{Lat: 60.1699, Lng: 24.9384}, 4)
	require.NoError(t, err)
	assert.Equal(t, want.String(), out.Features[0].Get("h3"))
	assert.True(t, out.CRS.IsGeographic())
}

func TestBin_MultiPointCountsEachPoint(t *testing.T) {
	l := layer.New("mp", crs.WGS84(), nil)
	mp := geom.NewMultiPointFlat(geom.XY, []float64{10, 50, 10, 50, 10, 50})
	l.Features = []*layer.Feature{{ID: "a", Geometry: mp, Properties: map[string]any{}}}
	out, err := Bin(l, BinOptions{Resolution: 3})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, int64(3), out.Features[0].Get("count"))
}

func TestBin_Errors(t *testing.T) {
	_, err := Bin(sightings(), BinOptions{Resolution: 16})
	assert.Error(t, err)
	_, err = Bin(sightings(), BinOptions{Resolution: -1})
	assert.Error(t, err)

	_, err = Bin(sightings(), BinOptions{Resolution: 5, SumColumn: "weight"})
	assert.True(t, errors.Is(err, layer.ErrNoColumn))

	polys := layer.New("areas", crs.WGS84(), nil)
	polys.Features = []*layer.Feature{{Geometry: geom.NewPolygonFlat(geom.XY,
		[]float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8}), Properties: map[string]any{}}}
	_, err = Bin(polys, BinOptions{Resolution: 5})
	assert.Error(t, err)
}

func TestBin_Empty(t *testing.T) {
	out, err := Bin(layer.New("none", crs.WGS84(), nil), BinOptions{Resolution: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}
