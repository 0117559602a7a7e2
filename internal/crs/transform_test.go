package crs

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func newTestTransformer(t *testing.T, src, dst int) *Transformer {
	t.Helper()
	tr, err := NewTransformer(MustEPSG(src), MustEPSG(dst))
	require.NoError(t, err)
	return tr
}

func TestWebMercator_KnownValues(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3857)

	x, y, err := tr.Transform(180, 0)
	require.NoError(t, err)
	assert.InDelta(t, 20037508.342789244, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	_, y, err = tr.Transform(0, 85.0511287798066)
	require.NoError(t, err)
	assert.InDelta(t, 20037508.342789244, y, 1e-3)
}

func TestWebMercator_Pole(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3857)
	_, _, err := tr.Transform(0, 90)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfDomain))
}

func TestTransverseMercator_OriginMapsToFalseOrigin(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3067)
	x, y, err := tr.Transform(27, 0)
	require.NoError(t, err)
	assert.InDelta(t, 500000, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestTransverseMercator_Helsinki(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3067)
	x, y, err := tr.Transform(24.9384, 60.1699)
	require.NoError(t, err)
	assert.Greater(t, x, 380000.0)
	assert.Less(t, x, 392000.0)
	assert.Greater(t, y, 6665000.0)
	assert.Less(t, y, 6680000.0)
}

func TestTransverseMercator_MeridianArcAtOneDegree(t *testing.T) {
	// One degree of latitude along the central meridian at the equator is
	// 110574.4 m on GRS80/WGS84, scaled by k0.
	tr := newTestTransformer(t, 4326, 32631)
	_, y, err := tr.Transform(3, 1)
	require.NoError(t, err)
	assert.InDelta(t, 110574.4*0.9996, y, 1.0)
}

func TestRoundTrips(t *testing.T) {
	tests := []struct {
		code int
		pts  [][2]float64
	}{
		{3857, [][2]float64{{24.9384, 60.1699}, {-122.4, 37.8}, {151.2, -33.9}}},
		{3067, [][2]float64{{24.9384, 60.1699}, {27.5, 64.2}, {21.0, 59.8}, {29.9, 69.9}}},
		{3879, [][2]float64{{24.9384, 60.1699}, {25.6, 60.4}}},
		{3035, [][2]float64{{10, 52}, {24.9384, 60.1699}, {-3.7, 40.4}, {2.35, 48.85}}},
		{25834, [][2]float64{{21, 55}, {19.5, 50.1}}},
		{32630, [][2]float64{{-3.7, 40.4}, {-1.5, 53.8}}},
		{32736, [][2]float64{{36.8, -1.3}, {33.1, -15}}},
	}
	for _, tt := range tests {
		fwd := newTestTransformer(t, 4326, tt.code)
		inv := newTestTransformer(t, tt.code, 4326)
		for _, p := range tt.pts {
			x, y, err := fwd.Transform(p[0], p[1])
			require.NoError(t, err)
			lon, lat, err := inv.Transform(x, y)
			require.NoError(t, err)
			assert.InDelta(t, p[0], lon, 1e-6, "EPSG:%d lon", tt.code)
			assert.InDelta(t, p[1], lat, 1e-6, "EPSG:%d lat", tt.code)
		}
	}
}

func TestLAEA_CentreMapsToFalseOrigin(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3035)
	x, y, err := tr.Transform(10, 52)
	require.NoError(t, err)
	assert.InDelta(t, 4321000, x, 1e-6)
	assert.InDelta(t, 3210000, y, 1e-6)
}

func TestLAEA_FalseOriginInverse(t *testing.T) {
	tr := newTestTransformer(t, 3035, 4326)
	lon, lat, err := tr.Transform(4321000, 3210000)
	require.NoError(t, err)
	assert.InDelta(t, 10, lon, 1e-9)
	assert.InDelta(t, 52, lat, 1e-9)

	_, lat, err = tr.Transform(4321000, 3210000.001)
	require.NoError(t, err)
	assert.InDelta(t, 52, lat, 1e-6)
}

func TestTransform_NonFiniteAndFarLongitudes(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3067)
	for _, c := range [][2]float64{
		{math.Inf(1), 60},
		{math.Inf(-1), 60},
		{math.NaN(), 60},
		{25, math.NaN()},
		{1e15, 60},
		{-361, 60},
	} {
		_, _, err := tr.Transform(c[0], c[1])
		require.Error(t, err, c)
		assert.True(t, errors.Is(err, ErrOutOfDomain), c)
	}

	_, err := TransformGeometry(tr, geom.NewPointFlat(geom.XY, []float64{1e15, 60}))
	assert.True(t, errors.Is(err, ErrOutOfDomain))
}

func TestNormalizeLon(t *testing.T) {
	assert.InDelta(t, 0, normalizeLon(4*math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi/2, normalizeLon(3*math.Pi/2), 1e-12)
	assert.InDelta(t, math.Pi/4, normalizeLon(math.Pi/4-6*math.Pi), 1e-12)
}

func TestProjectedToProjected(t *testing.T) {
	tr := newTestTransformer(t, 3067, 3857)
	back := newTestTransformer(t, 3857, 3067)
	x, y, err := tr.Transform(385000, 6672000)
	require.NoError(t, err)
	x2, y2, err := back.Transform(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 385000, x2, 1e-3)
	assert.InDelta(t, 6672000, y2, 1e-3)
}

func TestIdentityTransformer(t *testing.T) {
	tr := newTestTransformer(t, 3067, 25835)
	x, y, err := tr.Transform(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 2.0, y)
}

func TestTransformGeometry(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3857)
	poly := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}, []int{10})

	out, err := TransformGeometry(tr, poly)
	require.NoError(t, err)
	p, ok := out.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, 3857, p.SRID())
	assert.InDelta(t, 111319.49, p.FlatCoords()[2], 0.01)

	// Input untouched.
	assert.Equal(t, 1.0, poly.FlatCoords()[2])
}

func TestTransformGeometry_Collection(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3857)
	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(geom.NewPointFlat(geom.XY, []float64{1, 0})))
	out, err := TransformGeometry(tr, gc)
	require.NoError(t, err)
	c := out.(*geom.GeometryCollection)
	require.Equal(t, 1, c.NumGeoms())
	assert.InDelta(t, 111319.49, c.Geom(0).FlatCoords()[0], 0.01)
}

func TestTransformGeometry_Nil(t *testing.T) {
	tr := newTestTransformer(t, 4326, 3857)
	out, err := TransformGeometry(tr, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSwapXY(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{60.17, 24.94})
	out := SwapXY(pt).(*geom.Point)
	assert.Equal(t, []float64{24.94, 60.17}, out.FlatCoords())
	assert.Equal(t, []float64{60.17, 24.94}, pt.FlatCoords())

	ls := geom.NewLineStringFlat(geom.XYZ, []float64{1, 2, 3, 4, 5, 6})
	outLS := SwapXY(ls).(*geom.LineString)
	assert.Equal(t, []float64{2, 1, 3, 5, 4, 6}, outLS.FlatCoords())
}
