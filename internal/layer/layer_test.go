package layer

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-cli/internal/crs"
)

func square(x, y, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		x, y, x + size, y, x + size, y + size, x, y + size, x, y,
	}, []int{10}).SetSRID(3067)
}

func testLayer() *Layer {
	l := New("districts", crs.MustEPSG(3067), []Field{
		{Name: "kunta", Type: String, Width: 40},
		{Name: "pop", Type: Integer, Width: 10},
		{Name: "kind", Type: String, Width: 10},
	})
	rows := []struct {
		kunta string
		pop   int64
		kind  any
		size  float64
	}{
		{"Helsinki", 1000, "urban", 10},
		{"Espoo", 500, "urban", 20},
		{"Helsinki", 250, "rural", 5},
		{"Vantaa", 300, nil, 2},
	}
	for i, r := range rows {
		l.Features = append(l.Features, &Feature{
			ID:       string(rune('a' + i)),
			Geometry: square(float64(i*100), 0, r.size),
			Properties: map[string]any{
				"kunta": r.kunta, "pop": r.pop, "kind": r.kind,
			},
		})
	}
	return l
}

func TestSelect(t *testing.T) {
	l := testLayer()
	out, err := l.Select("pop", "kunta")
	require.NoError(t, err)
	assert.Equal(t, []string{"pop", "kunta"}, out.Columns())
	assert.NotContains(t, out.Features[0].Properties, "kind")
	assert.Equal(t, 3, len(l.Fields), "input untouched")

	_, err = l.Select("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoColumn))
}

func TestDrop(t *testing.T) {
	out, err := testLayer().Drop("kind")
	require.NoError(t, err)
	assert.Equal(t, []string{"kunta", "pop"}, out.Columns())
}

func TestRename(t *testing.T) {
	l := testLayer()
	out, err := l.Rename(map[string]string{"kunta": "municipality"})
	require.NoError(t, err)
	assert.Equal(t, []string{"municipality", "pop", "kind"}, out.Columns())
	assert.Equal(t, "Helsinki", out.Features[0].Get("municipality"))
	assert.Nil(t, out.Features[0].Get("kunta"))
	assert.Equal(t, "Helsinki", l.Features[0].Get("kunta"))

	_, err = l.Rename(map[string]string{"kunta": "pop"})
	assert.Error(t, err, "collision")

	_, err = l.Rename(map[string]string{"nope": "x"})
	assert.True(t, errors.Is(err, ErrNoColumn))
}

func TestWhere(t *testing.T) {
	l := testLayer()
	tests := []struct {
		expr string
		want int
	}{
		{"kunta = Helsinki", 2},
		{"kunta == 'Helsinki'", 2},
		{"kunta != Helsinki", 2},
		{"pop >= 500", 2},
		{"pop < 300", 1},
		{"pop<>300", 3},
		{"kunta in Espoo,Vantaa", 2},
		{"kunta not in (Espoo, Vantaa)", 2},
		{"kind = null", 1},
		{"kind > a", 3},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := l.Where(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Len())
		})
	}

	_, err := l.Where("nonsense")
	assert.Error(t, err)
	_, err = l.Where("missing = 1")
	assert.True(t, errors.Is(err, ErrNoColumn))
}

func TestToFloat_NonFiniteText(t *testing.T) {
	for _, s := range []string{"NaN", "nan", " Inf ", "-Infinity", "+inf"} {
		_, ok := ToFloat(s)
		assert.False(t, ok, s)
	}
	f, ok := ToFloat(" 2.5 ")
	require.True(t, ok)
	assert.Equal(t, 2.5, f)
	_, ok = ToFloat(float32(math.NaN()))
	assert.False(t, ok)

	assert.NotEqual(t, 0, Compare("NaN", "1"))
	assert.NotEqual(t, 0, Compare("NaN", int64(7)))

	l := New("codes", nil, []Field{{Name: "v", Type: String}})
	for i, v := range []string{"NaN", "1", "Inf"} {
		l.Features = append(l.Features, &Feature{ID: strconv.Itoa(i), Properties: map[string]any{"v": v}})
	}
	out, err := l.Where("v = 1")
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "1", out.Features[0].Get("v"))

	out, err = testLayer().Where("pop = nan")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestSortBy(t *testing.T) {
	out, err := testLayer().SortBy("pop", true)
	require.NoError(t, err)
	var pops []any
	for _, f := range out.Features {
		pops = append(pops, f.Get("pop"))
	}
	assert.Equal(t, []any{int64(1000), int64(500), int64(300), int64(250)}, pops)
}

func TestUniqueAndValueCounts(t *testing.T) {
	l := testLayer()
	u, err := l.Unique("kunta")
	require.NoError(t, err)
	assert.Equal(t, []any{"Helsinki", "Espoo", "Vantaa"}, u)

	vc, err := l.ValueCounts("kunta")
	require.NoError(t, err)
	require.Len(t, vc, 3)
	assert.Equal(t, ValueCount{Value: "Helsinki", Count: 2}, vc[0])
	assert.Equal(t, "Espoo", vc[1].Value)
}

func TestGroupBy(t *testing.T) {
	groups, err := testLayer().GroupBy("kind")
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "urban", groups[0].Key)
	assert.Equal(t, 2, groups[0].Layer.Len())
	assert.Equal(t, "rural", groups[1].Key)
	assert.Equal(t, "", groups[2].Key)
	assert.Nil(t, groups[2].Value)
	assert.Equal(t, 3067, groups[0].Layer.CRS.EPSG)
}

func TestAggregate(t *testing.T) {
	specs, err := ParseAggSpecs([]string{"pop:sum", "pop:mean", "pop:max", "kind:count", "kind:first"})
	require.NoError(t, err)

	out, err := testLayer().Aggregate("kunta", specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"kunta", "pop_sum", "pop_mean", "pop_max", "kind_count", "kind_first"}, out.Columns())
	require.Equal(t, 3, out.Len())

	hki := out.Features[0]
	assert.Equal(t, "Helsinki", hki.Get("kunta"))
	assert.InDelta(t, 1250.0, hki.Get("pop_sum"), 1e-9)
	assert.InDelta(t, 625.0, hki.Get("pop_mean"), 1e-9)
	assert.Equal(t, int64(1000), hki.Get("pop_max"))
	assert.Equal(t, int64(2), hki.Get("kind_count"))
	assert.Equal(t, "urban", hki.Get("kind_first"))
	assert.Nil(t, hki.Geometry)

	vantaa := out.Features[2]
	assert.Equal(t, int64(0), vantaa.Get("kind_count"))
}

func TestParseAggSpecs_Errors(t *testing.T) {
	_, err := ParseAggSpecs([]string{"pop"})
	assert.Error(t, err)
	_, err = ParseAggSpecs([]string{"pop:median"})
	assert.Error(t, err)
}

func TestDissolve(t *testing.T) {
	out, err := testLayer().Dissolve("kunta", AggSpec{Column: "pop", Func: AggSum})
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, 3067, out.CRS.EPSG)

	mp, ok := out.Features[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 3067, mp.SRID())
	assert.Equal(t, int64(2), out.Features[0].Get("count"))
	assert.InDelta(t, 125.0, Area(mp), 1e-9)
	assert.Contains(t, out.Columns(), "count")
}

func TestCollect_Mixed(t *testing.T) {
	g, err := Collect([]geom.T{
		geom.NewPointFlat(geom.XY, []float64{1, 2}),
		square(0, 0, 1),
	})
	require.NoError(t, err)
	gc, ok := g.(*geom.GeometryCollection)
	require.True(t, ok)
	assert.Equal(t, 2, gc.NumGeoms())
}

func TestAreaAndLength(t *testing.T) {
	l := testLayer()
	assert.InDelta(t, 100+400+25+4, l.TotalArea(), 1e-9)

	withArea := l.WithArea("area_m2")
	assert.Equal(t, Float, mustField(t, withArea, "area_m2").Type)
	assert.InDelta(t, 400.0, withArea.Features[1].Get("area_m2"), 1e-9)
	assert.NotContains(t, l.Features[1].Properties, "area_m2")

	withLen := l.WithLength("perimeter")
	assert.InDelta(t, 40.0, withLen.Features[0].Get("perimeter"), 1e-9)

	assert.Equal(t, 0.0, Area(geom.NewPointFlat(geom.XY, []float64{0, 0})))
}

func TestArea_RingOrientation(t *testing.T) {
	shellCCW := []float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0}
	shellCW := []float64{0, 0, 0, 10, 10, 10, 10, 0, 0, 0}
	holeCW := []float64{2, 2, 2, 4, 4, 4, 4, 2, 2, 2}
	holeCCW := []float64{2, 2, 4, 2, 4, 4, 2, 4, 2, 2}

	for name, flat := range map[string][]float64{
		"ccw shell, cw hole":  append(append([]float64{}, shellCCW...), holeCW...),
		"cw shell, ccw hole":  append(append([]float64{}, shellCW...), holeCCW...),
		"ccw shell, ccw hole": append(append([]float64{}, shellCCW...), holeCCW...),
		"cw shell, cw hole":   append(append([]float64{}, shellCW...), holeCW...),
	} {
		p := geom.NewPolygonFlat(geom.XY, flat, []int{10, 20})
		assert.InDelta(t, 96.0, Area(p), 1e-9, name)
	}

	assert.True(t, CounterClockwise(geom.NewLinearRingFlat(geom.XY, shellCCW)))
	assert.False(t, CounterClockwise(geom.NewLinearRingFlat(geom.XY, shellCW)))
	// Unclosed and degenerate rings.
	assert.True(t, CounterClockwise(geom.NewLinearRingFlat(geom.XY, shellCCW[:8])))
	assert.False(t, CounterClockwise(geom.NewLinearRingFlat(geom.XY, []float64{0, 0, 1, 1, 0, 0})))

	z := geom.NewPolygonFlat(geom.XYZ, []float64{0, 0, 5, 4, 0, 5, 4, 4, 5, 0, 4, 5, 0, 0, 5}, []int{15})
	assert.InDelta(t, 16.0, Area(z), 1e-9)
}

func mustField(t *testing.T, l *Layer, name string) Field {
	t.Helper()
	f, ok := l.Field(name)
	require.True(t, ok, name)
	return f
}

func TestCentroidsAndBounds(t *testing.T) {
	l := testLayer()
	c := l.Centroids()
	p, ok := c.Features[0].Geometry.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, 5.0, p.X(), 1e-9)
	assert.InDelta(t, 5.0, p.Y(), 1e-9)

	b := l.Bounds()
	require.NotNil(t, b)
	assert.Equal(t, BBox{0, 0, 302, 20}, BBoxOf(b))

	empty := New("empty", nil, nil)
	assert.Nil(t, empty.Bounds())
}

func TestBBox(t *testing.T) {
	a := BBox{0, 0, 10, 10}
	assert.True(t, a.Intersects(BBox{10, 10, 20, 20}))
	assert.False(t, a.Intersects(BBox{11, 0, 20, 5}))
	assert.True(t, a.Contains(5, 5))
	assert.Equal(t, BBox{-1, 0, 10, 12}, a.Union(BBox{-1, 2, 3, 12}))
	assert.False(t, BBox{1, 0, 0, 1}.Valid())
}

func TestDescribe(t *testing.T) {
	s := testLayer().Describe()
	assert.Equal(t, "districts", s.Name)
	assert.Equal(t, "EPSG:3067", s.CRS)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, map[string]int{"Polygon": 4}, s.GeometryTypes)
	require.Contains(t, s.Numeric, "pop")
	assert.InDelta(t, 250.0, s.Numeric["pop"].Min, 1e-9)
	assert.InDelta(t, 512.5, s.Numeric["pop"].Mean, 1e-9)
	require.NotNil(t, s.Bounds)
}

func TestReproject(t *testing.T) {
	l := New("pts", crs.WGS84(), nil)
	l.Features = []*Feature{{Geometry: geom.NewPointFlat(geom.XY, []float64{27, 0})}}

	out, err := l.Reproject(crs.MustEPSG(3067))
	require.NoError(t, err)
	assert.Equal(t, 3067, out.CRS.EPSG)
	p := out.Features[0].Geometry.(*geom.Point)
	assert.InDelta(t, 500000.0, p.X(), 1e-6)
	assert.InDelta(t, 0.0, p.Y(), 1e-6)
	assert.Equal(t, 27.0, l.Features[0].Geometry.(*geom.Point).X())

	l.CRS = nil
	_, err = l.Reproject(crs.MustEPSG(3067))
	assert.True(t, errors.Is(err, crs.ErrUnsupportedCRS))
}

func TestHead(t *testing.T) {
	l := testLayer()
	assert.Equal(t, 2, l.Head(2).Len())
	assert.Equal(t, 4, l.Head(10).Len())
	assert.Equal(t, 0, l.Head(-1).Len())
}

func TestAddColumn_Replaces(t *testing.T) {
	l := testLayer()
	out := l.AddColumn(Field{Name: "pop", Type: Float}, func(f *Feature) any {
		v, _ := ToFloat(f.Get("pop"))
		return v / 2
	})
	assert.Equal(t, 3, len(out.Fields))
	assert.Equal(t, Float, mustField(t, out, "pop").Type)
	assert.Equal(t, 500.0, out.Features[0].Get("pop"))
	assert.Equal(t, int64(1000), l.Features[0].Get("pop"))
}
