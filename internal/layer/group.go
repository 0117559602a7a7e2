package layer

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// SortBy returns the features ordered by a column. The sort is stable.
func (l *Layer) SortBy(col string, desc bool) (*Layer, error) {
	if err := l.requireColumns(col); err != nil {
		return nil, err
	}
	out := l.Clone()
	sort.SliceStable(out.Features, func(i, j int) bool {
		c := Compare(out.Features[i].Get(col), out.Features[j].Get(col))
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

// Unique returns the distinct values of a column in first-appearance order.
func (l *Layer) Unique(col string) ([]any, error) {
	if err := l.requireColumns(col); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var vals []any
	for _, f := range l.Features {
		v := f.Get(col)
		k := groupKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		vals = append(vals, v)
	}
	return vals, nil
}

// ValueCount is one row of ValueCounts.
type ValueCount struct {
	Value any `json:"value"`
	Count int `json:"count"`
}

// ValueCounts counts features per distinct value, most frequent first and
// ties in first-appearance order.
func (l *Layer) ValueCounts(col string) ([]ValueCount, error) {
	groups, err := l.GroupBy(col)
	if err != nil {
		return nil, err
	}
	counts := make([]ValueCount, len(groups))
	for i, g := range groups {
		counts[i] = ValueCount{Value: g.Value, Count: g.Layer.Len()}
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	return counts, nil
}

// Group is the set of features sharing one value of the grouping column.
type Group struct {
	Key   string
	Value any
	Layer *Layer
}

// groupKey is the text key of a grouping value; nil groups under "".
func groupKey(v any) string { return FormatValue(v) }

// GroupBy partitions the layer by a column. Groups appear in the order their
// key is first seen.
func (l *Layer) GroupBy(col string) ([]Group, error) {
	if err := l.requireColumns(col); err != nil {
		return nil, err
	}
	idx := map[string]int{}
	var groups []Group
	for _, f := range l.Features {
		v := f.Get(col)
		k := groupKey(v)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, Group{Key: k, Value: v, Layer: l.empty()})
		}
		groups[i].Layer.Features = append(groups[i].Layer.Features, f.clone())
	}
	return groups, nil
}

// AggFunc names a reduction.
type AggFunc string

// Supported reductions.
const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggMean  AggFunc = "mean"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggFirst AggFunc = "first"
)

// AggSpec is a "column:func" reduction.
type AggSpec struct {
	Column string
	Func   AggFunc
}

// OutputName is the result column name, e.g. "pop_sum".
func (s AggSpec) OutputName() string { return s.Column + "_" + string(s.Func) }

// ParseAggSpecs parses "col:func" items.
func ParseAggSpecs(items []string) ([]AggSpec, error) {
	specs := make([]AggSpec, 0, len(items))
	for _, it := range items {
		col, fn, ok := strings.Cut(strings.TrimSpace(it), ":")
		if !ok || col == "" {
			return nil, eris.Errorf("layer: aggregate spec %q must be col:func", it)
		}
		f := AggFunc(strings.ToLower(fn))
		switch f {
		case AggCount, AggSum, AggMean, AggMin, AggMax, AggFirst:
		default:
			return nil, eris.Errorf("layer: unknown aggregate function %q", fn)
		}
		specs = append(specs, AggSpec{Column: col, Func: f})
	}
	return specs, nil
}

// Aggregate reduces each group of groupCol to one row. The result has the
// grouping column followed by one column per spec and no geometry.
func (l *Layer) Aggregate(groupCol string, specs []AggSpec) (*Layer, error) {
	if err := l.requireColumns(groupCol); err != nil {
		return nil, err
	}
	for _, s := range specs {
		if err := l.requireColumns(s.Column); err != nil {
			return nil, err
		}
	}
	groups, err := l.GroupBy(groupCol)
	if err != nil {
		return nil, err
	}

	gf, _ := l.Field(groupCol)
	out := &Layer{Name: l.Name, Fields: []Field{gf}}
	for _, s := range specs {
		out.Fields = append(out.Fields, aggField(l, s))
	}
	for _, g := range groups {
		props := map[string]any{groupCol: g.Value}
		for _, s := range specs {
			props[s.OutputName()] = reduce(g.Layer.Features, s)
		}
		out.Features = append(out.Features, &Feature{ID: g.Key, Properties: props})
	}
	return out, nil
}

func aggField(l *Layer, s AggSpec) Field {
	src, _ := l.Field(s.Column)
	switch s.Func {
	case AggCount:
		return Field{Name: s.OutputName(), Type: Integer, Width: 10}
	case AggSum, AggMean:
		return Field{Name: s.OutputName(), Type: Float, Width: 24, Precision: 6}
	}
	src.Name = s.OutputName()
	return src
}

func reduce(features []*Feature, s AggSpec) any {
	switch s.Func {
	case AggCount:
		n := int64(0)
		for _, f := range features {
			if f.Get(s.Column) != nil {
				n++
			}
		}
		return n
	case AggSum, AggMean:
		sum, n := 0.0, 0
		for _, f := range features {
			if v, ok := ToFloat(f.Get(s.Column)); ok {
				sum += v
				n++
			}
		}
		if s.Func == AggSum {
			return sum
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case AggMin, AggMax:
		var best any
		for _, f := range features {
			v := f.Get(s.Column)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := Compare(v, best)
			if (s.Func == AggMin && c < 0) || (s.Func == AggMax && c > 0) {
				best = v
			}
		}
		return best
	case AggFirst:
		if len(features) > 0 {
			return features[0].Get(s.Column)
		}
	}
	return nil
}

// Dissolve merges each group into one feature whose geometry collects the
// members' geometries into a multi-geometry. The result carries the grouping
// column, a "count" column and any aggregate specs.
func (l *Layer) Dissolve(groupCol string, specs ...AggSpec) (*Layer, error) {
	agg, err := l.Aggregate(groupCol, specs)
	if err != nil {
		return nil, err
	}
	groups, err := l.GroupBy(groupCol)
	if err != nil {
		return nil, err
	}
	agg.CRS = l.empty().CRS
	agg.Fields = append(agg.Fields, Field{Name: "count", Type: Integer, Width: 10})
	for i, g := range groups {
		geoms := make([]geom.T, 0, g.Layer.Len())
		for _, f := range g.Layer.Features {
			if f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}
		merged, err := Collect(geoms)
		if err != nil {
			return nil, eris.Wrapf(err, "layer: dissolve group %q", g.Key)
		}
		agg.Features[i].Geometry = merged
		agg.Features[i].Properties["count"] = int64(g.Layer.Len())
	}
	return agg, nil
}
