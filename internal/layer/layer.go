// Package layer holds vector features with a typed attribute table and the
// table operations used by the commands: select, rename, filter, group,
// aggregate, dissolve, measure and reproject. Operations return new layers
// and never modify their input. Geometries are shared between layers and
// must be treated as immutable.
package layer

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-cli/internal/crs"
)

// ErrNoColumn is returned when an operation names a column the layer lacks.
var ErrNoColumn = eris.New("layer: no such column")

// FieldType is the attribute type of a column.
type FieldType int

// Field types.
const (
	String FieldType = iota
	Integer
	Float
	Bool
	Date
)

func (t FieldType) String() string {
	switch t {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Date:
		return "date"
	default:
		return "string"
	}
}

// MarshalText renders the type name in JSON summaries.
func (t FieldType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Field describes one attribute column.
type Field struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Width     int       `json:"width,omitempty"`
	Precision int       `json:"precision,omitempty"`
}

// Feature is one row: an optional geometry plus attribute values keyed by
// column name. Values are string, int64, float64, bool, time.Time or nil.
type Feature struct {
	ID         string
	Geometry   geom.T
	Properties map[string]any
}

// Get returns the value of a column, nil when absent.
func (f *Feature) Get(col string) any {
	if f.Properties == nil {
		return nil
	}
	return f.Properties[col]
}

func (f *Feature) clone() *Feature {
	props := make(map[string]any, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	return &Feature{ID: f.ID, Geometry: f.Geometry, Properties: props}
}

// Layer is a named collection of features sharing a schema and a CRS.
type Layer struct {
	Name     string
	CRS      *crs.CRS
	Fields   []Field
	Features []*Feature
}

// New returns an empty layer with the given schema.
func New(name string, c *crs.CRS, fields []Field) *Layer {
	return &Layer{Name: name, CRS: c, Fields: append([]Field(nil), fields...)}
}

// Len returns the number of features.
func (l *Layer) Len() int { return len(l.Features) }

// Columns returns the column names in schema order.
func (l *Layer) Columns() []string {
	cols := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Field returns the named column definition.
func (l *Layer) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (l *Layer) requireColumns(cols ...string) error {
	for _, c := range cols {
		if _, ok := l.Field(c); !ok {
			return eris.Wrapf(ErrNoColumn, "layer %s: column %q", l.Name, c)
		}
	}
	return nil
}

// Clone returns a copy with its own schema, features and property maps.
func (l *Layer) Clone() *Layer {
	out := l.empty()
	out.Features = make([]*Feature, len(l.Features))
	for i, f := range l.Features {
		out.Features[i] = f.clone()
	}
	return out
}

// empty returns a layer with the same name, CRS and schema and no features.
func (l *Layer) empty() *Layer {
	var c *crs.CRS
	if l.CRS != nil {
		cp := *l.CRS
		c = &cp
	}
	return &Layer{Name: l.Name, CRS: c, Fields: append([]Field(nil), l.Fields...)}
}

// Head returns the first n features.
func (l *Layer) Head(n int) *Layer {
	if n < 0 {
		n = 0
	}
	if n > len(l.Features) {
		n = len(l.Features)
	}
	out := l.empty()
	for _, f := range l.Features[:n] {
		out.Features = append(out.Features, f.clone())
	}
	return out
}

// Select keeps only the named columns, in the order given.
func (l *Layer) Select(cols ...string) (*Layer, error) {
	if err := l.requireColumns(cols...); err != nil {
		return nil, err
	}
	out := l.empty()
	out.Fields = out.Fields[:0]
	for _, c := range cols {
		f, _ := l.Field(c)
		out.Fields = append(out.Fields, f)
	}
	for _, f := range l.Features {
		nf := &Feature{ID: f.ID, Geometry: f.Geometry, Properties: make(map[string]any, len(cols))}
		for _, c := range cols {
			nf.Properties[c] = f.Get(c)
		}
		out.Features = append(out.Features, nf)
	}
	return out, nil
}

// Drop removes the named columns. Unknown names are an error.
func (l *Layer) Drop(cols ...string) (*Layer, error) {
	if err := l.requireColumns(cols...); err != nil {
		return nil, err
	}
	drop := make(map[string]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	keep := make([]string, 0, len(l.Fields))
	for _, f := range l.Fields {
		if !drop[f.Name] {
			keep = append(keep, f.Name)
		}
	}
	return l.Select(keep...)
}

// Rename renames columns by an old -> new mapping.
func (l *Layer) Rename(mapping map[string]string) (*Layer, error) {
	olds := make([]string, 0, len(mapping))
	for old := range mapping {
		olds = append(olds, old)
	}
	sort.Strings(olds)
	if err := l.requireColumns(olds...); err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(l.Fields))
	for _, f := range l.Fields {
		name := f.Name
		if n, ok := mapping[name]; ok {
			name = n
		}
		if name == "" {
			return nil, eris.Errorf("layer %s: empty new name for column %q", l.Name, f.Name)
		}
		if prev, dup := seen[name]; dup {
			return nil, eris.Errorf("layer %s: rename makes %q and %q both %q", l.Name, prev, f.Name, name)
		}
		seen[name] = f.Name
	}

	out := l.empty()
	for i := range out.Fields {
		if n, ok := mapping[out.Fields[i].Name]; ok {
			out.Fields[i].Name = n
		}
	}
	for _, f := range l.Features {
		nf := &Feature{ID: f.ID, Geometry: f.Geometry, Properties: make(map[string]any, len(f.Properties))}
		for k, v := range f.Properties {
			if n, ok := mapping[k]; ok {
				k = n
			}
			nf.Properties[k] = v
		}
		out.Features = append(out.Features, nf)
	}
	return out, nil
}

// AddColumn appends a column whose value is computed per feature. An
// existing column of the same name is replaced in place.
func (l *Layer) AddColumn(field Field, fn func(*Feature) any) *Layer {
	out := l.Clone()
	replaced := false
	for i := range out.Fields {
		if out.Fields[i].Name == field.Name {
			out.Fields[i] = field
			replaced = true
		}
	}
	if !replaced {
		out.Fields = append(out.Fields, field)
	}
	for i, f := range out.Features {
		f.Properties[field.Name] = fn(l.Features[i])
	}
	return out
}

// Filter keeps the features for which pred returns true.
func (l *Layer) Filter(pred func(*Feature) bool) *Layer {
	out := l.empty()
	for _, f := range l.Features {
		if pred(f) {
			out.Features = append(out.Features, f.clone())
		}
	}
	return out
}
