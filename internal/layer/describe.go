package layer

import "sort"

// NumericStats summarises a numeric column.
type NumericStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Sum   float64 `json:"sum"`
}

// Summary is the description printed by `info` and served by the feature
// server.
type Summary struct {
	Name          string                  `json:"name"`
	CRS           string                  `json:"crs"`
	Count         int                     `json:"count"`
	GeometryTypes map[string]int          `json:"geometry_types"`
	Bounds        *BBox                   `json:"bounds,omitempty"`
	Fields        []Field                 `json:"fields"`
	Numeric       map[string]NumericStats `json:"numeric,omitempty"`
}

// GeometryTypeNames returns the geometry type names sorted by name.
func (s Summary) GeometryTypeNames() []string {
	names := make([]string, 0, len(s.GeometryTypes))
	for n := range s.GeometryTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe summarises the layer.
func (l *Layer) Describe() Summary {
	s := Summary{
		Name:          l.Name,
		CRS:           l.CRS.String(),
		Count:         l.Len(),
		GeometryTypes: map[string]int{},
		Fields:        append([]Field(nil), l.Fields...),
		Numeric:       map[string]NumericStats{},
	}
	for _, f := range l.Features {
		s.GeometryTypes[TypeName(f.Geometry)]++
	}
	if b := l.Bounds(); b != nil {
		bb := BBoxOf(b)
		s.Bounds = &bb
	}
	for _, fld := range l.Fields {
		if fld.Type != Integer && fld.Type != Float {
			continue
		}
		var st NumericStats
		for _, f := range l.Features {
			v, ok := ToFloat(f.Get(fld.Name))
			if !ok {
				continue
			}
			if st.Count == 0 || v < st.Min {
				st.Min = v
			}
			if st.Count == 0 || v > st.Max {
				st.Max = v
			}
			st.Sum += v
			st.Count++
		}
		if st.Count > 0 {
			st.Mean = st.Sum / float64(st.Count)
			s.Numeric[fld.Name] = st
		}
	}
	return s
}
