package vectorio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type rawFeature struct {
	Type       string          `json:"type"`
	ID         json.RawMessage `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type rawDocument struct {
	Type     string       `json:"type"`
	Name     string       `json:"name"`
	CRS      *crsMember   `json:"crs"`
	Features []rawFeature `json:"features"`
}

func readGeoJSONFile(path string) (*layer.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	l, err := ReadGeoJSON(bufio.NewReader(f), stem(path))
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: %s", path)
	}
	return l, nil
}

// ReadGeoJSON decodes a FeatureCollection, a single Feature or a bare
// geometry. The legacy "crs" member is honoured; without one coordinates
// are WGS84. Property order of the first appearance of each key becomes the
// column order.
func ReadGeoJSON(r io.Reader, name string) (*layer.Layer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "vectorio: read geojson")
	}
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "vectorio: decode geojson")
	}

	switch doc.Type {
	case "FeatureCollection":
	case "Feature":
		var f rawFeature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "vectorio: decode geojson feature")
		}
		doc.Features = []rawFeature{f}
	case "":
		return nil, eris.New("vectorio: geojson document has no type")
	default:
		doc.Features = []rawFeature{{Type: "Feature", Geometry: data}}
	}

	c := crs.WGS84()
	if doc.CRS != nil && doc.CRS.Properties.Name != "" {
		c, err = crs.Parse(doc.CRS.Properties.Name)
		if err != nil {
			return nil, eris.Wrap(err, "vectorio: geojson crs member")
		}
	}
	if doc.Name != "" {
		name = doc.Name
	}

	l := layer.New(name, c, nil)
	types := map[string]layer.FieldType{}
	seen := map[string]bool{}
	typed := map[string]bool{}
	for i, rf := range doc.Features {
		g, err := decodeGeometry(rf.Geometry, c.EPSG)
		if err != nil {
			return nil, eris.Wrapf(err, "vectorio: feature %d", i)
		}
		keys, props, err := orderedProperties(rf.Properties)
		if err != nil {
			return nil, eris.Wrapf(err, "vectorio: feature %d properties", i)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				l.Fields = append(l.Fields, layer.Field{Name: k})
			}
			if v := props[k]; v != nil {
				types[k] = widen(types[k], layer.TypeOf(v), !typed[k])
				typed[k] = true
			}
		}
		l.Features = append(l.Features, &layer.Feature{
			ID:         featureID(rf.ID, i),
			Geometry:   g,
			Properties: props,
		})
	}
	for i := range l.Fields {
		t, ok := types[l.Fields[i].Name]
		if !ok {
			t = layer.String
		}
		l.Fields[i].Type = t
	}
	// Integers in a column that also holds floats become floats.
	for _, f := range l.Features {
		for _, fld := range l.Fields {
			if v, ok := f.Properties[fld.Name].(int64); ok && fld.Type == layer.Float {
				f.Properties[fld.Name] = float64(v)
			}
		}
	}
	return l, nil
}

// widen merges the type seen so far with a new value's type. first is true
// when no value has been typed yet.
func widen(cur, next layer.FieldType, first bool) layer.FieldType {
	if first || cur == next {
		return next
	}
	if (cur == layer.Integer && next == layer.Float) || (cur == layer.Float && next == layer.Integer) {
		return layer.Float
	}
	return layer.String
}

func decodeGeometry(raw json.RawMessage, srid int) (geom.T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var g geom.T
	if err := geojson.Unmarshal(trimmed, &g); err != nil {
		return nil, eris.Wrap(err, "decode geometry")
	}
	return crs.SetSRID(g, srid), nil
}

func featureID(raw json.RawMessage, i int) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return strconv.Itoa(i + 1)
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// orderedProperties decodes a properties object keeping key order. Whole
// numbers become int64, other numbers float64, nested values JSON text.
func orderedProperties(raw json.RawMessage) ([]string, map[string]any, error) {
	props := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, eris.New("properties is not an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if _, dup := props[key]; !dup {
			keys = append(keys, key)
		}
		props[key] = jsonValue(v)
	}
	return keys, props, nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return i
			}
		}
		f, err := x.Float64()
		if err != nil {
			return s
		}
		return f
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	}
	return v
}

func writeGeoJSONFile(path string, l *layer.Layer, opts WriteOptions) error {
	if err := checkOverwrite(opts.Overwrite, path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "vectorio: create %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := WriteGeoJSON(bw, l); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "vectorio: write %s", path)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "vectorio: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "vectorio: close %s", path)
}

// WriteGeoJSON encodes a layer as a FeatureCollection. Layers in a CRS other
// than WGS84 carry the legacy "crs" member naming their EPSG code.
func WriteGeoJSON(w io.Writer, l *layer.Layer) error {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"FeatureCollection"`)
	if l.Name != "" {
		buf.WriteString(`,"name":`)
		writeJSON(&buf, l.Name)
	}
	if l.CRS != nil && l.CRS.EPSG > 0 && l.CRS.EPSG != 4326 {
		buf.WriteString(`,"crs":{"type":"name","properties":{"name":`)
		writeJSON(&buf, l.CRS.URN())
		buf.WriteString(`}}`)
	}
	buf.WriteString(`,"features":[`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return eris.Wrap(err, "vectorio: write geojson header")
	}

	for i, f := range l.Features {
		buf.Reset()
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeFeature(&buf, l, f); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return eris.Wrap(err, "vectorio: write geojson feature")
		}
	}
	if _, err := io.WriteString(w, "]}\n"); err != nil {
		return eris.Wrap(err, "vectorio: write geojson footer")
	}
	return nil
}

func encodeFeature(buf *bytes.Buffer, l *layer.Layer, f *layer.Feature) error {
	buf.WriteString(`{"type":"Feature"`)
	if f.ID != "" {
		buf.WriteString(`,"id":`)
		writeJSON(buf, f.ID)
	}
	buf.WriteString(`,"geometry":`)
	if f.Geometry == nil {
		buf.WriteString("null")
	} else {
		g, err := geojson.Marshal(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "vectorio: encode geometry of feature %s", f.ID)
		}
		buf.Write(g)
	}
	buf.WriteString(`,"properties":{`)
	for i, fld := range l.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(buf, fld.Name)
		buf.WriteByte(':')
		writeJSON(buf, propertyJSON(f.Get(fld.Name)))
	}
	buf.WriteString("}}")
	return nil
}

func propertyJSON(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(layer.DateLayout)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	}
	return v
}

func writeJSON(buf *bytes.Buffer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		buf.WriteString("null")
		return
	}
	buf.Write(b)
}
