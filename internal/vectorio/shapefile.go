package vectorio

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

const (
	dbfNameLen      = 10
	dbfMaxCharWidth = 254
	dbfDateLayout   = "20060102"
)

// sidecar swaps the extension of shpPath, whatever its case, for ext.
func sidecar(shpPath, ext string) string {
	return strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ext
}

// findSidecar returns the existing sidecar of shpPath, trying ext in lower
// and then upper case.
func findSidecar(shpPath, ext string) string {
	for _, e := range []string{strings.ToLower(ext), strings.ToUpper(ext)} {
		if p := sidecar(shpPath, e); fileExists(p) {
			return p
		}
	}
	return sidecar(shpPath, ext)
}

// linkLowerCase exposes an upper-case .SHP/.SHX/.DBF set under lower-case
// names in a temporary directory, since the shapefile library only opens
// lower-case component files.
func linkLowerCase(shpPath string) (string, func(), error) {
	abs, err := filepath.Abs(shpPath)
	if err != nil {
		return "", nil, eris.Wrapf(err, "vectorio: resolve %s", shpPath)
	}
	dir, err := os.MkdirTemp("", "geo-cli-shp-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "vectorio: temp dir for shapefile")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	base := filepath.Join(dir, stem(shpPath))
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		src := findSidecar(abs, ext)
		if ext == ".shp" {
			src = abs
		}
		if !fileExists(src) {
			continue
		}
		if err := os.Symlink(src, base+ext); err != nil {
			cleanup()
			return "", nil, eris.Wrapf(err, "vectorio: link %s", src)
		}
	}
	return base + ".shp", cleanup, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// readShapefile loads a .shp with its .dbf, .prj and .cpg sidecars.
func readShapefile(path string, opts ReadOptions) (*layer.Layer, error) {
	openPath := path
	if filepath.Ext(path) != ".shp" && !fileExists(sidecar(path, ".shp")) {
		linked, cleanup, err := linkLowerCase(path)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		openPath = linked
	}
	reader, err := shp.Open(openPath)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	encName := opts.Encoding
	if encName == "" {
		encName = readCPG(findSidecar(path, ".cpg"))
	}
	enc, err := codePage(encName)
	if err != nil {
		return nil, err
	}

	l := layer.New(stem(path), nil, nil)
	if prj, err := os.ReadFile(findSidecar(path, ".prj")); err == nil {
		c, perr := crs.Parse(string(prj))
		if perr != nil {
			zap.L().Warn("vectorio: unrecognised .prj, layer has no CRS",
				zap.String("path", path), zap.Error(perr))
		} else {
			l.CRS = c
		}
	}
	srid := 0
	if l.CRS != nil {
		srid = l.CRS.EPSG
	}

	// Build field list from the DBF header.
	dbfFields := reader.Fields()
	for _, f := range dbfFields {
		l.Fields = append(l.Fields, dbfToField(f, enc))
	}

	var skipped int
	row := 0
	for reader.Next() {
		_, shape := reader.Shape()
		row++

		props := make(map[string]any, len(l.Fields))
		for i, fld := range l.Fields {
			raw := strings.TrimRight(reader.Attribute(i), "\x00")
			props[fld.Name] = parseDBFValue(decodeString(enc, raw), fld.Type)
		}

		g := shapeToGeom(shape, srid)
		if g == nil && shape != nil {
			if _, isNull := shape.(*shp.Null); !isNull {
				skipped++
			}
		}
		l.Features = append(l.Features, &layer.Feature{
			ID:         strconv.Itoa(row),
			Geometry:   g,
			Properties: props,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "vectorio: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("vectorio: shapefile records with unsupported geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return l, nil
}

func dbfToField(f shp.Field, enc encoding.Encoding) layer.Field {
	name := decodeString(enc, strings.TrimRight(f.String(), "\x00"))
	fld := layer.Field{Name: name, Width: int(f.Size), Precision: int(f.Precision)}
	switch f.Fieldtype {
	case 'N':
		if f.Precision > 0 {
			fld.Type = layer.Float
		} else {
			fld.Type = layer.Integer
		}
	case 'F', 'O':
		fld.Type = layer.Float
	case 'L':
		fld.Type = layer.Bool
	case 'D':
		fld.Type = layer.Date
	default:
		fld.Type = layer.String
	}
	return fld
}

func parseDBFValue(raw string, t layer.FieldType) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch t {
	case layer.Integer:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
		// Some writers store integers wider than int64 or with a trailing
		// decimal point.
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(v)
		}
		return nil
	case layer.Float:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return nil
	case layer.Bool:
		switch strings.ToUpper(s) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	case layer.Date:
		if d, err := time.Parse(dbfDateLayout, s); err == nil {
			return d
		}
		return nil
	}
	return strings.TrimRight(raw, " ")
}

// shapeToGeom converts a go-shp shape to go-geom. Z and M values are
// dropped.
func shapeToGeom(shape shp.Shape, srid int) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid)
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid)
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}).SetSRID(srid)
	case *shp.MultiPoint:
		return multiPointFromPoints(s.Points, srid)
	case *shp.MultiPointZ:
		return multiPointFromPoints(s.Points, srid)
	case *shp.PolyLine:
		return linesFromParts(s.Parts, s.Points, srid)
	case *shp.PolyLineZ:
		return linesFromParts(s.Parts, s.Points, srid)
	case *shp.PolyLineM:
		return linesFromParts(s.Parts, s.Points, srid)
	case *shp.Polygon:
		return polygonsFromParts(s.Parts, s.Points, srid)
	case *shp.PolygonZ:
		return polygonsFromParts(s.Parts, s.Points, srid)
	case *shp.PolygonM:
		return polygonsFromParts(s.Parts, s.Points, srid)
	}
	return nil
}

func multiPointFromPoints(pts []shp.Point, srid int) geom.T {
	if len(pts) == 0 {
		return nil
	}
	return geom.NewMultiPointFlat(geom.XY, flatPoints(pts)).SetSRID(srid)
}

// partRanges returns [start, end) point ranges of each part.
func partRanges(parts []int32, n int) [][2]int {
	ranges := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < 0 || int(start) > end || end > n {
			continue
		}
		ranges = append(ranges, [2]int{int(start), end})
	}
	return ranges
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// linesFromParts returns a LineString for single-part records and a
// MultiLineString otherwise.
func linesFromParts(parts []int32, pts []shp.Point, srid int) geom.T {
	ranges := partRanges(parts, len(pts))
	var lines []*geom.LineString
	for _, r := range ranges {
		if r[1]-r[0] < 2 {
			continue
		}
		lines = append(lines, geom.NewLineStringFlat(geom.XY, flatPoints(pts[r[0]:r[1]])))
	}
	switch len(lines) {
	case 0:
		return nil
	case 1:
		return lines[0].SetSRID(srid)
	}
	mls := geom.NewMultiLineString(geom.XY).SetSRID(srid)
	for _, ls := range lines {
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("vectorio: skipping malformed line part", zap.Error(err))
		}
	}
	return mls
}

// polygonsFromParts assembles shapefile rings into polygons. Clockwise
// rings are shells; counter-clockwise rings are holes of the shell that
// contains them. The result is rewound to the GeoJSON convention (shells
// counter-clockwise).
func polygonsFromParts(parts []int32, pts []shp.Point, srid int) geom.T {
	type shell struct {
		rings [][]float64
		bbox  layer.BBox
	}
	var shells []*shell
	var holes [][]float64

	for _, r := range partRanges(parts, len(pts)) {
		if r[1]-r[0] < 4 {
			continue
		}
		flat := flatPoints(pts[r[0]:r[1]])
		if !ccw(flat) {
			shells = append(shells, &shell{rings: [][]float64{flat}, bbox: flatBBox(flat)})
		} else {
			holes = append(holes, flat)
		}
	}

	// Rings wound the wrong way with no shell at all are treated as shells.
	if len(shells) == 0 {
		for _, h := range holes {
			shells = append(shells, &shell{rings: [][]float64{reverseRing(h)}, bbox: flatBBox(h)})
		}
		holes = nil
	}

	for _, h := range holes {
		owner := shells[len(shells)-1]
		for _, s := range shells {
			if s.bbox.Contains(h[0], h[1]) && xy.IsPointInRing(geom.XY, geom.Coord{h[0], h[1]}, s.rings[0]) {
				owner = s
				break
			}
		}
		owner.rings = append(owner.rings, h)
	}

	polys := make([]*geom.Polygon, 0, len(shells))
	for _, s := range shells {
		var flat []float64
		var ends []int
		for i, r := range s.rings {
			if (i == 0) != ccw(r) {
				r = reverseRing(r)
			}
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		polys = append(polys, geom.NewPolygonFlat(geom.XY, flat, ends))
	}
	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0].SetSRID(srid)
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			zap.L().Debug("vectorio: skipping malformed polygon part", zap.Error(err))
		}
	}
	return mp
}

func ccw(flat []float64) bool { return layer.CounterClockwise(geom.NewLinearRingFlat(geom.XY, flat)) }

func reverseRing(flat []float64) []float64 {
	out := make([]float64, len(flat))
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		out[2*i], out[2*i+1] = flat[2*(n-1-i)], flat[2*(n-1-i)+1]
	}
	return out
}

func flatBBox(flat []float64) layer.BBox {
	b := layer.BBox{flat[0], flat[1], flat[0], flat[1]}
	for i := 2; i+1 < len(flat); i += 2 {
		b = b.Union(layer.BBox{flat[i], flat[i+1], flat[i], flat[i+1]})
	}
	return b
}

// writeShapefile writes .shp/.shx/.dbf plus .prj and .cpg sidecars.
func writeShapefile(path string, l *layer.Layer, opts WriteOptions) error {
	// The shapefile library always writes a lower-case .shp.
	if ext := filepath.Ext(path); ext != ".shp" {
		path = strings.TrimSuffix(path, ext) + ".shp"
	}
	fam := l.GeometryFamily()
	var shapeType shp.ShapeType
	switch fam {
	case layer.PointFamily:
		shapeType = shp.POINT
		for _, f := range l.Features {
			if _, multi := f.Geometry.(*geom.MultiPoint); multi {
				shapeType = shp.MULTIPOINT
				break
			}
		}
	case layer.LineFamily:
		shapeType = shp.POLYLINE
	case layer.PolygonFamily:
		shapeType = shp.POLYGON
	case layer.MixedFamily:
		return eris.Errorf("vectorio: shapefile %s needs a single geometry family, layer %s mixes them", path, l.Name)
	default:
		return eris.Errorf("vectorio: layer %s has no geometry to write as shapefile", l.Name)
	}

	enc, err := codePage(opts.Encoding)
	if err != nil {
		return err
	}

	sidecars := []string{path}
	for _, ext := range []string{".shx", ".dbf", ".prj", ".cpg"} {
		sidecars = append(sidecars, sidecar(path, ext))
	}
	if err := checkOverwrite(opts.Overwrite, sidecars...); err != nil {
		return err
	}

	names := dbfFieldNames(l.Columns())
	dbfFields := make([]shp.Field, len(l.Fields))
	for i, f := range l.Fields {
		dbfFields[i] = fieldToDBF(encodeString(enc, names[i]), f, l, enc)
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return eris.Wrapf(err, "vectorio: create shapefile %s", path)
	}
	if err := w.SetFields(dbfFields); err != nil {
		w.Close()
		return eris.Wrapf(err, "vectorio: set dbf fields %s", path)
	}

	var skipped int
	for _, f := range l.Features {
		shape := geomToShape(f.Geometry, shapeType)
		if shape == nil {
			skipped++
			continue
		}
		row := int(w.Write(shape))
		for i, fld := range l.Fields {
			v := dbfValue(f.Get(fld.Name), fld.Type, enc)
			if err := w.WriteAttribute(row, i, v); err != nil {
				w.Close()
				return eris.Wrapf(err, "vectorio: write attribute %s", fld.Name)
			}
		}
	}
	w.Close()

	if skipped > 0 {
		zap.L().Warn("vectorio: features without geometry left out of shapefile",
			zap.String("path", path), zap.Int("skipped", skipped))
	}

	if l.CRS != nil {
		if err := os.WriteFile(sidecar(path, ".prj"), []byte(l.CRS.WKT()), 0o644); err != nil {
			return eris.Wrap(err, "vectorio: write .prj")
		}
	}
	cpg := "UTF-8"
	if opts.Encoding != "" {
		cpg = opts.Encoding
	}
	if err := os.WriteFile(sidecar(path, ".cpg"), []byte(cpg), 0o644); err != nil {
		return eris.Wrap(err, "vectorio: write .cpg")
	}
	return nil
}

// dbfFieldNames truncates column names to the 10 bytes DBF allows, keeping
// them unique with a numeric suffix.
func dbfFieldNames(cols []string) []string {
	used := map[string]bool{}
	out := make([]string, len(cols))
	for i, c := range cols {
		name := truncateUTF8(c, dbfNameLen)
		base := name
		for n := 1; used[strings.ToUpper(name)]; n++ {
			suffix := strconv.Itoa(n)
			cut := dbfNameLen - len(suffix)
			if len(base) < cut {
				cut = len(base)
			}
			name = truncateUTF8(base, cut) + suffix
		}
		used[strings.ToUpper(name)] = true
		out[i] = name
	}
	return out
}

func fieldToDBF(name string, f layer.Field, l *layer.Layer, enc encoding.Encoding) shp.Field {
	switch f.Type {
	case layer.Integer:
		width := f.Width
		if width <= 0 || width > 18 {
			width = 18
		}
		return shp.NumberField(name, uint8(width))
	case layer.Float:
		width, prec := f.Width, f.Precision
		if width <= 0 || width > 24 {
			width = 24
		}
		if prec <= 0 || prec >= width-2 {
			prec = 6
		}
		return shp.FloatField(name, uint8(width), uint8(prec))
	case layer.Date:
		return shp.DateField(name)
	case layer.Bool:
		fld := shp.StringField(name, 1)
		fld.Fieldtype = 'L'
		return fld
	}
	width := f.Width
	for _, feat := range l.Features {
		if n := len(encodeString(enc, layer.FormatValue(feat.Get(f.Name)))); n > width {
			width = n
		}
	}
	if width <= 0 {
		width = 1
	}
	if width > dbfMaxCharWidth {
		width = dbfMaxCharWidth
	}
	return shp.StringField(name, uint8(width))
}

func dbfValue(v any, t layer.FieldType, enc encoding.Encoding) any {
	if v == nil {
		return ""
	}
	switch t {
	case layer.Integer:
		if f, ok := layer.ToFloat(v); ok {
			return int(f)
		}
		return ""
	case layer.Float:
		if f, ok := layer.ToFloat(v); ok {
			return f
		}
		return ""
	case layer.Date:
		if d, ok := v.(time.Time); ok {
			return d.Format(dbfDateLayout)
		}
		return ""
	case layer.Bool:
		if b, ok := v.(bool); ok {
			if b {
				return "T"
			}
			return "F"
		}
		return "?"
	}
	s := encodeString(enc, layer.FormatValue(v))
	if len(s) > dbfMaxCharWidth {
		s = s[:dbfMaxCharWidth]
	}
	return s
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// geomToShape converts go-geom to a shape of the file's type. Multi
// geometries become multi-part records.
func geomToShape(g geom.T, t shp.ShapeType) shp.Shape {
	if g == nil {
		return nil
	}
	switch t {
	case shp.POINT:
		if p, ok := g.(*geom.Point); ok && !p.Empty() {
			return &shp.Point{X: p.X(), Y: p.Y()}
		}
	case shp.MULTIPOINT:
		var pts []shp.Point
		for _, p := range layer.PointParts(g) {
			pts = append(pts, shp.Point{X: p.X(), Y: p.Y()})
		}
		if len(pts) == 0 {
			return nil
		}
		return &shp.MultiPoint{Box: boxOf(pts), NumPoints: int32(len(pts)), Points: pts}
	case shp.POLYLINE:
		var parts [][]shp.Point
		for _, ls := range layer.LineParts(g) {
			parts = append(parts, toShpPoints(ls.FlatCoords(), ls.Stride()))
		}
		if len(parts) == 0 {
			return nil
		}
		return shp.NewPolyLine(parts)
	case shp.POLYGON:
		var parts [][]shp.Point
		for _, poly := range layer.PolygonParts(g) {
			for i := 0; i < poly.NumLinearRings(); i++ {
				ring := poly.LinearRing(i)
				flat := xyOnly(ring.FlatCoords(), ring.Stride())
				// Shells clockwise, holes counter-clockwise.
				if (i == 0) == ccw(flat) {
					flat = reverseRing(flat)
				}
				parts = append(parts, toShpPoints(flat, 2))
			}
		}
		if len(parts) == 0 {
			return nil
		}
		pl := shp.NewPolyLine(parts)
		poly := shp.Polygon(*pl)
		return &poly
	}
	return nil
}

func xyOnly(flat []float64, stride int) []float64 {
	if stride == 2 {
		return append([]float64(nil), flat...)
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func toShpPoints(flat []float64, stride int) []shp.Point {
	pts := make([]shp.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return pts
}

func boxOf(pts []shp.Point) shp.Box {
	b := shp.Box{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		b.MinX = min(b.MinX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxX = max(b.MaxX, p.X)
		b.MaxY = max(b.MaxY, p.Y)
	}
	return b
}
