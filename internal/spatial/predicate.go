package spatial

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersection"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/geo-cli/internal/layer"
)

// Predicate relates a left geometry to a right one.
type Predicate string

// Supported predicates.
const (
	Intersects Predicate = "intersects"
	Within     Predicate = "within"
	Contains   Predicate = "contains"
)

// ParsePredicate accepts intersects, within and contains.
func ParsePredicate(s string) (Predicate, error) {
	switch p := Predicate(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Intersects, nil
	case Intersects, Within, Contains:
		return p, nil
	}
	return "", eris.Errorf("spatial: unknown predicate %q (want intersects, within or contains)", s)
}

// Eval reports whether the predicate holds for a and b.
func (p Predicate) Eval(a, b geom.T) bool {
	switch p {
	case Within:
		return within(a, b)
	case Contains:
		return within(b, a)
	}
	return intersects(a, b)
}

// segment is a pair of XY coordinates.
type segment [2]geom.Coord

// parts flattens a geometry into its points, line strings and polygons.
// Lines and rings are flat XY coordinates; rings are closed. Geometry
// collections are unpacked recursively.
type parts struct {
	points []geom.Coord
	lines  [][]float64
	polys  [][][]float64 // rings; the first is the shell
}

var robust = lineintersector.RobustLineIntersector{}

func decompose(g geom.T) parts {
	var p parts
	p.add(g)
	return p
}

func (p *parts) add(g geom.T) {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, c := range gc.Geoms() {
			p.add(c)
		}
		return
	}
	for _, q := range layer.PointParts(g) {
		if !q.Empty() {
			p.points = append(p.points, geom.Coord{q.X(), q.Y()})
		}
	}
	for _, ls := range layer.LineParts(g) {
		p.lines = append(p.lines, flatXY(ls.FlatCoords(), ls.Stride()))
	}
	for _, poly := range layer.PolygonParts(g) {
		rings := make([][]float64, 0, poly.NumLinearRings())
		for i := 0; i < poly.NumLinearRings(); i++ {
			r := poly.LinearRing(i)
			if ring := closeRing(flatXY(r.FlatCoords(), r.Stride())); len(ring) >= 8 {
				rings = append(rings, ring)
			}
		}
		if len(rings) > 0 {
			p.polys = append(p.polys, rings)
		}
	}
}

func flatXY(flat []float64, stride int) []float64 {
	out := make([]float64, 0, 2*len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func closeRing(ring []float64) []float64 {
	n := len(ring)
	if n >= 2 && (ring[0] != ring[n-2] || ring[1] != ring[n-1]) {
		ring = append(ring, ring[0], ring[1])
	}
	return ring
}

func coordsOf(flat []float64) []geom.Coord {
	out := make([]geom.Coord, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, geom.Coord{flat[i], flat[i+1]})
	}
	return out
}

// vertices lists every coordinate of the geometry.
func (p parts) vertices() []geom.Coord {
	out := append([]geom.Coord(nil), p.points...)
	for _, l := range p.lines {
		out = append(out, coordsOf(l)...)
	}
	for _, poly := range p.polys {
		for _, r := range poly {
			out = append(out, coordsOf(r)...)
		}
	}
	return out
}

// segments lists the edges of lines and polygon rings.
func (p parts) segments() []segment {
	var out []segment
	add := func(line []float64) {
		for i := 0; i+3 < len(line); i += 2 {
			out = append(out, segment{{line[i], line[i+1]}, {line[i+2], line[i+3]}})
		}
	}
	for _, l := range p.lines {
		add(l)
	}
	for _, poly := range p.polys {
		for _, r := range poly {
			add(r)
		}
	}
	return out
}

// covers reports whether q lies in the polygonal area of p, boundary
// included.
func (p parts) covers(q geom.Coord) bool {
	for _, poly := range p.polys {
		if polygonCovers(poly, q) {
			return true
		}
	}
	return false
}

// touches reports whether q lies on a point, line or ring of p.
func (p parts) touches(q geom.Coord) bool {
	for _, v := range p.points {
		if v.Equal(geom.XY, q) {
			return true
		}
	}
	for _, l := range p.lines {
		if len(l) >= 4 && xy.IsOnLine(geom.XY, q, l) {
			return true
		}
		if len(l) == 2 && l[0] == q[0] && l[1] == q[1] {
			return true
		}
	}
	for _, poly := range p.polys {
		for _, r := range poly {
			if xy.IsOnLine(geom.XY, q, r) {
				return true
			}
		}
	}
	return false
}

func intersects(a, b geom.T) bool {
	if a == nil || b == nil {
		return false
	}
	ba, okA := layer.GeometryBBox(a)
	bb, okB := layer.GeometryBBox(b)
	if !okA || !okB || !ba.Intersects(bb) {
		return false
	}
	pa, pb := decompose(a), decompose(b)

	for _, v := range pa.vertices() {
		if pb.covers(v) || pb.touches(v) {
			return true
		}
	}
	for _, v := range pb.vertices() {
		if pa.covers(v) || pa.touches(v) {
			return true
		}
	}
	sb := pb.segments()
	for _, s := range pa.segments() {
		for _, t := range sb {
			res := lineintersector.LineIntersectsLine(robust, s[0], s[1], t[0], t[1])
			if res.HasIntersection() {
				return true
			}
		}
	}
	return false
}

// within reports whether every vertex of a lies in b. Against polygons the
// boundary counts as inside; against points and lines a vertex must lie on
// them.
func within(a, b geom.T) bool {
	if a == nil || b == nil {
		return false
	}
	ba, okA := layer.GeometryBBox(a)
	bb, okB := layer.GeometryBBox(b)
	if !okA || !okB || !bb.Intersects(ba) {
		return false
	}
	pa, pb := decompose(a), decompose(b)
	verts := pa.vertices()
	if len(verts) == 0 {
		return false
	}
	for _, v := range verts {
		if !pb.covers(v) && !pb.touches(v) {
			return false
		}
	}
	if len(pb.polys) == 0 {
		return true
	}
	// A line may leave a concave polygon between two inside vertices.
	sb := pb.segments()
	for _, s := range pa.segments() {
		mid := geom.Coord{(s[0][0] + s[1][0]) / 2, (s[0][1] + s[1][1]) / 2}
		if !pb.covers(mid) {
			return false
		}
		for _, t := range sb {
			if properlyCross(s, t) {
				return false
			}
		}
	}
	// A hole of b strictly inside a means a covers area b lacks.
	for _, poly := range pb.polys {
		for _, hole := range poly[1:] {
			for _, v := range coordsOf(hole) {
				if pa.covers(v) && !pa.touches(v) {
					return false
				}
			}
		}
	}
	return true
}

// properlyCross reports whether two segments cross at a single point
// interior to both.
func properlyCross(s, t segment) bool {
	res := lineintersector.LineIntersectsLine(robust, s[0], s[1], t[0], t[1])
	if res.Type() != lineintersection.PointIntersection {
		return false
	}
	ip := res.Intersection()[0]
	for _, end := range []geom.Coord{s[0], s[1], t[0], t[1]} {
		if ip.Equal(geom.XY, end) {
			return false
		}
	}
	return true
}

// polygonCovers tests q against a shell and its holes.
func polygonCovers(rings [][]float64, q geom.Coord) bool {
	if len(rings) == 0 || !xy.IsPointInRing(geom.XY, q, rings[0]) {
		return false
	}
	for _, hole := range rings[1:] {
		if xy.LocatePointInRing(geom.XY, q, hole) == location.Interior {
			return false
		}
	}
	return true
}
