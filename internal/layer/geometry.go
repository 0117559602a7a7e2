package layer

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Family groups geometry types by dimension.
type Family int

// Geometry families.
const (
	NoFamily Family = iota
	PointFamily
	LineFamily
	PolygonFamily
	MixedFamily
)

func (f Family) String() string {
	switch f {
	case PointFamily:
		return "point"
	case LineFamily:
		return "line"
	case PolygonFamily:
		return "polygon"
	case MixedFamily:
		return "mixed"
	}
	return "none"
}

// FamilyOf returns the family of a single geometry.
func FamilyOf(g geom.T) Family {
	switch g := g.(type) {
	case *geom.Point, *geom.MultiPoint:
		return PointFamily
	case *geom.LineString, *geom.MultiLineString, *geom.LinearRing:
		return LineFamily
	case *geom.Polygon, *geom.MultiPolygon:
		return PolygonFamily
	case *geom.GeometryCollection:
		fam := NoFamily
		for _, c := range g.Geoms() {
			fam = mergeFamily(fam, FamilyOf(c))
		}
		return fam
	}
	return NoFamily
}

func mergeFamily(a, b Family) Family {
	switch {
	case a == NoFamily:
		return b
	case b == NoFamily || a == b:
		return a
	}
	return MixedFamily
}

// GeometryFamily returns the family shared by every feature geometry.
func (l *Layer) GeometryFamily() Family {
	fam := NoFamily
	for _, f := range l.Features {
		if f.Geometry != nil {
			fam = mergeFamily(fam, FamilyOf(f.Geometry))
		}
	}
	return fam
}

// TypeName returns the OGC type name of a geometry.
func TypeName(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "Point"
	case *geom.LineString:
		return "LineString"
	case *geom.LinearRing:
		return "LinearRing"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPoint:
		return "MultiPoint"
	case *geom.MultiLineString:
		return "MultiLineString"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	case *geom.GeometryCollection:
		return "GeometryCollection"
	case nil:
		return "None"
	}
	return "Unknown"
}

// Area returns the planar area of polygonal geometries in CRS units
// squared, independent of ring orientation. Points and lines have no area.
func Area(g geom.T) float64 {
	switch g := g.(type) {
	case *geom.Polygon:
		if wellWound(g) {
			return math.Abs(g.Area())
		}
		return polygonArea(g)
	case *geom.MultiPolygon:
		sum := 0.0
		for i := 0; i < g.NumPolygons(); i++ {
			sum += Area(g.Polygon(i))
		}
		return sum
	case *geom.GeometryCollection:
		sum := 0.0
		for _, c := range g.Geoms() {
			sum += Area(c)
		}
		return sum
	}
	return 0
}

// wellWound reports whether every hole of p runs opposite to its shell,
// in which case the signed ring areas already cancel.
func wellWound(p *geom.Polygon) bool {
	n := p.NumLinearRings()
	if n <= 1 {
		return true
	}
	shell := CounterClockwise(p.LinearRing(0))
	for i := 1; i < n; i++ {
		if CounterClockwise(p.LinearRing(i)) == shell {
			return false
		}
	}
	return true
}

func polygonArea(p *geom.Polygon) float64 {
	area := 0.0
	for i := 0; i < p.NumLinearRings(); i++ {
		a := math.Abs(p.LinearRing(i).Area())
		if i == 0 {
			area = a
		} else {
			area -= a
		}
	}
	return area
}

// CounterClockwise reports whether a ring runs counter-clockwise. Rings
// with fewer than three distinct points are neither and report false.
func CounterClockwise(r *geom.LinearRing) bool {
	flat := closedXY(r.FlatCoords(), r.Stride())
	if len(flat) < 8 {
		return false
	}
	return xy.IsRingCounterClockwise(geom.XY, flat)
}

// closedXY drops ordinates beyond X and Y and closes the ring if needed.
func closedXY(flat []float64, stride int) []float64 {
	out := make([]float64, 0, 2*len(flat)/stride+2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	if n := len(out); n >= 2 && (out[0] != out[n-2] || out[1] != out[n-1]) {
		out = append(out, out[0], out[1])
	}
	return out
}

// Length returns the planar length of lines and the perimeter of polygons.
func Length(g geom.T) float64 {
	switch g := g.(type) {
	case *geom.LineString:
		return g.Length()
	case *geom.LinearRing:
		return g.Length()
	case *geom.MultiLineString:
		return g.Length()
	case *geom.Polygon:
		return g.Length()
	case *geom.MultiPolygon:
		return g.Length()
	case *geom.GeometryCollection:
		sum := 0.0
		for _, c := range g.Geoms() {
			sum += Length(c)
		}
		return sum
	}
	return 0
}

// Collect merges geometries into the multi-geometry of their family. Mixed
// families or layouts produce a GeometryCollection.
func Collect(geoms []geom.T) (geom.T, error) {
	if len(geoms) == 0 {
		return nil, nil
	}
	layout := geoms[0].Layout()
	srid := geoms[0].SRID()
	fam := NoFamily
	for _, g := range geoms {
		fam = mergeFamily(fam, FamilyOf(g))
		if g.Layout() != layout {
			fam = MixedFamily
		}
		if _, ok := g.(*geom.GeometryCollection); ok {
			fam = MixedFamily
		}
	}

	switch fam {
	case PointFamily:
		mp := geom.NewMultiPoint(layout).SetSRID(srid)
		for _, g := range geoms {
			for _, p := range pointParts(g) {
				if err := mp.Push(p); err != nil {
					return nil, eris.Wrap(err, "layer: collect points")
				}
			}
		}
		return mp, nil
	case LineFamily:
		mls := geom.NewMultiLineString(layout).SetSRID(srid)
		for _, g := range geoms {
			for _, ls := range lineParts(g) {
				if err := mls.Push(ls); err != nil {
					return nil, eris.Wrap(err, "layer: collect lines")
				}
			}
		}
		return mls, nil
	case PolygonFamily:
		mpoly := geom.NewMultiPolygon(layout).SetSRID(srid)
		for _, g := range geoms {
			for _, p := range PolygonParts(g) {
				if err := mpoly.Push(p); err != nil {
					return nil, eris.Wrap(err, "layer: collect polygons")
				}
			}
		}
		return mpoly, nil
	}

	gc := geom.NewGeometryCollection()
	if err := gc.Push(geoms...); err != nil {
		return nil, eris.Wrap(err, "layer: collect geometries")
	}
	return gc.SetSRID(srid), nil
}

func pointParts(g geom.T) []*geom.Point {
	switch g := g.(type) {
	case *geom.Point:
		return []*geom.Point{g}
	case *geom.MultiPoint:
		parts := make([]*geom.Point, 0, g.NumPoints())
		for i := 0; i < g.NumPoints(); i++ {
			parts = append(parts, g.Point(i))
		}
		return parts
	}
	return nil
}

func lineParts(g geom.T) []*geom.LineString {
	switch g := g.(type) {
	case *geom.LineString:
		return []*geom.LineString{g}
	case *geom.LinearRing:
		return []*geom.LineString{geom.NewLineStringFlat(g.Layout(), g.FlatCoords())}
	case *geom.MultiLineString:
		parts := make([]*geom.LineString, 0, g.NumLineStrings())
		for i := 0; i < g.NumLineStrings(); i++ {
			parts = append(parts, g.LineString(i))
		}
		return parts
	}
	return nil
}

// PolygonParts returns the polygons of a Polygon or MultiPolygon.
func PolygonParts(g geom.T) []*geom.Polygon {
	switch g := g.(type) {
	case *geom.Polygon:
		return []*geom.Polygon{g}
	case *geom.MultiPolygon:
		parts := make([]*geom.Polygon, 0, g.NumPolygons())
		for i := 0; i < g.NumPolygons(); i++ {
			parts = append(parts, g.Polygon(i))
		}
		return parts
	}
	return nil
}

// LineParts returns the line strings of a line-family geometry.
func LineParts(g geom.T) []*geom.LineString { return lineParts(g) }

// PointParts returns the points of a Point or MultiPoint.
func PointParts(g geom.T) []*geom.Point { return pointParts(g) }

// Centroid returns the centroid of a geometry as a point with the same SRID.
func Centroid(g geom.T) (*geom.Point, error) {
	c, err := xy.Centroid(g)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: centroid of %s", TypeName(g))
	}
	return geom.NewPointFlat(geom.XY, []float64{c.X(), c.Y()}).SetSRID(g.SRID()), nil
}
