package crs

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// TransformGeometry returns a transformed copy of g with its SRID set to the
// target EPSG code. A nil geometry passes through.
func TransformGeometry(t *Transformer, g geom.T) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	out, err := mapCoords(g, func(flat []float64, stride int) error {
		return t.TransformFlat(flat, stride)
	})
	if err != nil {
		return nil, err
	}
	return SetSRID(out, t.dst.EPSG), nil
}

// SwapXY returns a copy of g with the first two ordinates of every
// coordinate exchanged.
func SwapXY(g geom.T) geom.T {
	if g == nil {
		return nil
	}
	out, _ := mapCoords(g, func(flat []float64, stride int) error {
		for i := 0; i+1 < len(flat); i += stride {
			flat[i], flat[i+1] = flat[i+1], flat[i]
		}
		return nil
	})
	return out
}

// mapCoords clones g and applies fn to the clone's flat coordinates.
func mapCoords(g geom.T, fn func(flat []float64, stride int) error) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.LineString:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.LinearRing:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.Polygon:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.MultiPoint:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.MultiLineString:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.MultiPolygon:
		c := g.Clone()
		return c, fn(c.FlatCoords(), c.Stride())
	case *geom.GeometryCollection:
		out := geom.NewGeometryCollection()
		for _, child := range g.Geoms() {
			mc, err := mapCoords(child, fn)
			if err != nil {
				return nil, err
			}
			if err := out.Push(mc); err != nil {
				return nil, eris.Wrap(err, "crs: rebuild geometry collection")
			}
		}
		return out, nil
	}
	return nil, eris.Errorf("crs: unsupported geometry type %T", g)
}

// SetSRID sets the SRID on any go-geom geometry and returns it.
func SetSRID(g geom.T, srid int) geom.T {
	switch g := g.(type) {
	case *geom.Point:
		return g.SetSRID(srid)
	case *geom.LineString:
		return g.SetSRID(srid)
	case *geom.Polygon:
		return g.SetSRID(srid)
	case *geom.MultiPoint:
		return g.SetSRID(srid)
	case *geom.MultiLineString:
		return g.SetSRID(srid)
	case *geom.MultiPolygon:
		return g.SetSRID(srid)
	case *geom.GeometryCollection:
		return g.SetSRID(srid)
	}
	return g
}
