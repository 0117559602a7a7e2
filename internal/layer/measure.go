package layer

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
)

// WithArea adds a float column holding each feature's planar area in CRS
// units. Areas in a geographic CRS are in square degrees; reproject first.
func (l *Layer) WithArea(col string) *Layer {
	l.warnGeographic("area")
	return l.AddColumn(Field{Name: col, Type: Float, Width: 24, Precision: 3}, func(f *Feature) any {
		return Area(f.Geometry)
	})
}

// TotalArea sums the planar area of every feature.
func (l *Layer) TotalArea() float64 {
	l.warnGeographic("area")
	sum := 0.0
	for _, f := range l.Features {
		sum += Area(f.Geometry)
	}
	return sum
}

// WithLength adds a float column holding each feature's length or perimeter.
func (l *Layer) WithLength(col string) *Layer {
	l.warnGeographic("length")
	return l.AddColumn(Field{Name: col, Type: Float, Width: 24, Precision: 3}, func(f *Feature) any {
		return Length(f.Geometry)
	})
}

func (l *Layer) warnGeographic(measure string) {
	if l.CRS.IsGeographic() {
		zap.L().Warn("layer: measuring in degrees, reproject to a projected CRS for metres",
			zap.String("layer", l.Name),
			zap.String("measure", measure),
			zap.String("crs", l.CRS.String()),
		)
	}
}

// Centroids replaces every geometry by its centroid point. Features whose
// centroid cannot be computed keep a nil geometry.
func (l *Layer) Centroids() *Layer {
	out := l.Clone()
	skipped := 0
	for _, f := range out.Features {
		if f.Geometry == nil {
			continue
		}
		c, err := Centroid(f.Geometry)
		if err != nil {
			skipped++
			f.Geometry = nil
			continue
		}
		f.Geometry = c
	}
	if skipped > 0 {
		zap.L().Debug("layer: features without centroid", zap.String("layer", l.Name), zap.Int("skipped", skipped))
	}
	return out
}

// Bounds returns the 2D extent of all geometries, nil for a layer without
// geometry.
func (l *Layer) Bounds() *geom.Bounds {
	var box BBox
	found := false
	for _, f := range l.Features {
		bb, ok := GeometryBBox(f.Geometry)
		if !ok {
			continue
		}
		if !found {
			box, found = bb, true
			continue
		}
		box = box.Union(bb)
	}
	if !found {
		return nil
	}
	return geom.NewBounds(geom.XY).Set(box[0], box[1], box[2], box[3])
}

// GeometryBBox returns the 2D bounding box of a geometry; false for nil or
// empty geometries.
func GeometryBBox(g geom.T) (BBox, bool) {
	if g == nil {
		return BBox{}, false
	}
	b := g.Bounds()
	if b == nil || b.IsEmpty() {
		return BBox{}, false
	}
	return BBoxOf(b), true
}

// BBox is an axis-aligned rectangle [minx, miny, maxx, maxy].
type BBox [4]float64

// BBoxOf converts go-geom bounds to a BBox.
func BBoxOf(b *geom.Bounds) BBox {
	return BBox{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
}

// Intersects reports whether two boxes overlap, edges included.
func (b BBox) Intersects(o BBox) bool {
	return b[0] <= o[2] && o[0] <= b[2] && b[1] <= o[3] && o[1] <= b[3]
}

// Contains reports whether a point lies inside the box, edges included.
func (b BBox) Contains(x, y float64) bool {
	return x >= b[0] && x <= b[2] && y >= b[1] && y <= b[3]
}

// Union returns the smallest box covering both.
func (b BBox) Union(o BBox) BBox {
	return BBox{math.Min(b[0], o[0]), math.Min(b[1], o[1]), math.Max(b[2], o[2]), math.Max(b[3], o[3])}
}

// ParseBBox parses "minx,miny,maxx,maxy".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, eris.Errorf("layer: bbox %q: want minx,miny,maxx,maxy", s)
	}
	var b BBox
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, eris.Wrapf(err, "layer: bbox %q", s)
		}
		b[i] = f
	}
	if !b.Valid() {
		return BBox{}, eris.Errorf("layer: bbox %q: min exceeds max", s)
	}
	return b, nil
}

// Valid reports whether the box has finite, ordered corners.
func (b BBox) Valid() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b[0] <= b[2] && b[1] <= b[3]
}

// Reproject returns the layer with every geometry transformed to target.
func (l *Layer) Reproject(target *crs.CRS) (*Layer, error) {
	if l.CRS == nil {
		return nil, eris.Wrapf(crs.ErrUnsupportedCRS, "layer %s: source CRS unknown", l.Name)
	}
	t, err := crs.NewTransformer(l.CRS, target)
	if err != nil {
		return nil, err
	}
	out := l.Clone()
	tc := *target
	out.CRS = &tc
	for i, f := range out.Features {
		if f.Geometry == nil {
			continue
		}
		g, err := crs.TransformGeometry(t, f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "layer %s: reproject feature %d", l.Name, i)
		}
		out.Features[i].Geometry = g
	}
	return out, nil
}
