// Package spatial indexes layers with an R-tree and joins them on
// geometric predicates.
package spatial

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"

	"github.com/sells-group/geo-cli/internal/layer"
)

// R-tree fan-out.
const (
	minChildren = 25
	maxChildren = 50
)

// Index is an R-tree over the feature bounds of one layer. Features without
// geometry are not indexed.
type Index struct {
	layer *layer.Layer
	tree  *rtreego.Rtree
	boxes []layer.BBox
	size  int
}

// entry implements rtreego.Spatial for one feature.
type entry struct {
	idx  int
	rect rtreego.Rect
}

func (e entry) Bounds() rtreego.Rect { return e.rect }

// NewIndex bulk-loads an index over l.
func NewIndex(l *layer.Layer) *Index {
	ix := &Index{layer: l, boxes: make([]layer.BBox, len(l.Features))}
	objs := make([]rtreego.Spatial, 0, len(l.Features))
	for i, f := range l.Features {
		b, ok := layer.GeometryBBox(f.Geometry)
		if !ok {
			continue
		}
		ix.boxes[i] = b
		objs = append(objs, entry{idx: i, rect: rect(b)})
	}
	ix.size = len(objs)
	ix.tree = rtreego.NewTree(2, minChildren, maxChildren, objs...)
	return ix
}

// Len returns the number of indexed features.
func (ix *Index) Len() int { return ix.size }

// Query returns the positions of features whose bounds intersect b, edges
// included, in layer order.
func (ix *Index) Query(b layer.BBox) []int {
	hits := ix.tree.SearchIntersect(rect(b))
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		i := h.(entry).idx
		if ix.boxes[i].Intersects(b) {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// Features returns the features whose bounds intersect b.
func (ix *Index) Features(b layer.BBox) []*layer.Feature {
	idx := ix.Query(b)
	out := make([]*layer.Feature, len(idx))
	for k, i := range idx {
		out[k] = ix.layer.Features[i]
	}
	return out
}

// rect converts a box to an R-tree rectangle, padded so that degenerate
// boxes and shared edges still register as intersecting. Query results are
// re-checked against the exact box.
func rect(b layer.BBox) rtreego.Rect {
	r, _ := rtreego.NewRectFromPoints(
		rtreego.Point{b[0] - pad(b[0]), b[1] - pad(b[1])},
		rtreego.Point{b[2] + pad(b[2]), b[3] + pad(b[3])},
	)
	return r
}

func pad(v float64) float64 { return 1e-9 * math.Max(1, math.Abs(v)) }

// ClipBBox keeps the features whose bounds intersect b.
func ClipBBox(l *layer.Layer, b layer.BBox) *layer.Layer {
	return l.Filter(func(f *layer.Feature) bool {
		fb, ok := layer.GeometryBBox(f.Geometry)
		return ok && fb.Intersects(b)
	})
}
