// Package hexbin aggregates point layers into H3 hexagon cells.
package hexbin

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

// MaxResolution is the finest H3 resolution.
const MaxResolution = 15

// BinOptions configures Bin.
type BinOptions struct {
	Resolution int
	// SumColumn, when set, adds a sum_<col> column totalling a numeric
	// attribute per cell.
	SumColumn string
}

type cellStats struct {
	count int64
	sum   float64
}

// Bin counts the points of l per H3 cell and returns one hexagon feature per
// occupied cell, ordered by cell index. Layers in another CRS are reprojected
// to WGS 84 first. Multi-point features count once per point.
func Bin(l *layer.Layer, opts BinOptions) (*layer.Layer, error) {
	if opts.Resolution < 0 || opts.Resolution > MaxResolution {
		return nil, eris.Errorf("hexbin: resolution %d out of range 0..%d", opts.Resolution, MaxResolution)
	}
	if opts.SumColumn != "" {
		if _, ok := l.Field(opts.SumColumn); !ok {
			return nil, eris.Wrapf(layer.ErrNoColumn, "hexbin: column %q", opts.SumColumn)
		}
	}
	if fam := l.GeometryFamily(); fam != layer.PointFamily && fam != layer.NoFamily {
		return nil, eris.Errorf("hexbin: layer %s is %s, want points", l.Name, fam)
	}
	wgs := crs.WGS84()
	src := l
	if l.CRS != nil && !l.CRS.Equal(wgs) {
		var err error
		if src, err = l.Reproject(wgs); err != nil {
			return nil, eris.Wrap(err, "hexbin: reproject")
		}
	}

	log := zap.L().With(zap.String("component", "hexbin"))
	cells := make(map[h3.Cell]*cellStats)
	skipped := 0
	for _, f := range src.Features {
		var v float64
		if opts.SumColumn != "" {
			v, _ = layer.ToFloat(f.Get(opts.SumColumn))
		}
		for _, p := range layer.PointParts(f.Geometry) {
			if p.Empty() {
				continue
			}
			c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Y(), Lng: p.X()}, opts.Resolution)
			if err != nil {
				skipped++
				log.Debug("point outside h3 domain", zap.String("feature", f.ID), zap.Error(err))
				continue
			}
			s := cells[c]
			if s == nil {
				s = &cellStats{}
				cells[c] = s
			}
			s.count++
			s.sum += v
		}
	}

	fields := []layer.Field{
		{Name: "h3", Type: layer.String, Width: 16},
		{Name: "count", Type: layer.Integer, Width: 10},
	}
	sumCol := ""
	if opts.SumColumn != "" {
		sumCol = "sum_" + opts.SumColumn
		fields = append(fields, layer.Field{Name: sumCol, Type: layer.Float, Width: 24, Precision: 6})
	}
	out := layer.New(l.Name+"_h3", wgs, fields)

	keys := make([]h3.Cell, 0, len(cells))
	for c := range cells {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, c := range keys {
		poly, err := cellPolygon(c)
		if err != nil {
			return nil, err
		}
		s := cells[c]
		props := map[string]any{"h3": c.String(), "count": s.count}
		if sumCol != "" {
			props[sumCol] = s.sum
		}
		out.Features = append(out.Features, &layer.Feature{ID: c.String(), Geometry: poly, Properties: props})
	}

	log.Info("binned points",
		zap.String("layer", l.Name),
		zap.Int("resolution", opts.Resolution),
		zap.Int("cells", len(keys)),
		zap.Int("skipped", skipped),
	)
	return out, nil
}

// cellPolygon returns the closed lon/lat boundary of a cell.
func cellPolygon(c h3.Cell) (*geom.Polygon, error) {
	b, err := c.Boundary()
	if err != nil {
		return nil, eris.Wrapf(err, "hexbin: boundary of %s", c)
	}
	if len(b) < 3 {
		return nil, eris.Errorf("hexbin: degenerate boundary for %s", c)
	}
	flat := make([]float64, 0, 2*(len(b)+1))
	for _, ll := range b {
		flat = append(flat, ll.Lng, ll.Lat)
	}
	flat = append(flat, b[0].Lng, b[0].Lat)
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), nil
}
