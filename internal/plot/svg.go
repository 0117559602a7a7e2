// Package plot renders layers as static SVG maps.
package plot

import (
	"fmt"
	"html"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/layer"
)

const (
	margin      = 12.0
	legendWidth = 160.0
	titleHeight = 28.0
	pointRadius = 3.0
	swatch      = 12.0
	rowHeight   = 18.0
)

var palettes = map[string][]string{
	"tableau": {"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f", "#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac"},
	"viridis": {"#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"},
	"mono":    {"#4e79a7"},
}

// Palette returns the colours of a named palette.
func Palette(name string) ([]string, error) {
	if name == "" {
		name = "tableau"
	}
	p, ok := palettes[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(palettes))
		for n := range palettes {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, eris.Errorf("plot: unknown palette %q (want one of %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

// PlotOptions configures RenderSVG.
type PlotOptions struct {
	// Column colours features by category. Empty draws every feature in the
	// first palette colour.
	Column  string
	Width   int
	Height  int
	Title   string
	Palette string
	Legend  bool
}

// category is one legend entry.
type category struct {
	label string
	color string
}

// RenderSVG draws the layer's geometries fitted to the canvas. Points become
// circles, lines polylines and polygons even-odd filled paths.
func RenderSVG(w io.Writer, l *layer.Layer, opts PlotOptions) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return eris.Errorf("plot: canvas %dx%d must be positive", opts.Width, opts.Height)
	}
	colors, err := Palette(opts.Palette)
	if err != nil {
		return err
	}

	var cats []category
	colorOf := func(*layer.Feature) string { return colors[0] }
	if opts.Column != "" {
		vals, err := l.Unique(opts.Column)
		if err != nil {
			return eris.Wrap(err, "plot: colour column")
		}
		sort.SliceStable(vals, func(i, j int) bool { return layer.Compare(vals[i], vals[j]) < 0 })
		index := make(map[string]string, len(vals))
		for i, v := range vals {
			c := category{label: label(v), color: colors[i%len(colors)]}
			index[layer.FormatValue(v)] = c.color
			cats = append(cats, c)
		}
		colorOf = func(f *layer.Feature) string { return index[layer.FormatValue(f.Get(opts.Column))] }
	}

	top := margin
	if opts.Title != "" {
		top += titleHeight
	}
	right := float64(opts.Width) - margin
	if opts.Legend && len(cats) > 0 {
		right -= legendWidth
	}
	vp := newViewport(l, margin, top, right, float64(opts.Height)-margin)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		opts.Width, opts.Height, opts.Width, opts.Height)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="#ffffff"/>`+"\n")
	if opts.Title != "" {
		fmt.Fprintf(&b, `<text x="%g" y="%g" font-family="sans-serif" font-size="16" font-weight="bold">%s</text>`+"\n",
			margin, margin+16, html.EscapeString(opts.Title))
	}

	drawn := 0
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		drawGeometry(&b, vp, f.Geometry, colorOf(f))
		drawn++
	}

	if opts.Legend && len(cats) > 0 {
		x := right + margin
		fmt.Fprintf(&b, `<text x="%g" y="%g" font-family="sans-serif" font-size="12" font-weight="bold">%s</text>`+"\n",
			x, top+12, html.EscapeString(opts.Column))
		for i, c := range cats {
			y := top + rowHeight*float64(i+1)
			fmt.Fprintf(&b, `<rect x="%g" y="%g" width="%g" height="%g" fill="%s"/>`+"\n", x, y, swatch, swatch, c.color)
			fmt.Fprintf(&b, `<text x="%g" y="%g" font-family="sans-serif" font-size="12">%s</text>`+"\n",
				x+swatch+6, y+swatch-2, html.EscapeString(c.label))
		}
	}
	b.WriteString("</svg>\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "plot: write svg")
	}
	zap.L().With(zap.String("component", "plot")).Debug("rendered svg",
		zap.String("layer", l.Name),
		zap.Int("features", drawn),
		zap.Int("categories", len(cats)),
	)
	return nil
}

func label(v any) string {
	if v == nil {
		return "null"
	}
	return layer.FormatValue(v)
}

// viewport maps layer coordinates onto a canvas box, keeping the aspect
// ratio and flipping y.
type viewport struct {
	minX, maxY float64
	scale      float64
	offX, offY float64
}

func newViewport(l *layer.Layer, left, top, right, bottom float64) viewport {
	w, h := math.Max(right-left, 1), math.Max(bottom-top, 1)
	bounds := l.Bounds()
	if bounds == nil || bounds.IsEmpty() {
		return viewport{scale: 1, offX: left, offY: top}
	}
	minX, minY := bounds.Min(0), bounds.Min(1)
	maxX, maxY := bounds.Max(0), bounds.Max(1)
	dx, dy := maxX-minX, maxY-minY

	var scale float64
	switch {
	case dx == 0 && dy == 0:
		scale = 1
	case dx == 0:
		scale = h / dy
	case dy == 0:
		scale = w / dx
	default:
		scale = math.Min(w/dx, h/dy)
	}
	// Centre the drawing in the box.
	return viewport{
		minX:  minX,
		maxY:  maxY,
		scale: scale,
		offX:  left + (w-dx*scale)/2,
		offY:  top + (h-dy*scale)/2,
	}
}

func (v viewport) project(x, y float64) (float64, float64) {
	return v.offX + (x-v.minX)*v.scale, v.offY + (v.maxY-y)*v.scale
}

func drawGeometry(b *strings.Builder, vp viewport, g geom.T, color string) {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, c := range gc.Geoms() {
			drawGeometry(b, vp, c, color)
		}
		return
	}
	for _, p := range layer.PointParts(g) {
		if p.Empty() {
			continue
		}
		x, y := vp.project(p.X(), p.Y())
		fmt.Fprintf(b, `<circle cx="%.2f" cy="%.2f" r="%g" fill="%s" stroke="#333333" stroke-width="0.5"/>`+"\n",
			x, y, pointRadius, color)
	}
	for _, ls := range layer.LineParts(g) {
		if ls.NumCoords() < 2 {
			continue
		}
		fmt.Fprintf(b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="1.5"/>`+"\n",
			points(vp, ls.FlatCoords(), ls.Stride()), color)
	}
	for _, poly := range layer.PolygonParts(g) {
		var d strings.Builder
		for i := 0; i < poly.NumLinearRings(); i++ {
			r := poly.LinearRing(i)
			flat, stride := r.FlatCoords(), r.Stride()
			for j := 0; j+1 < len(flat); j += stride {
				x, y := vp.project(flat[j], flat[j+1])
				if j == 0 {
					fmt.Fprintf(&d, "M%.2f,%.2f", x, y)
				} else {
					fmt.Fprintf(&d, " L%.2f,%.2f", x, y)
				}
			}
			d.WriteString(" Z ")
		}
		if d.Len() == 0 {
			continue
		}
		fmt.Fprintf(b, `<path d="%s" fill="%s" fill-opacity="0.7" fill-rule="evenodd" stroke="#333333" stroke-width="0.5"/>`+"\n",
			strings.TrimSpace(d.String()), color)
	}
}

func points(vp viewport, flat []float64, stride int) string {
	parts := make([]string, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		x, y := vp.project(flat[i], flat[i+1])
		parts = append(parts, fmt.Sprintf("%.2f,%.2f", x, y))
	}
	return strings.Join(parts, " ")
}
