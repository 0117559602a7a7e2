package wfs

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/layer"
)

// AxisPolicy decides whether fetched coordinates get their X and Y swapped.
type AxisPolicy string

// Axis policies.
const (
	// AxisAuto swaps when the request CRS is latitude-first by authority
	// and the service honours that, or when the data looks swapped.
	AxisAuto AxisPolicy = "auto"
	// AxisXY never swaps.
	AxisXY AxisPolicy = "xy"
	// AxisYX always swaps.
	AxisYX AxisPolicy = "yx"
)

// ParseAxisPolicy accepts auto, xy and yx. Empty means auto.
func ParseAxisPolicy(s string) (AxisPolicy, error) {
	switch p := AxisPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AxisAuto, nil
	case AxisAuto, AxisXY, AxisYX:
		return p, nil
	default:
		return "", eris.Errorf("wfs: unknown axis order %q (want auto, xy or yx)", s)
	}
}

// shouldSwap applies the client's policy to a fetched layer.
func (c *Client) shouldSwap(l *layer.Layer, srsName string) bool {
	switch c.Axis {
	case AxisYX:
		return true
	case AxisXY:
		return false
	}
	if srsName != "" && authorityNorthFirst(srsName, c.version()) {
		return true
	}
	return l.CRS.IsGeographic() && looksSwapped(l)
}

// authorityNorthFirst reports whether a service at the given version
// returns coordinates of srsName latitude first. Only the URN and URI forms
// carry the authority axis order; the short "EPSG:n" form stays x/y.
func authorityNorthFirst(srsName, version string) bool {
	if !versionAtLeast(version, "1.1.0") {
		return false
	}
	lower := strings.ToLower(srsName)
	if !strings.HasPrefix(lower, "urn:") && !strings.Contains(lower, "/def/crs/") {
		return false
	}
	c, err := crs.Parse(srsName)
	if err != nil {
		return false
	}
	return c.AxisOrder == crs.NorthEast
}

// looksSwapped reports whether every x is a valid latitude while some y
// is not.
func looksSwapped(l *layer.Layer) bool {
	sawY := false
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		flat, stride := flatCoords(f.Geometry)
		for i := 0; i+1 < len(flat); i += stride {
			if math.Abs(flat[i]) > 90 {
				return false
			}
			if math.Abs(flat[i+1]) > 90 {
				sawY = true
			}
		}
	}
	return sawY
}

func flatCoords(g geom.T) ([]float64, int) {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		var flat []float64
		stride := 2
		for _, sub := range gc.Geoms() {
			f, s := flatCoords(sub)
			// Mixed layouts fall back to the first two ordinates only.
			for i := 0; i+1 < len(f); i += s {
				flat = append(flat, f[i], f[i+1])
			}
		}
		return flat, stride
	}
	return g.FlatCoords(), g.Stride()
}

func swapLayer(l *layer.Layer) {
	for _, f := range l.Features {
		if f.Geometry != nil {
			f.Geometry = crs.SwapXY(f.Geometry)
		}
	}
}
