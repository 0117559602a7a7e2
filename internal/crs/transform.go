package crs

import (
	"math"

	"github.com/rotisserie/eris"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// projection converts between geographic degrees and projected metres.
type projection interface {
	forward(lon, lat float64) (x, y float64, err error)
	inverse(x, y float64) (lon, lat float64, err error)
}

// Transformer converts coordinates from one CRS to another. All supported
// datums are WGS84-compatible, so conversion passes through longitude and
// latitude without a datum shift.
type Transformer struct {
	src, dst         *CRS
	srcProj, dstProj projection
	identity         bool
}

// NewTransformer builds a transformer between two definitions.
func NewTransformer(src, dst *CRS) (*Transformer, error) {
	if src == nil || dst == nil {
		return nil, eris.New("crs: transformer needs a source and a target CRS")
	}
	sp, err := projectionFor(src)
	if err != nil {
		return nil, err
	}
	dp, err := projectionFor(dst)
	if err != nil {
		return nil, err
	}
	return &Transformer{
		src:      src,
		dst:      dst,
		srcProj:  sp,
		dstProj:  dp,
		identity: src.Equal(dst),
	}, nil
}

// Source returns the source CRS.
func (t *Transformer) Source() *CRS { return t.src }

// Target returns the target CRS.
func (t *Transformer) Target() *CRS { return t.dst }

// Transform converts a single x/y (longitude/latitude for geographic CRSs).
func (t *Transformer) Transform(x, y float64) (float64, float64, error) {
	if t.identity {
		return x, y, nil
	}
	if !finite(x) || !finite(y) {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: coordinate (%v, %v)", x, y)
	}
	lon, lat, err := t.srcProj.inverse(x, y)
	if err != nil {
		return 0, 0, err
	}
	if !finite(lon) || !finite(lat) || math.Abs(lon) > 360 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: longitude/latitude (%v, %v)", lon, lat)
	}
	return t.dstProj.forward(lon, lat)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// TransformFlat converts flat coordinates in place; stride is the number of
// ordinates per coordinate and only the first two are touched.
func (t *Transformer) TransformFlat(flat []float64, stride int) error {
	if t.identity {
		return nil
	}
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := t.Transform(flat[i], flat[i+1])
		if err != nil {
			return eris.Wrapf(err, "crs: transform coordinate %d", i/stride)
		}
		flat[i], flat[i+1] = x, y
	}
	return nil
}

func projectionFor(c *CRS) (projection, error) {
	switch c.Method {
	case LongLat:
		return geographic{}, nil
	case WebMercator:
		return webMercator{r: c.Ellipsoid.A}, nil
	case TransverseMercator:
		return newTransverseMercator(c), nil
	case LambertAzimuthalEqualArea:
		return newLAEA(c), nil
	}
	return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: no projection for %s", c)
}

type geographic struct{}

func (geographic) forward(lon, lat float64) (float64, float64, error) { return lon, lat, nil }
func (geographic) inverse(x, y float64) (float64, float64, error)     { return x, y, nil }

// webMercator is EPSG:3857, the spherical Mercator on the WGS84 semi-major
// axis.
type webMercator struct{ r float64 }

func (m webMercator) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) >= 90 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: latitude %v in web mercator", lat)
	}
	x := m.r * lon * deg2rad
	y := m.r * math.Log(math.Tan(math.Pi/4+lat*deg2rad/2))
	return x, y, nil
}

func (m webMercator) inverse(x, y float64) (float64, float64, error) {
	lon := x / m.r * rad2deg
	lat := (2*math.Atan(math.Exp(y/m.r)) - math.Pi/2) * rad2deg
	return lon, lat, nil
}

// transverseMercator uses the Krüger n-series to third order, which is
// accurate to well under a millimetre within a few degrees of the central
// meridian.
type transverseMercator struct {
	lon0, k0, fe, fn float64
	e                float64
	aHat             float64 // rectifying radius A
	alpha, beta      [3]float64
	delta            [3]float64
	m0               float64 // northing of the latitude of origin
}

func newTransverseMercator(c *CRS) *transverseMercator {
	f := c.Ellipsoid.Flattening()
	n := f / (2 - f)
	n2, n3 := n*n, n*n*n
	tm := &transverseMercator{
		lon0: c.Lon0 * deg2rad,
		k0:   c.K0,
		fe:   c.FalseEasting,
		fn:   c.FalseNorthing,
		e:    math.Sqrt(c.Ellipsoid.Ecc2()),
		aHat: c.Ellipsoid.A / (1 + n) * (1 + n2/4 + n2*n2/64),
		alpha: [3]float64{
			n/2 - 2*n2/3 + 5*n3/16,
			13*n2/48 - 3*n3/5,
			61 * n3 / 240,
		},
		beta: [3]float64{
			n/2 - 2*n2/3 + 37*n3/96,
			n2/48 + n3/15,
			17 * n3 / 480,
		},
		delta: [3]float64{
			2*n - 2*n2/3 - 2*n3,
			7*n2/3 - 8*n3/5,
			56 * n3 / 15,
		},
	}
	if c.Lat0 != 0 {
		xi, _ := tm.gauss(c.Lat0*deg2rad, 0)
		tm.m0 = tm.k0 * tm.aHat * xi
	}
	return tm
}

// gauss returns the series-corrected (xi, eta) for a latitude and a
// longitude offset from the central meridian, both in radians.
func (tm *transverseMercator) gauss(phi, dlam float64) (float64, float64) {
	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - tm.e*math.Atanh(tm.e*sinPhi))
	xiP := math.Atan2(t, math.Cos(dlam))
	etaP := math.Atanh(math.Sin(dlam) / math.Sqrt(1+t*t))

	xi, eta := xiP, etaP
	for j := 0; j < 3; j++ {
		k := float64(2 * (j + 1))
		xi += tm.alpha[j] * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += tm.alpha[j] * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}
	return xi, eta
}

func (tm *transverseMercator) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > 90 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: latitude %v", lat)
	}
	dlam := normalizeLon(lon*deg2rad - tm.lon0)
	if math.Abs(dlam) >= math.Pi/2 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: longitude %v too far from central meridian", lon)
	}
	xi, eta := tm.gauss(lat*deg2rad, dlam)
	x := tm.fe + tm.k0*tm.aHat*eta
	y := tm.fn + tm.k0*tm.aHat*xi - tm.m0
	return x, y, nil
}

func (tm *transverseMercator) inverse(x, y float64) (float64, float64, error) {
	xi := (y - tm.fn + tm.m0) / (tm.k0 * tm.aHat)
	eta := (x - tm.fe) / (tm.k0 * tm.aHat)

	xiP, etaP := xi, eta
	for j := 0; j < 3; j++ {
		k := float64(2 * (j + 1))
		xiP -= tm.beta[j] * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= tm.beta[j] * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	phi := chi
	for j := 0; j < 3; j++ {
		phi += tm.delta[j] * math.Sin(float64(2*(j+1))*chi)
	}
	lam := tm.lon0 + math.Atan2(math.Sinh(etaP), math.Cos(xiP))
	return normalizeLon(lam) * rad2deg, phi * rad2deg, nil
}

// laea is the ellipsoidal oblique Lambert azimuthal equal-area projection.
type laea struct {
	a, e, e2     float64
	lon0, fe, fn float64
	qp, rq, d    float64
	phi1         float64
	sinB1, cosB1 float64
}

func newLAEA(c *CRS) *laea {
	l := &laea{
		a:    c.Ellipsoid.A,
		e2:   c.Ellipsoid.Ecc2(),
		lon0: c.Lon0 * deg2rad,
		fe:   c.FalseEasting,
		fn:   c.FalseNorthing,
	}
	l.e = math.Sqrt(l.e2)
	l.qp = l.q(math.Pi / 2)
	l.rq = l.a * math.Sqrt(l.qp/2)
	phi1 := c.Lat0 * deg2rad
	l.phi1 = phi1
	b1 := math.Asin(l.q(phi1) / l.qp)
	l.sinB1, l.cosB1 = math.Sin(b1), math.Cos(b1)
	sinPhi1 := math.Sin(phi1)
	l.d = l.a * (math.Cos(phi1) / math.Sqrt(1-l.e2*sinPhi1*sinPhi1)) / (l.rq * l.cosB1)
	return l
}

func (l *laea) q(phi float64) float64 {
	s := math.Sin(phi)
	if l.e == 0 {
		return 2 * s
	}
	es := l.e * s
	return (1 - l.e2) * (s/(1-es*es) - 1/(2*l.e)*math.Log((1-es)/(1+es)))
}

func (l *laea) forward(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > 90 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: latitude %v", lat)
	}
	ratio := l.q(lat*deg2rad) / l.qp
	ratio = math.Max(-1, math.Min(1, ratio))
	beta := math.Asin(ratio)
	dlam := lon*deg2rad - l.lon0
	sinB, cosB := math.Sin(beta), math.Cos(beta)
	denom := 1 + l.sinB1*sinB + l.cosB1*cosB*math.Cos(dlam)
	if denom <= 1e-12 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: antipode of projection centre (%v, %v)", lon, lat)
	}
	b := l.rq * math.Sqrt(2/denom)
	x := l.fe + b*l.d*cosB*math.Sin(dlam)
	y := l.fn + (b/l.d)*(l.cosB1*sinB-l.sinB1*cosB*math.Cos(dlam))
	return x, y, nil
}

func (l *laea) inverse(x, y float64) (float64, float64, error) {
	dx := (x - l.fe) / l.d
	dy := (y - l.fn) * l.d
	rho := math.Hypot(dx, dy)
	if rho < 1e-12 {
		return l.lon0 * rad2deg, l.phi1 * rad2deg, nil
	}
	arg := rho / (2 * l.rq)
	if arg > 1 {
		return 0, 0, eris.Wrapf(ErrOutOfDomain, "crs: point (%v, %v) outside projection", x, y)
	}
	ce := 2 * math.Asin(arg)
	sinCe, cosCe := math.Sin(ce), math.Cos(ce)

	beta := math.Asin(cosCe*l.sinB1 + (y-l.fn)*l.d*sinCe*l.cosB1/rho)
	lam := l.lon0 + math.Atan2((x-l.fe)*sinCe, l.d*rho*l.cosB1*cosCe-l.d*l.d*(y-l.fn)*l.sinB1*sinCe)

	e2, e4 := l.e2, l.e2*l.e2
	e6 := e4 * e2
	phi := beta +
		(e2/3+31*e4/180+517*e6/5040)*math.Sin(2*beta) +
		(23*e4/360+251*e6/3780)*math.Sin(4*beta) +
		(761*e6/45360)*math.Sin(6*beta)
	return normalizeLon(lam) * rad2deg, phi * rad2deg, nil
}

// normalizeLon wraps an angle in radians into [-π, π].
func normalizeLon(lam float64) float64 {
	return math.Remainder(lam, 2*math.Pi)
}
