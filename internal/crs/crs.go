// Package crs describes coordinate reference systems and converts between
// their EPSG, proj-string and WKT descriptors. It also reprojects go-geom
// geometries between the registered systems.
package crs

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// Sentinel errors.
var (
	ErrUnsupportedCRS = eris.New("crs: unsupported coordinate reference system")
	ErrOutOfDomain    = eris.New("crs: coordinate outside projection domain")
)

// Kind distinguishes geographic (degrees) from projected (metres) systems.
type Kind int

// Kinds.
const (
	Geographic Kind = iota
	Projected
)

func (k Kind) String() string {
	if k == Projected {
		return "projected"
	}
	return "geographic"
}

// AxisOrder is the axis order declared by the CRS authority.
type AxisOrder int

// Axis orders.
const (
	EastNorth AxisOrder = iota
	NorthEast
)

func (a AxisOrder) String() string {
	if a == NorthEast {
		return "north-east"
	}
	return "east-north"
}

// Method is the map projection method of a projected CRS.
type Method int

// Projection methods.
const (
	LongLat Method = iota
	WebMercator
	TransverseMercator
	LambertAzimuthalEqualArea
)

func (m Method) String() string {
	switch m {
	case WebMercator:
		return "merc"
	case TransverseMercator:
		return "tmerc"
	case LambertAzimuthalEqualArea:
		return "laea"
	default:
		return "longlat"
	}
}

// Ellipsoid is a reference ellipsoid.
type Ellipsoid struct {
	Name string
	A    float64 // semi-major axis, metres
	InvF float64 // inverse flattening; 0 for a sphere
}

// Flattening returns f.
func (e Ellipsoid) Flattening() float64 {
	if e.InvF == 0 {
		return 0
	}
	return 1 / e.InvF
}

// Ecc2 returns the squared first eccentricity.
func (e Ellipsoid) Ecc2() float64 {
	f := e.Flattening()
	return f * (2 - f)
}

// Reference ellipsoids.
var (
	WGS84Ellipsoid = Ellipsoid{Name: "WGS 84", A: 6378137, InvF: 298.257223563}
	GRS80Ellipsoid = Ellipsoid{Name: "GRS 1980", A: 6378137, InvF: 298.257222101}
	PseudoMercator = Ellipsoid{Name: "Popular Visualisation Sphere", A: 6378137}
)

const (
	datumWGS84     = "WGS_1984"
	datumETRS89    = "European_Terrestrial_Reference_System_1989"
	geogNameWGS84  = "WGS 84"
	geogNameETRS89 = "ETRS89"

	paramTolerance  = 1e-9
	metreTolerance  = 1e-3
	degreeTolerance = 1e-9
)

// CRS is a coordinate reference system definition.
type CRS struct {
	EPSG      int
	Name      string
	Kind      Kind
	Datum     string
	Ellipsoid Ellipsoid
	Method    Method
	AxisOrder AxisOrder

	// Projection parameters, degrees and metres.
	Lat0          float64
	Lon0          float64
	K0            float64
	FalseEasting  float64
	FalseNorthing float64
}

// String returns "EPSG:<code>", or the name for CRSs without a code.
func (c *CRS) String() string {
	if c == nil {
		return "<none>"
	}
	if c.EPSG > 0 {
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	return c.Name
}

// URN returns the OGC URN form used by WFS 1.1 and 2.0.
func (c *CRS) URN() string {
	return fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", c.EPSG)
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c *CRS) IsGeographic() bool { return c != nil && c.Kind == Geographic }

// Equal compares two definitions by their parameters, ignoring names.
// Datums that only differ by being WGS84 or ETRS89 compare equal when the
// ellipsoid parameters match.
func (c *CRS) Equal(o *CRS) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.EPSG > 0 && c.EPSG == o.EPSG {
		return true
	}
	if c.Kind != o.Kind || c.Method != o.Method {
		return false
	}
	if !near(c.Ellipsoid.A, o.Ellipsoid.A, metreTolerance) ||
		!near(c.Ellipsoid.InvF, o.Ellipsoid.InvF, 1e-6) {
		return false
	}
	if c.Kind == Geographic {
		return true
	}
	return near(c.Lat0, o.Lat0, degreeTolerance) &&
		near(c.Lon0, o.Lon0, degreeTolerance) &&
		near(c.K0, o.K0, paramTolerance) &&
		near(c.FalseEasting, o.FalseEasting, metreTolerance) &&
		near(c.FalseNorthing, o.FalseNorthing, metreTolerance)
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

var registry = map[int]*CRS{}

// aliases maps deprecated or unofficial codes to registered ones.
var aliases = map[int]int{
	900913: 3857,
	3785:   3857,
	102100: 3857,
}

func register(c *CRS) { registry[c.EPSG] = c }

func init() {
	register(&CRS{EPSG: 4326, Name: geogNameWGS84, Kind: Geographic, Datum: datumWGS84,
		Ellipsoid: WGS84Ellipsoid, AxisOrder: NorthEast})
	register(&CRS{EPSG: 4258, Name: geogNameETRS89, Kind: Geographic, Datum: datumETRS89,
		Ellipsoid: GRS80Ellipsoid, AxisOrder: NorthEast})
	register(&CRS{EPSG: 3857, Name: "WGS 84 / Pseudo-Mercator", Kind: Projected, Datum: datumWGS84,
		Ellipsoid: PseudoMercator, Method: WebMercator, K0: 1})
	register(&CRS{EPSG: 3067, Name: "ETRS89 / TM35FIN(E,N)", Kind: Projected, Datum: datumETRS89,
		Ellipsoid: GRS80Ellipsoid, Method: TransverseMercator, Lon0: 27, K0: 0.9996, FalseEasting: 500000})
	register(&CRS{EPSG: 3879, Name: "ETRS89 / GK25FIN", Kind: Projected, Datum: datumETRS89,
		Ellipsoid: GRS80Ellipsoid, Method: TransverseMercator, Lon0: 25, K0: 1, FalseEasting: 25500000,
		AxisOrder: NorthEast})
	register(&CRS{EPSG: 3035, Name: "ETRS89-extended / LAEA Europe", Kind: Projected, Datum: datumETRS89,
		Ellipsoid: GRS80Ellipsoid, Method: LambertAzimuthalEqualArea, Lat0: 52, Lon0: 10, K0: 1,
		FalseEasting: 4321000, FalseNorthing: 3210000, AxisOrder: NorthEast})

	for zone := 1; zone <= 60; zone++ {
		lon0 := float64(zone*6 - 183)
		register(&CRS{EPSG: 32600 + zone, Name: fmt.Sprintf("WGS 84 / UTM zone %dN", zone), Kind: Projected,
			Datum: datumWGS84, Ellipsoid: WGS84Ellipsoid, Method: TransverseMercator,
			Lon0: lon0, K0: 0.9996, FalseEasting: 500000})
		register(&CRS{EPSG: 32700 + zone, Name: fmt.Sprintf("WGS 84 / UTM zone %dS", zone), Kind: Projected,
			Datum: datumWGS84, Ellipsoid: WGS84Ellipsoid, Method: TransverseMercator,
			Lon0: lon0, K0: 0.9996, FalseEasting: 500000, FalseNorthing: 10000000})
	}
	for zone := 28; zone <= 38; zone++ {
		register(&CRS{EPSG: 25800 + zone, Name: fmt.Sprintf("ETRS89 / UTM zone %dN", zone), Kind: Projected,
			Datum: datumETRS89, Ellipsoid: GRS80Ellipsoid, Method: TransverseMercator,
			Lon0: float64(zone*6 - 183), K0: 0.9996, FalseEasting: 500000})
	}
}

// FromEPSG returns the registered CRS for an EPSG code.
func FromEPSG(code int) (*CRS, error) {
	if alias, ok := aliases[code]; ok {
		code = alias
	}
	c, ok := registry[code]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: EPSG:%d", code)
	}
	cp := *c
	return &cp, nil
}

// MustEPSG is FromEPSG for codes known to be registered.
func MustEPSG(code int) *CRS {
	c, err := FromEPSG(code)
	if err != nil {
		panic(err)
	}
	return c
}

// WGS84 returns EPSG:4326.
func WGS84() *CRS { return MustEPSG(4326) }

// Codes lists the registered EPSG codes in ascending order.
func Codes() []int {
	codes := make([]int, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Identify returns the registered CRS equal to c by parameters, preferring
// the lowest code. Returns c unchanged when nothing matches.
func Identify(c *CRS) *CRS {
	if c == nil || c.EPSG > 0 {
		return c
	}
	for _, code := range preferredOrder() {
		if r := registry[code]; r.Equal(c) {
			cp := *r
			return &cp
		}
	}
	return c
}

// preferredOrder puts national systems ahead of the generic UTM grids that
// share their parameters (3067 is UTM 35N on GRS80).
func preferredOrder() []int {
	codes := Codes()
	sort.SliceStable(codes, func(i, j int) bool {
		return codes[i] < 10000 && codes[j] >= 10000
	})
	return codes
}
