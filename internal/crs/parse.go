package crs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	epsgURNRe = regexp.MustCompile(`(?i)^urn:(?:x-)?ogc:def:crs:epsg:(?:[0-9.]*:)?(\d+)$`)
	epsgURIRe = regexp.MustCompile(`(?i)^https?://www\.opengis\.net/def/crs/epsg/[^/]+/(\d+)$`)
	epsgGMLRe = regexp.MustCompile(`(?i)^https?://www\.opengis\.net/gml/srs/epsg\.xml#(\d+)$`)

	// Top-level authority closes the WKT, so the last match wins.
	wktAuthorityRe = regexp.MustCompile(`(?i)(?:AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]|ID\[\s*"EPSG"\s*,\s*(\d+)\s*\])`)
	wktParamRe     = regexp.MustCompile(`(?i)PARAMETER\[\s*"([^"]+)"\s*,\s*([-+0-9.eE]+)`)
	wktProjRe      = regexp.MustCompile(`(?i)(?:PROJECTION|METHOD)\[\s*"([^"]+)"`)
	wktSpheroidRe  = regexp.MustCompile(`(?i)(?:SPHEROID|ELLIPSOID)\[\s*"([^"]*)"\s*,\s*([-+0-9.eE]+)\s*,\s*([-+0-9.eE]+)`)
	wktNameRe      = regexp.MustCompile(`(?i)^\s*(PROJCS|GEOGCS|PROJCRS|GEOGCRS|GEODCRS)\[\s*"([^"]+)"`)
)

// Parse reads any supported CRS descriptor: "EPSG:3067", a bare code,
// OGC URNs and URIs, "CRS84", proj strings and WKT (1 or 2).
func Parse(s string) (*CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, eris.New("crs: empty descriptor")
	}

	upper := strings.ToUpper(s)
	switch {
	case upper == "CRS84" || strings.HasSuffix(upper, ":CRS84") || strings.HasSuffix(upper, "/CRS84"):
		c := WGS84()
		c.AxisOrder = EastNorth
		return c, nil
	case strings.HasPrefix(upper, "EPSG:"):
		return parseCode(s[len("EPSG:"):])
	case isDigits(s):
		return parseCode(s)
	case strings.HasPrefix(s, "+") || strings.Contains(s, "+proj=") || strings.Contains(s, "+init="):
		return ParseProj(s)
	case strings.Contains(s, "["):
		return ParseWKT(s)
	}

	for _, re := range []*regexp.Regexp{epsgURNRe, epsgURIRe, epsgGMLRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			return parseCode(m[1])
		}
	}

	return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: unrecognised descriptor %q", s)
}

func parseCode(s string) (*CRS, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, eris.Wrapf(err, "crs: parse EPSG code %q", s)
	}
	return FromEPSG(code)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseProj reads a PROJ.4 style definition. "+init=epsg:n" resolves
// directly; otherwise the parameters are matched against the registry and
// an unregistered definition is returned with EPSG 0 when it uses a
// supported method.
func ParseProj(s string) (*CRS, error) {
	params := map[string]string{}
	for _, tok := range strings.Fields(s) {
		tok = strings.TrimPrefix(tok, "+")
		k, v, _ := strings.Cut(tok, "=")
		params[strings.ToLower(k)] = v
	}

	if initArg, ok := params["init"]; ok {
		code, found := strings.CutPrefix(strings.ToLower(initArg), "epsg:")
		if !found {
			return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: init %q", initArg)
		}
		return parseCode(code)
	}

	c := &CRS{K0: 1}
	c.Ellipsoid, c.Datum = projEllipsoid(params)

	num := func(key string, def float64) float64 {
		v, ok := params[key]
		if !ok {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def
		}
		return f
	}

	switch params["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		c.Kind = Geographic
		c.Method = LongLat
		c.AxisOrder = NorthEast
		c.Name = c.Ellipsoid.Name
	case "merc":
		if num("a", 0) != 6378137 || num("b", 0) != 6378137 {
			return nil, eris.Wrap(ErrUnsupportedCRS, "crs: only the spherical (web) mercator is supported")
		}
		c.Kind = Projected
		c.Method = WebMercator
		c.Ellipsoid = PseudoMercator
		c.Datum = datumWGS84
	case "utm":
		zone, err := strconv.Atoi(params["zone"])
		if err != nil || zone < 1 || zone > 60 {
			return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: utm zone %q", params["zone"])
		}
		c.Kind = Projected
		c.Method = TransverseMercator
		c.Lon0 = float64(zone*6 - 183)
		c.K0 = 0.9996
		c.FalseEasting = 500000
		if _, south := params["south"]; south {
			c.FalseNorthing = 10000000
		}
	case "tmerc":
		c.Kind = Projected
		c.Method = TransverseMercator
		c.Lat0 = num("lat_0", 0)
		c.Lon0 = num("lon_0", 0)
		c.K0 = num("k_0", num("k", 1))
		c.FalseEasting = num("x_0", 0)
		c.FalseNorthing = num("y_0", 0)
	case "laea":
		c.Kind = Projected
		c.Method = LambertAzimuthalEqualArea
		c.Lat0 = num("lat_0", 0)
		c.Lon0 = num("lon_0", 0)
		c.FalseEasting = num("x_0", 0)
		c.FalseNorthing = num("y_0", 0)
	default:
		return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: proj method %q", params["proj"])
	}

	if c.Kind == Projected {
		c.Name = "custom " + c.Method.String()
	}
	return Identify(c), nil
}

func projEllipsoid(params map[string]string) (Ellipsoid, string) {
	switch strings.ToUpper(params["datum"]) {
	case "WGS84":
		return WGS84Ellipsoid, datumWGS84
	}
	switch strings.ToUpper(params["ellps"]) {
	case "GRS80":
		return GRS80Ellipsoid, datumETRS89
	case "WGS84":
		return WGS84Ellipsoid, datumWGS84
	}
	return WGS84Ellipsoid, datumWGS84
}

// ParseWKT reads OGC/ESRI WKT1 or WKT2. An EPSG authority on the root node
// wins; otherwise the projection parameters are matched against the
// registry.
func ParseWKT(s string) (*CRS, error) {
	nm := wktNameRe.FindStringSubmatch(s)
	if nm == nil {
		return nil, eris.Wrap(ErrUnsupportedCRS, "crs: WKT has no PROJCS/GEOGCS root")
	}
	root := strings.ToUpper(nm[1])

	if code, ok := rootAuthority(s); ok {
		if c, err := parseCode(code); err == nil && (c.Kind == Projected || strings.HasPrefix(root, "GEO")) {
			return c, nil
		}
	}

	c := &CRS{Name: nm[2], K0: 1, Ellipsoid: WGS84Ellipsoid, Datum: datumWGS84}
	if sm := wktSpheroidRe.FindStringSubmatch(s); sm != nil {
		a, _ := strconv.ParseFloat(sm[2], 64)
		invf, _ := strconv.ParseFloat(sm[3], 64)
		c.Ellipsoid = Ellipsoid{Name: strings.ReplaceAll(sm[1], "_", " "), A: a, InvF: invf}
		if near(invf, GRS80Ellipsoid.InvF, 1e-6) {
			c.Datum = datumETRS89
		}
	}

	if strings.HasPrefix(root, "GEOG") {
		c.Kind = Geographic
		c.AxisOrder = NorthEast
		return Identify(c), nil
	}

	c.Kind = Projected
	pm := wktProjRe.FindStringSubmatch(s)
	if pm == nil {
		return nil, eris.Wrap(ErrUnsupportedCRS, "crs: projected WKT without projection")
	}
	switch normalizeName(pm[1]) {
	case "transversemercator":
		c.Method = TransverseMercator
	case "mercator1sp", "mercator", "popularvisualisationpseudomercator", "mercatorauxiliarysphere":
		c.Method = WebMercator
		c.Ellipsoid = PseudoMercator
	case "lambertazimuthalequalarea":
		c.Method = LambertAzimuthalEqualArea
	default:
		return nil, eris.Wrapf(ErrUnsupportedCRS, "crs: projection %q", pm[1])
	}

	for _, p := range wktParamRe.FindAllStringSubmatch(s, -1) {
		v, err := strconv.ParseFloat(p[2], 64)
		if err != nil {
			continue
		}
		switch normalizeName(p[1]) {
		case "latitudeoforigin", "latitudeofcenter", "latitudeofnaturalorigin":
			c.Lat0 = v
		case "centralmeridian", "longitudeofcenter", "longitudeofnaturalorigin":
			c.Lon0 = v
		case "scalefactor", "scalefactoratnaturalorigin":
			c.K0 = v
		case "falseeasting":
			c.FalseEasting = v
		case "falsenorthing":
			c.FalseNorthing = v
		}
	}

	return Identify(c), nil
}

// rootAuthority returns the EPSG code of the authority that closes the root
// node. Authorities of nested nodes (the GEOGCS of a PROJCS, a METHOD) do
// not count.
func rootAuthority(s string) (string, bool) {
	s = strings.TrimSpace(s)
	locs := wktAuthorityRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return "", false
	}
	last := locs[len(locs)-1]
	if strings.TrimSpace(s[last[1]:]) != "]" {
		return "", false
	}
	if last[2] >= 0 {
		return s[last[2]:last[3]], true
	}
	return s[last[4]:last[5]], true
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
