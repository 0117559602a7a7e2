package crs

import (
	"fmt"
	"strconv"
	"strings"
)

const towgs84Zero = "+towgs84=0,0,0,0,0,0,0"

// ProjString renders the definition as a PROJ.4 string, in the form PROJ
// itself emits for the registered codes.
func (c *CRS) ProjString() string {
	var parts []string
	switch c.Method {
	case LongLat:
		parts = append(parts, "+proj=longlat")
	case WebMercator:
		return "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"
	case TransverseMercator:
		if zone, south, ok := c.utmZone(); ok {
			parts = append(parts, "+proj=utm", "+zone="+strconv.Itoa(zone))
			if south {
				parts = append(parts, "+south")
			}
		} else {
			parts = append(parts, "+proj=tmerc",
				"+lat_0="+num(c.Lat0), "+lon_0="+num(c.Lon0), "+k="+num(c.K0),
				"+x_0="+num(c.FalseEasting), "+y_0="+num(c.FalseNorthing))
		}
	case LambertAzimuthalEqualArea:
		parts = append(parts, "+proj=laea",
			"+lat_0="+num(c.Lat0), "+lon_0="+num(c.Lon0),
			"+x_0="+num(c.FalseEasting), "+y_0="+num(c.FalseNorthing))
	}

	if c.Datum == datumWGS84 {
		parts = append(parts, "+datum=WGS84")
	} else {
		parts = append(parts, "+ellps=GRS80", towgs84Zero)
	}
	if c.Kind == Projected {
		parts = append(parts, "+units=m")
	}
	parts = append(parts, "+no_defs")
	return strings.Join(parts, " ")
}

// utmZone reports whether a transverse Mercator definition is a UTM zone.
func (c *CRS) utmZone() (zone int, south bool, ok bool) {
	if c.Method != TransverseMercator || !near(c.K0, 0.9996, paramTolerance) ||
		!near(c.FalseEasting, 500000, metreTolerance) || c.Lat0 != 0 {
		return 0, false, false
	}
	z := (c.Lon0 + 183) / 6
	if z != float64(int(z)) || z < 1 || z > 60 {
		return 0, false, false
	}
	switch {
	case c.FalseNorthing == 0:
		return int(z), false, true
	case near(c.FalseNorthing, 10000000, metreTolerance):
		return int(z), true, true
	}
	return 0, false, false
}

// WKT renders the definition as OGC WKT1, the dialect used in .prj files.
func (c *CRS) WKT() string {
	if c.Kind == Geographic {
		return c.geogcsWKT(c.axisWKT() + c.authorityWKT())
	}
	geog := c.geogcsWKT(`,AUTHORITY["EPSG","` + strconv.Itoa(c.baseGeographic()) + `"]`)

	var b strings.Builder
	fmt.Fprintf(&b, `PROJCS["%s",%s,`, c.Name, geog)
	switch c.Method {
	case WebMercator:
		b.WriteString(`PROJECTION["Mercator_1SP"],`)
		b.WriteString(`PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],`)
		b.WriteString(`PARAMETER["false_easting",0],PARAMETER["false_northing",0],`)
	case TransverseMercator:
		b.WriteString(`PROJECTION["Transverse_Mercator"],`)
		fmt.Fprintf(&b, `PARAMETER["latitude_of_origin",%s],PARAMETER["central_meridian",%s],`, num(c.Lat0), num(c.Lon0))
		fmt.Fprintf(&b, `PARAMETER["scale_factor",%s],`, num(c.K0))
		fmt.Fprintf(&b, `PARAMETER["false_easting",%s],PARAMETER["false_northing",%s],`, num(c.FalseEasting), num(c.FalseNorthing))
	case LambertAzimuthalEqualArea:
		b.WriteString(`PROJECTION["Lambert_Azimuthal_Equal_Area"],`)
		fmt.Fprintf(&b, `PARAMETER["latitude_of_center",%s],PARAMETER["longitude_of_center",%s],`, num(c.Lat0), num(c.Lon0))
		fmt.Fprintf(&b, `PARAMETER["false_easting",%s],PARAMETER["false_northing",%s],`, num(c.FalseEasting), num(c.FalseNorthing))
	}
	b.WriteString(`UNIT["metre",1,AUTHORITY["EPSG","9001"]]`)
	b.WriteString(c.axisWKT())
	if c.Method == WebMercator {
		fmt.Fprintf(&b, `,EXTENSION["PROJ4","%s"]`, c.ProjString())
	}
	b.WriteString(c.authorityWKT())
	b.WriteString("]")
	return b.String()
}

// baseGeographic is the EPSG code of the geographic CRS a definition's
// datum belongs to.
func (c *CRS) baseGeographic() int {
	if c.Datum == datumETRS89 {
		return 4258
	}
	return 4326
}

func (c *CRS) geogcsWKT(tail string) string {
	name, datum := geogNameWGS84, datumWGS84
	ell := WGS84Ellipsoid
	spheroidCode := 7030
	if c.Datum == datumETRS89 {
		name, datum = geogNameETRS89, datumETRS89
		ell = GRS80Ellipsoid
		spheroidCode = 7019
	}
	return fmt.Sprintf(`GEOGCS["%s",DATUM["%s",SPHEROID["%s",%s,%s,AUTHORITY["EPSG","%d"]]],`+
		`PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],`+
		`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]]%s]`,
		name, datum, ell.Name, num(ell.A), num(ell.InvF), spheroidCode, tail)
}

func (c *CRS) axisWKT() string {
	if c.Kind == Geographic {
		if c.AxisOrder == NorthEast {
			return `,AXIS["Latitude",NORTH],AXIS["Longitude",EAST]`
		}
		return `,AXIS["Longitude",EAST],AXIS["Latitude",NORTH]`
	}
	if c.AxisOrder == NorthEast {
		return `,AXIS["Northing",NORTH],AXIS["Easting",EAST]`
	}
	return `,AXIS["Easting",EAST],AXIS["Northing",NORTH]`
}

func (c *CRS) authorityWKT() string {
	if c.EPSG <= 0 {
		return ""
	}
	return fmt.Sprintf(`,AUTHORITY["EPSG","%d"]`, c.EPSG)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
