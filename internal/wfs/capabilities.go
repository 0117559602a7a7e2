package wfs

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
)

// FeatureType is one entry of a capabilities FeatureTypeList. The CRS
// element differs per version: DefaultCRS (2.0), DefaultSRS (1.1), SRS (1.0).
type FeatureType struct {
	Name               string      `xml:"Name" json:"name"`
	Title              string      `xml:"Title" json:"title,omitempty"`
	Abstract           string      `xml:"Abstract" json:"abstract,omitempty"`
	DefaultCRS         string      `xml:"DefaultCRS" json:"-"`
	DefaultSRS         string      `xml:"DefaultSRS" json:"-"`
	SRS                string      `xml:"SRS" json:"-"`
	OtherCRS           []string    `xml:"OtherCRS" json:"other_crs,omitempty"`
	WGS84BoundingBox   *cornerBox  `xml:"WGS84BoundingBox" json:"-"`
	LatLongBoundingBox *latLongBox `xml:"LatLongBoundingBox" json:"-"`
}

type cornerBox struct {
	LowerCorner string `xml:"LowerCorner"`
	UpperCorner string `xml:"UpperCorner"`
}

type latLongBox struct {
	MinX string `xml:"minx,attr"`
	MinY string `xml:"miny,attr"`
	MaxX string `xml:"maxx,attr"`
	MaxY string `xml:"maxy,attr"`
}

// CRS returns the default CRS whichever version announced it.
func (ft FeatureType) CRS() string {
	for _, s := range []string{ft.DefaultCRS, ft.DefaultSRS, ft.SRS} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Bounds returns the advertised WGS84 extent as lon/lat.
func (ft FeatureType) Bounds() (layer.BBox, bool) {
	if b := ft.WGS84BoundingBox; b != nil {
		lo := strings.Fields(b.LowerCorner)
		hi := strings.Fields(b.UpperCorner)
		if len(lo) == 2 && len(hi) == 2 {
			return parseBox(lo[0], lo[1], hi[0], hi[1])
		}
	}
	if b := ft.LatLongBoundingBox; b != nil {
		return parseBox(b.MinX, b.MinY, b.MaxX, b.MaxY)
	}
	return layer.BBox{}, false
}

func parseBox(vals ...string) (layer.BBox, bool) {
	var b layer.BBox
	for i, s := range vals {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return layer.BBox{}, false
		}
		b[i] = f
	}
	return b, true
}

// exceptionText extracts the messages of an OGC exception report, or ""
// when data is not one. OWS reports use ExceptionText, WFS 1.0 uses
// ServiceException.
func exceptionText(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return ""
	}
	dec := fetcher.NewXMLDecoder(bytes.NewReader(trimmed))

	var msgs []string
	isReport := false
	for {
		tok, err := dec.Token()
		if err == io.EOF || err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "ExceptionReport", "ServiceExceptionReport":
			isReport = true
		case "Exception":
			for _, a := range se.Attr {
				if a.Name.Local == "exceptionCode" && a.Value != "" {
					msgs = append(msgs, a.Value+":")
				}
			}
		case "ExceptionText", "ServiceException":
			var text string
			if err := dec.DecodeElement(&text, &se); err == nil {
				if text = strings.Join(strings.Fields(text), " "); text != "" {
					msgs = append(msgs, text)
				}
			}
			if se.Name.Local == "ServiceException" {
				isReport = true
			}
		}
	}
	if !isReport {
		return ""
	}
	if len(msgs) == 0 {
		return "exception report without text"
	}
	return strings.Join(msgs, " ")
}
