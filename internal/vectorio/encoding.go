package vectorio

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// cpgCodePages maps the bare numeric code page names ArcGIS writes to .cpg
// files.
var cpgCodePages = map[string]encoding.Encoding{
	"437":    charmap.CodePage437,
	"850":    charmap.CodePage850,
	"852":    charmap.CodePage852,
	"866":    charmap.CodePage866,
	"1250":   charmap.Windows1250,
	"1251":   charmap.Windows1251,
	"1252":   charmap.Windows1252,
	"1253":   charmap.Windows1253,
	"1257":   charmap.Windows1257,
	"88591":  charmap.ISO8859_1,
	"88592":  charmap.ISO8859_2,
	"88595":  charmap.ISO8859_5,
	"885915": charmap.ISO8859_15,
}

// codePage resolves an encoding name. UTF-8 (and the empty name) return a
// nil encoding, meaning bytes pass through unchanged.
func codePage(name string) (encoding.Encoding, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "CP")
	switch n {
	case "", "UTF-8", "UTF8", "65001":
		return nil, nil
	}
	if e, ok := cpgCodePages[n]; ok {
		return e, nil
	}
	e, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: unsupported encoding %q", name)
	}
	return e, nil
}

// readCPG returns the code page named in a .cpg sidecar, "" when absent.
func readCPG(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func decodeString(e encoding.Encoding, s string) string {
	if e == nil {
		return s
	}
	out, err := e.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func encodeString(e encoding.Encoding, s string) string {
	if e == nil {
		return s
	}
	out, err := encoding.ReplaceUnsupported(e.NewEncoder()).String(s)
	if err != nil {
		return s
	}
	return out
}
