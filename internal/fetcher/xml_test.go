package fetcher

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

type testFeatureType struct {
	Name  string `xml:"Name"`
	Title string `xml:"Title"`
}

func TestStreamXML_Namespaced(t *testing.T) {
	input := `<?xml version="1.0" encoding="UTF-8"?>
<wfs:WFS_Capabilities xmlns:wfs="http://www.opengis.net/wfs/2.0">
  <wfs:FeatureTypeList>
    <wfs:FeatureType><wfs:Name>avoindata:Seutukartta_aluejako_pienalue</wfs:Name><wfs:Title>Pienalueet</wfs:Title></wfs:FeatureType>
    <wfs:FeatureType><wfs:Name>avoindata:Kaupunginosajako</wfs:Name><wfs:Title>Kaupunginosat</wfs:Title></wfs:FeatureType>
  </wfs:FeatureTypeList>
</wfs:WFS_Capabilities>`

	ch, errCh := StreamXML[testFeatureType](context.Background(), strings.NewReader(input), "FeatureType")
	var items []testFeatureType
	for item := range ch {
		items = append(items, item)
	}
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, items, 2)
	assert.Equal(t, "avoindata:Kaupunginosajako", items[1].Name)
	assert.Equal(t, "Pienalueet", items[0].Title)
}

func TestStreamXML_Latin1(t *testing.T) {
	doc := `<?xml version="1.0" encoding="ISO-8859-1"?><list><FeatureType><Name>a</Name><Title>Länsi-Pasila</Title></FeatureType></list>`
	var buf bytes.Buffer
	w := charmap.ISO8859_1.NewEncoder().Writer(&buf)
	_, err := w.Write([]byte(doc))
	require.NoError(t, err)

	ch, errCh := StreamXML[testFeatureType](context.Background(), &buf, "FeatureType")
	var items []testFeatureType
	for item := range ch {
		items = append(items, item)
	}
	for err := range errCh {
		require.NoError(t, err)
	}
	require.Len(t, items, 1)
	assert.Equal(t, "Länsi-Pasila", items[0].Title)
}

func TestStreamXML_UnknownCharset(t *testing.T) {
	doc := `<?xml version="1.0" encoding="x-nonsense"?><list><FeatureType><Name>a</Name></FeatureType></list>`
	ch, errCh := StreamXML[testFeatureType](context.Background(), strings.NewReader(doc), "FeatureType")
	for range ch {
	}
	assert.Error(t, <-errCh)
}

func TestStreamXML_Malformed(t *testing.T) {
	ch, errCh := StreamXML[testFeatureType](context.Background(), strings.NewReader("<a><FeatureType><Name>x</a>"), "FeatureType")
	for range ch {
	}
	assert.Error(t, <-errCh)
}
