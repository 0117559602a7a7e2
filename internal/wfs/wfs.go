// Package wfs fetches feature types and features from OGC Web Feature
// Services and corrects the coordinate axis order of what comes back.
package wfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/config"
	"github.com/sells-group/geo-cli/internal/crs"
	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
	"github.com/sells-group/geo-cli/internal/resilience"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

const (
	defaultVersion  = "2.0.0"
	defaultPageSize = 1000
	jsonFormat      = "application/json"
)

var (
	// ErrServiceException is returned when the service answers with an OGC
	// exception report.
	ErrServiceException = eris.New("wfs: service exception")

	// ErrInvalidQuery is returned for queries the service cannot express.
	ErrInvalidQuery = eris.New("wfs: invalid query")
)

// Client talks to one WFS endpoint.
type Client struct {
	Endpoint string
	Version  string
	HTTP     fetcher.Fetcher
	PageSize int
	Axis     AxisPolicy
	// Retry covers failures while reading a response body, which the
	// fetcher cannot retry on its own.
	Retry resilience.RetryConfig
}

// NewClient builds a client from the wfs config section.
func NewClient(cfg config.WFSConfig, f fetcher.Fetcher) (*Client, error) {
	if cfg.URL == "" {
		return nil, eris.New("wfs: no endpoint configured (wfs.url)")
	}
	axis, err := ParseAxisPolicy(cfg.AxisOrder)
	if err != nil {
		return nil, err
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("wfs", "get_feature")
	return &Client{
		Endpoint: cfg.URL,
		Version:  cfg.Version,
		HTTP:     f,
		PageSize: cfg.PageSize,
		Axis:     axis,
		Retry:    retry,
	}, nil
}

func (c *Client) version() string {
	if c.Version == "" {
		return defaultVersion
	}
	return c.Version
}

func (c *Client) pageSize() int {
	if c.PageSize <= 0 {
		return defaultPageSize
	}
	return c.PageSize
}

// requestURL merges params into the endpoint's own query string.
func (c *Client) requestURL(params url.Values) (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", eris.Wrapf(err, "wfs: parse endpoint %s", c.Endpoint)
	}
	q := u.Query()
	for k, vs := range params {
		// Drop case variants of the same key; servers read parameter names
		// case-insensitively.
		for existing := range q {
			if strings.EqualFold(existing, k) {
				q.Del(existing)
			}
		}
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// get downloads one response and returns its body. Service exceptions, sent
// either as an error status or as a 200 XML document, become
// ErrServiceException.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if c.HTTP == nil {
		return nil, eris.New("wfs: no HTTP fetcher configured")
	}
	rawURL, err := c.requestURL(params)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("wfs request", zap.String("component", "wfs"), zap.String("url", rawURL))

	return resilience.DoVal(ctx, c.Retry, func(ctx context.Context) ([]byte, error) {
		body, err := c.HTTP.Download(ctx, rawURL)
		if err != nil {
			var se *fetcher.StatusError
			if errors.As(err, &se) {
				if msg := exceptionText(se.Body); msg != "" {
					return nil, eris.Wrapf(ErrServiceException, "%s (status %d)", msg, se.Code)
				}
			}
			return nil, eris.Wrap(err, "wfs: request")
		}
		defer body.Close() //nolint:errcheck

		data, err := io.ReadAll(body)
		if err != nil {
			return nil, resilience.Transient(eris.Wrap(err, "wfs: read response"))
		}
		if msg := exceptionText(data); msg != "" {
			return nil, eris.Wrap(ErrServiceException, msg)
		}
		return data, nil
	})
}

// GetCapabilities lists the feature types the service offers.
func (c *Client) GetCapabilities(ctx context.Context) ([]FeatureType, error) {
	params := url.Values{
		"service": {"WFS"},
		"request": {"GetCapabilities"},
		"version": {c.version()},
	}
	data, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	items, errCh := fetcher.StreamXML[FeatureType](ctx, bytes.NewReader(data), "FeatureType")
	var types []FeatureType
	for ft := range items {
		ft.Name = strings.TrimSpace(ft.Name)
		if ft.Name == "" {
			continue
		}
		types = append(types, ft)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "wfs: parse capabilities")
	}
	return types, nil
}

// Query selects features of one type.
type Query struct {
	TypeName string
	// SRSName is sent as srsName and becomes the layer CRS. Empty leaves the
	// choice to the service.
	SRSName    string
	BBox       *layer.BBox
	BBoxCRS    string // defaults to SRSName
	CQLFilter  string
	Properties []string
	Count      int // page size; defaults to the client page size
	StartIndex int
	// MaxFeatures caps the total over all pages; 0 fetches everything.
	MaxFeatures int
}

// BuildGetFeatureParams renders q as GetFeature key-value parameters. The
// count and type-name keys follow the client version.
func (c *Client) BuildGetFeatureParams(q Query) (url.Values, error) {
	if q.TypeName == "" {
		return nil, eris.Wrap(ErrInvalidQuery, "type name is required")
	}
	if q.BBox != nil && q.CQLFilter != "" {
		return nil, eris.Wrap(ErrInvalidQuery, "bbox and cql_filter cannot be combined")
	}

	v := c.version()
	v2 := versionAtLeast(v, "2.0.0")
	p := url.Values{
		"service":      {"WFS"},
		"version":      {v},
		"request":      {"GetFeature"},
		"outputFormat": {jsonFormat},
	}
	if v2 {
		p.Set("typeNames", q.TypeName)
	} else {
		p.Set("typeName", q.TypeName)
	}
	if q.SRSName != "" {
		p.Set("srsName", q.SRSName)
	}
	if q.BBox != nil {
		bboxCRS := q.BBoxCRS
		if bboxCRS == "" {
			bboxCRS = q.SRSName
		}
		b := *q.BBox
		if bboxCRS != "" && authorityNorthFirst(bboxCRS, v) {
			b = layer.BBox{b[1], b[0], b[3], b[2]}
		}
		parts := []string{fmtCoord(b[0]), fmtCoord(b[1]), fmtCoord(b[2]), fmtCoord(b[3])}
		if bboxCRS != "" {
			parts = append(parts, bboxCRS)
		}
		p.Set("bbox", strings.Join(parts, ","))
	}
	if q.CQLFilter != "" {
		p.Set("cql_filter", q.CQLFilter)
	}
	if len(q.Properties) > 0 {
		p.Set("propertyName", strings.Join(q.Properties, ","))
	}
	if q.Count > 0 {
		if v2 {
			p.Set("count", strconv.Itoa(q.Count))
		} else {
			p.Set("maxFeatures", strconv.Itoa(q.Count))
		}
	}
	if q.StartIndex > 0 {
		p.Set("startIndex", strconv.Itoa(q.StartIndex))
	}
	return p, nil
}

// GetFeature downloads the features of q page by page and returns them as
// one layer with the axis policy applied. Only WFS 2.0.0 defines paging;
// older versions are fetched in a single request. Paging also stops when a
// page brings no features that earlier pages did not.
func (c *Client) GetFeature(ctx context.Context, q Query) (*layer.Layer, error) {
	log := zap.L().With(zap.String("component", "wfs"), zap.String("type_name", q.TypeName))

	var reqCRS *crs.CRS
	if q.SRSName != "" {
		var err error
		if reqCRS, err = crs.Parse(q.SRSName); err != nil {
			return nil, eris.Wrap(err, "wfs: srsName")
		}
	}

	page := q.Count
	if page <= 0 {
		page = c.pageSize()
	}
	paging := versionAtLeast(c.version(), "2.0.0")
	if !paging {
		page = q.MaxFeatures
	}
	seen := map[string]bool{}

	var out *layer.Layer
	start := q.StartIndex
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "wfs: get feature")
		}
		pq := q
		pq.StartIndex = start
		pq.Count = page
		if q.MaxFeatures > 0 && out != nil && page > q.MaxFeatures-out.Len() {
			pq.Count = q.MaxFeatures - out.Len()
		}
		params, err := c.BuildGetFeatureParams(pq)
		if err != nil {
			return nil, err
		}
		data, err := c.get(ctx, params)
		if err != nil {
			return nil, err
		}
		l, err := vectorio.ReadGeoJSON(bytes.NewReader(data), q.TypeName)
		if err != nil {
			return nil, eris.Wrapf(err, "wfs: decode page at %d", start)
		}
		log.Debug("fetched page", zap.Int("start_index", start), zap.Int("features", l.Len()))
		fetched := l.Len()

		fresh := dropSeen(l, seen)
		if out == nil {
			out = l
		} else {
			mergePage(out, l)
		}
		if !paging || fetched == 0 || fetched < pq.Count {
			break
		}
		if fresh == 0 {
			log.Warn("server repeated a page, it probably ignores startIndex", zap.Int("start_index", start))
			break
		}
		if q.MaxFeatures > 0 && out.Len() >= q.MaxFeatures {
			break
		}
		start += fetched
	}

	out.Name = q.TypeName
	if q.MaxFeatures > 0 && out.Len() > q.MaxFeatures {
		out.Features = out.Features[:q.MaxFeatures]
	}
	if reqCRS != nil {
		out.CRS = reqCRS
	}

	if c.shouldSwap(out, q.SRSName) {
		log.Warn("swapping coordinate axes", zap.String("axis_order", string(c.Axis)),
			zap.String("srs_name", q.SRSName), zap.Int("features", out.Len()))
		swapLayer(out)
	}
	log.Info("features fetched", zap.Int("features", out.Len()))
	return out, nil
}

// dropSeen removes features already returned by an earlier page, recording
// the rest in seen, and returns how many were new. Features are keyed by id
// and coordinates since servers number id-less features per response.
func dropSeen(page *layer.Layer, seen map[string]bool) int {
	kept := page.Features[:0]
	for _, f := range page.Features {
		var coords []float64
		if f.Geometry != nil {
			coords = f.Geometry.FlatCoords()
		}
		key := fmt.Sprintf("%s|%v", f.ID, coords)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, f)
	}
	page.Features = kept
	return len(kept)
}

// mergePage appends the features of page to dst, adding any columns dst
// does not have yet.
func mergePage(dst, page *layer.Layer) {
	have := make(map[string]bool, len(dst.Fields))
	for _, f := range dst.Fields {
		have[f.Name] = true
	}
	for _, f := range page.Fields {
		if !have[f.Name] {
			dst.Fields = append(dst.Fields, f)
			have[f.Name] = true
		}
	}
	dst.Features = append(dst.Features, page.Features...)
}

func fmtCoord(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// versionAtLeast compares dotted version strings numerically.
func versionAtLeast(v, min string) bool {
	a := strings.Split(v, ".")
	b := strings.Split(min, ".")
	for i := 0; i < len(b); i++ {
		var x int
		if i < len(a) {
			x, _ = strconv.Atoi(a[i])
		}
		y, _ := strconv.Atoi(b[i])
		if x != y {
			return x > y
		}
	}
	return true
}
