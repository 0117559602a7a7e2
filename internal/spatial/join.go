package spatial

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/layer"
)

// ErrCRSMismatch is returned when joined layers are in different CRSs.
var ErrCRSMismatch = eris.New("spatial: layers have different CRSs")

// How selects which left features a join keeps.
type How string

// Join kinds.
const (
	Inner How = "inner"
	Left  How = "left"
)

// ParseHow accepts inner and left.
func ParseHow(s string) (How, error) {
	switch h := How(strings.ToLower(strings.TrimSpace(s))); h {
	case "":
		return Inner, nil
	case Inner, Left:
		return h, nil
	}
	return "", eris.Errorf("spatial: unknown join type %q (want inner or left)", s)
}

// JoinOptions configures Join.
type JoinOptions struct {
	How       How
	Predicate Predicate
	// RightPrefix is prepended to every right column. Without one only
	// columns that clash with a left column are prefixed, with "right_".
	RightPrefix string
}

// Join attaches the attributes of right features to the left features they
// relate to. A left feature matching several right features appears once
// per match. Geometries come from the left layer.
func Join(left, right *layer.Layer, opts JoinOptions) (*layer.Layer, error) {
	if (left.CRS == nil) != (right.CRS == nil) || (left.CRS != nil && !left.CRS.Equal(right.CRS)) {
		return nil, eris.Wrapf(ErrCRSMismatch, "spatial: %s is %s, %s is %s",
			left.Name, left.CRS, right.Name, right.CRS)
	}
	how := opts.How
	if how == "" {
		how = Inner
	}
	pred := opts.Predicate
	if pred == "" {
		pred = Intersects
	}

	out := layer.New(left.Name, left.CRS, left.Fields)
	names := rightNames(left, right, opts.RightPrefix)
	for _, f := range right.Fields {
		f.Name = names[f.Name]
		out.Fields = append(out.Fields, f)
	}

	ix := NewIndex(right)
	matched := 0
	for _, lf := range left.Features {
		var hits []*layer.Feature
		if b, ok := layer.GeometryBBox(lf.Geometry); ok {
			for _, rf := range ix.Features(b) {
				if pred.Eval(lf.Geometry, rf.Geometry) {
					hits = append(hits, rf)
				}
			}
		}
		if len(hits) == 0 {
			if how == Left {
				out.Features = append(out.Features, joined(out, lf, nil, names))
			}
			continue
		}
		matched++
		for _, rf := range hits {
			out.Features = append(out.Features, joined(out, lf, rf, names))
		}
	}

	zap.L().With(zap.String("component", "spatial")).Info("spatial join",
		zap.String("left", left.Name),
		zap.String("right", right.Name),
		zap.String("predicate", string(pred)),
		zap.String("how", string(how)),
		zap.Int("left_matched", matched),
		zap.Int("features", out.Len()),
	)
	return out, nil
}

func joined(out *layer.Layer, lf, rf *layer.Feature, names map[string]string) *layer.Feature {
	props := make(map[string]any, len(out.Fields))
	for k, v := range lf.Properties {
		props[k] = v
	}
	for src, dst := range names {
		if rf != nil {
			props[dst] = rf.Get(src)
		} else {
			props[dst] = nil
		}
	}
	return &layer.Feature{
		ID:         strconv.Itoa(out.Len() + 1),
		Geometry:   lf.Geometry,
		Properties: props,
	}
}

// rightNames maps right columns to unique output names.
func rightNames(left, right *layer.Layer, prefix string) map[string]string {
	taken := make(map[string]bool, len(left.Fields)+len(right.Fields))
	for _, f := range left.Fields {
		taken[f.Name] = true
	}
	names := make(map[string]string, len(right.Fields))
	for _, f := range right.Fields {
		name := prefix + f.Name
		if prefix == "" && taken[name] {
			name = "right_" + f.Name
		}
		base := name
		for n := 2; taken[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		taken[name] = true
		names[f.Name] = name
	}
	return names
}
