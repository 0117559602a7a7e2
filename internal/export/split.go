// Package export fans a layer out into one file per attribute group.
package export

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geo-cli/internal/layer"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

const (
	defaultConcurrency = 4
	maxStemRunes       = 80
)

// SplitOptions configures SplitByColumn.
type SplitOptions struct {
	Column string
	Dir    string
	Format vectorio.Format
	// Prefix is prepended to every file stem.
	Prefix      string
	Concurrency int
	Overwrite   bool
	// Encoding is the shapefile code page.
	Encoding string
}

// Output describes one written group file.
type Output struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Path  string `json:"path"`
	Rows  int    `json:"rows"`
}

// SplitByColumn writes one file per distinct value of opts.Column into
// opts.Dir. Files are written concurrently; outputs come back in group
// order, which is the order each value first appears.
func SplitByColumn(ctx context.Context, l *layer.Layer, opts SplitOptions) ([]Output, error) {
	if opts.Column == "" {
		return nil, eris.New("export: split column is required")
	}
	if opts.Format == vectorio.FormatUnknown {
		opts.Format = vectorio.GeoPackage
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	groups, err := l.GroupBy(opts.Column)
	if err != nil {
		return nil, eris.Wrap(err, "export: group")
	}

	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = g.Key
	}
	stems := UniqueStems(keys)

	log := zap.L().With(
		zap.String("component", "export"),
		zap.String("layer", l.Name),
		zap.String("column", opts.Column),
	)

	outputs := make([]Output, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, grp := range groups {
		stem := opts.Prefix + stems[i]
		path := filepath.Join(opts.Dir, stem+opts.Format.Ext())
		outputs[i] = Output{Key: grp.Key, Value: grp.Value, Path: path, Rows: grp.Layer.Len()}
		g.Go(func() error {
			grp.Layer.Name = stem
			err := vectorio.Write(gctx, path, grp.Layer, vectorio.WriteOptions{
				Format:    opts.Format,
				LayerName: stem,
				Encoding:  opts.Encoding,
				Overwrite: opts.Overwrite,
			})
			if err != nil {
				return eris.Wrapf(err, "export: write group %q", grp.Key)
			}
			log.Debug("wrote group", zap.String("key", grp.Key), zap.String("path", path), zap.Int("rows", grp.Layer.Len()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("split layer", zap.Int("groups", len(outputs)), zap.String("dir", opts.Dir))
	return outputs, nil
}

// Sanitize turns a group value into a file stem: letters and digits are
// kept, runs of anything else become one underscore, and an empty result
// becomes "null".
func Sanitize(value string) string {
	var b strings.Builder
	pending := false
	n := 0
	for _, r := range value {
		if n >= maxStemRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
				n++
			}
			pending = false
			b.WriteRune(r)
			n++
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "null"
	}
	return b.String()
}

// UniqueStems sanitizes every key and suffixes repeats with _2, _3, ...
// Stems differing only in case count as repeats.
func UniqueStems(keys []string) []string {
	taken := make(map[string]bool, len(keys))
	out := make([]string, len(keys))
	for i, k := range keys {
		base := Sanitize(k)
		stem := base
		for n := 2; taken[strings.ToLower(stem)]; n++ {
			stem = base + "_" + strconv.Itoa(n)
		}
		taken[strings.ToLower(stem)] = true
		out[i] = stem
	}
	return out
}
