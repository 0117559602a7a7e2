// Package dataset opens layers named by a reference: a URL, a catalog entry
// or a path under the data directory.
package dataset

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-cli/internal/datapath"
	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
	"github.com/sells-group/geo-cli/internal/vectorio"
)

// ErrUnknownDataset is returned by OpenNamed for names missing from the
// catalog.
var ErrUnknownDataset = eris.New("dataset: not in catalog")

// Opener resolves references and reads the layers they point at. Remote
// targets are downloaded into TempDir first.
type Opener struct {
	Resolver *datapath.Resolver
	Source   *fetcher.Source
	TempDir  string
}

// Names lists the catalog datasets.
func (o *Opener) Names() []string {
	if o.Resolver == nil || o.Resolver.Catalog == nil {
		return nil
	}
	return o.Resolver.Catalog.Names()
}

// Describe returns the catalog description of a dataset.
func (o *Opener) Describe(name string) (datapath.Dataset, bool) {
	if o.Resolver == nil || o.Resolver.Catalog == nil {
		return datapath.Dataset{}, false
	}
	ds, ok := o.Resolver.Catalog.Datasets[name]
	return ds, ok
}

// Locate resolves ref to a local file, downloading remote targets.
func (o *Opener) Locate(ctx context.Context, ref string) (string, datapath.Target, error) {
	if o.Resolver == nil {
		return "", datapath.Target{}, eris.New("dataset: no resolver configured")
	}
	t, err := o.Resolver.Resolve(ref)
	if err != nil {
		return "", t, err
	}
	if !t.Remote() {
		return t.Path, t, nil
	}
	if o.Source == nil {
		return "", t, eris.Errorf("dataset: %s is remote and no fetcher is configured", ref)
	}
	path, err := o.Source.Fetch(ctx, t.URL, o.TempDir)
	if err != nil {
		return "", t, eris.Wrapf(err, "dataset: fetch %s", ref)
	}
	return path, t, nil
}

// Open reads the layer behind ref. A non-empty layerName overrides the
// layer chosen by the catalog.
func (o *Opener) Open(ctx context.Context, ref, layerName string) (*layer.Layer, error) {
	return o.OpenWith(ctx, ref, vectorio.ReadOptions{Layer: layerName})
}

// OpenWith reads the layer behind ref with explicit read options. The
// catalog's layer and CRS fill in whatever opts leaves empty.
func (o *Opener) OpenWith(ctx context.Context, ref string, opts vectorio.ReadOptions) (*layer.Layer, error) {
	path, t, err := o.Locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if opts.Layer == "" {
		opts.Layer = t.Layer
	}
	if opts.CRS == "" {
		opts.CRS = t.CRS
	}
	l, err := vectorio.Read(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	zap.L().With(zap.String("component", "dataset")).Debug("opened layer",
		zap.String("ref", ref),
		zap.String("path", path),
		zap.Int("features", l.Len()),
	)
	return l, nil
}

// OpenNamed opens a catalog dataset by name only. Paths and URLs are
// rejected.
func (o *Opener) OpenNamed(ctx context.Context, name string) (*layer.Layer, error) {
	name = strings.TrimSpace(name)
	if _, ok := o.Describe(name); !ok {
		return nil, eris.Wrapf(ErrUnknownDataset, "dataset: %q", name)
	}
	return o.Open(ctx, name, "")
}
