package datapath

import (
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Dataset is one named catalog entry.
type Dataset struct {
	Path        string `yaml:"path"`
	URL         string `yaml:"url"`
	Layer       string `yaml:"layer"`
	CRS         string `yaml:"crs"`
	Description string `yaml:"description"`
}

// Catalog maps short names to datasets.
type Catalog struct {
	Datasets map[string]Dataset `yaml:"datasets"`
}

// LoadCatalog reads a YAML catalog. A missing file yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Catalog{Datasets: map[string]Dataset{}}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "datapath: read catalog %s", path)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrapf(err, "datapath: parse catalog %s", path)
	}
	if c.Datasets == nil {
		c.Datasets = map[string]Dataset{}
	}
	for name, ds := range c.Datasets {
		if ds.Path == "" && ds.URL == "" {
			return nil, eris.Errorf("datapath: catalog entry %q has neither path nor url", name)
		}
	}
	return &c, nil
}

// Names returns the dataset names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Datasets))
	for n := range c.Datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
