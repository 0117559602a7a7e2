// Package datapath resolves dataset references to local paths or URLs. A
// reference is a URL, the name of a catalog entry, or a file name relative
// to the base data directory.
package datapath

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Join joins a base directory with a file name. Absolute names are returned
// unchanged and a leading "~" expands to the home directory.
func Join(base, name string) string {
	name = expandHome(name)
	if filepath.IsAbs(name) || base == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(expandHome(base), name)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// IsURL reports whether ref is an http, https or ftp URL.
func IsURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}

// Target is a resolved reference.
type Target struct {
	// Path is a local file path; empty when URL is set.
	Path string
	// URL is a remote location to fetch first.
	URL string
	// Layer selects a layer inside multi-layer containers.
	Layer string
	// CRS overrides the CRS read from the file, when set.
	CRS string
}

// Remote reports whether the target must be downloaded.
func (t Target) Remote() bool { return t.URL != "" }

// Resolver turns references into targets.
type Resolver struct {
	BaseDir string
	OutDir  string
	Catalog *Catalog
}

// Resolve looks a reference up as URL, catalog entry, then relative file.
func (r *Resolver) Resolve(ref string) (Target, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Target{}, eris.New("datapath: empty reference")
	}
	if IsURL(ref) {
		return Target{URL: ref}, nil
	}
	if r.Catalog != nil {
		if ds, ok := r.Catalog.Datasets[ref]; ok {
			t := Target{Layer: ds.Layer, CRS: ds.CRS}
			switch {
			case ds.URL != "":
				t.URL = ds.URL
			case ds.Path != "":
				t.Path = Join(r.BaseDir, ds.Path)
			default:
				return Target{}, eris.Errorf("datapath: catalog entry %q has neither path nor url", ref)
			}
			return t, nil
		}
	}
	return Target{Path: Join(r.BaseDir, ref)}, nil
}

// OutputPath returns OutDir/stem+ext. ext may be given with or without dot.
func (r *Resolver) OutputPath(stem, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Join(r.OutDir, stem+ext)
}

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "datapath: create directory %s", dir)
	}
	return nil
}
