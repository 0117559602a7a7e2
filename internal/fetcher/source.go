package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// conditionalFetcher is implemented by fetchers that can revalidate a
// download with an ETag.
type conditionalFetcher interface {
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

// Source resolves remote dataset URLs to local files.
type Source struct {
	HTTP Fetcher
	FTP  Fetcher
	// Refresh revalidates existing downloads instead of reusing them.
	Refresh bool
}

// NewSource wires the HTTP and FTP fetchers into a Source.
func NewSource(httpFetcher, ftpFetcher Fetcher) *Source {
	return &Source{HTTP: httpFetcher, FTP: ftpFetcher}
}

// Fetch downloads rawURL into destDir and returns the local path of the
// dataset. Existing non-empty downloads are reused. Zip archives are
// extracted next to the download and the first vector file inside is
// returned.
func (s *Source) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: parse %s", rawURL)
	}
	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = s.HTTP
	case "ftp":
		f = s.FTP
	default:
		return "", eris.Errorf("fetch: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
	if f == nil {
		return "", eris.Errorf("fetch: no fetcher configured for %s", u.Scheme)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetch: create %s", destDir)
	}
	local := filepath.Join(destDir, LocalName(u))
	log := zap.L().With(zap.String("component", "fetch"), zap.String("url", rawURL), zap.String("path", local))

	downloaded, err := s.download(ctx, f, rawURL, local, log)
	if err != nil {
		return "", err
	}

	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, nil
	}

	dir := strings.TrimSuffix(local, filepath.Ext(local))
	if downloaded || !nonEmptyDir(dir) {
		if err := os.RemoveAll(dir); err != nil {
			return "", eris.Wrapf(err, "fetch: clear %s", dir)
		}
		files, err := ExtractZIP(local, dir)
		if err != nil {
			return "", eris.Wrapf(err, "fetch: extract %s", local)
		}
		log.Info("extracted archive", zap.Int("files", len(files)))
	}
	return FindVectorFile(dir)
}

// download fetches rawURL to local unless a usable copy exists. Reports
// whether new content was written.
func (s *Source) download(ctx context.Context, f Fetcher, rawURL, local string, log *zap.Logger) (bool, error) {
	exists := nonEmptyFile(local)
	if exists && !s.Refresh {
		log.Info("reusing existing download")
		return false, nil
	}

	if cf, ok := f.(conditionalFetcher); ok {
		etagPath := local + ".etag"
		var etag string
		if exists {
			old, _ := os.ReadFile(etagPath)
			etag = strings.TrimSpace(string(old))
		}
		body, newETag, changed, err := cf.DownloadIfChanged(ctx, rawURL, etag)
		if err != nil {
			return false, eris.Wrapf(err, "fetch: %s", rawURL)
		}
		if !changed {
			log.Info("download unchanged")
			return false, nil
		}
		defer body.Close() //nolint:errcheck
		n, err := writeFileAtomic(local, body)
		if err != nil {
			return false, eris.Wrapf(err, "fetch: %s", rawURL)
		}
		saveETag(etagPath, newETag)
		log.Info("downloaded", zap.Int64("bytes", n))
		return true, nil
	}

	n, err := f.DownloadToFile(ctx, rawURL, local)
	if err != nil {
		return false, eris.Wrapf(err, "fetch: %s", rawURL)
	}
	log.Info("downloaded", zap.Int64("bytes", n))
	return true, nil
}

func saveETag(path, etag string) {
	if etag == "" {
		_ = os.Remove(path)
		return
	}
	if err := os.WriteFile(path, []byte(etag), 0o644); err != nil {
		zap.L().Debug("fetch: could not store etag", zap.String("path", path), zap.Error(err))
	}
}

// LocalName derives a file name for a URL: the last path element, with a
// short hash of the query appended when the URL has one so that different
// requests to the same endpoint do not collide.
func LocalName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = u.Hostname()
	}
	if u.RawQuery != "" {
		ext := path.Ext(name)
		h := strconv.FormatUint(xxhash.Sum64String(u.RawQuery), 16)
		if len(h) > 8 {
			h = h[:8]
		}
		name = strings.TrimSuffix(name, ext) + "-" + h + ext
	}
	return name
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func nonEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
