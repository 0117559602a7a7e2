// Package fetcher downloads remote datasets over HTTP and FTP and unpacks
// the archives they ship in. It also holds the streaming CSV, XLSX and XML
// readers shared by the format and WFS packages.
package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Fetcher downloads one remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// writeFileAtomic copies r into path through a ".part" file so that an
// interrupted download never leaves a truncated file under the final name.
func writeFileAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "create parent directory")
	}
	part := path + ".part"
	file, err := os.Create(part)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(file, r)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(part)
		return n, eris.Wrap(err, "write file")
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(part)
		return n, eris.Wrap(err, "close file")
	}
	if err := os.Rename(part, path); err != nil {
		return n, eris.Wrap(err, "rename download")
	}
	return n, nil
}
