// Package fetcher downloads remote files over HTTP and unpacks ZIP archives.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes
	// written. A partially written file is removed on failure.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
