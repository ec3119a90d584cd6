// Package fetcher downloads ECI source documents so batch runs can work from
// a local input directory.
package fetcher

import (
	"context"
	"io"
)

// Fetcher retrieves remote documents.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// DownloadIfChanged fetches the URL unless the server reports etag as current.
	// Returns (body, newETag, changed, error). When unchanged, body is nil.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}
