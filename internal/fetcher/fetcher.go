// Package fetcher downloads raw payloads from the upstream data services.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data. Adapters treat
// any transport error, timeout, or non-2xx status surfaced here as the
// upstream being unavailable for that call.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
