// downloader.go implements the Downloader molecule that fetches the sample
// image a finished task points at.
//
// This molecule composes:
//   - net/http: for the GET request, using the client from core.NewHTTPClient
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxDownloadBytes bounds how much of a sample response is read.
const DefaultMaxDownloadBytes = 64 << 20

// Downloader fetches sample images from the short-lived URLs returned by
// the result endpoint. Sample URLs are pre-signed, so no credential is sent.
//
// Thread Safety: Downloader is safe for concurrent use.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// NewDownloader creates a downloader. A nil client gets a plain client with
// a 60 second timeout.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Downloader{
		client:   client,
		maxBytes: DefaultMaxDownloadBytes,
	}
}

// DownloadBytes downloads url and returns the body and its Content-Type.
func (d *Downloader) DownloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("imagegen: URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to create download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		return nil, "", fmt.Errorf("imagegen: download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("imagegen: image exceeds %d bytes", d.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("imagegen: downloaded image is empty")
	}

	return data, resp.Header.Get("Content-Type"), nil
}
