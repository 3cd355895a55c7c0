// Package image downloads the shared base image machines are cloned from.
package image

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vmforge/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Fetcher downloads images over HTTP with retries.
type Fetcher struct {
	client *retryablehttp.Client
}

// NewFetcher creates a fetcher with sane retry defaults.
func NewFetcher() *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.Logger = nil
	return &Fetcher{client: client}
}

// Fetch downloads url to dest unless dest already exists. The download
// goes to a temporary file first and is renamed into place, so a partial
// download never masquerades as a base image.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		logging.Logger().Info("base image already present, skipping download",
			zap.String("path", dest))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	logging.Logger().Info("downloading base image",
		zap.String("url", url),
		zap.String("dest", dest))

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download base image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("base image download returned status %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write base image: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move base image into place: %w", err)
	}

	logging.Logger().Info("base image downloaded",
		zap.String("path", dest),
		zap.Int64("size_bytes", written))
	return nil
}
