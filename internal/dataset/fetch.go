package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/logger"
)

// Fetcher downloads the dataset file when it is not present locally.
type Fetcher struct {
	sourceURL      string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewFetcher creates a fetcher for sourceURL. An empty sourceURL disables downloading.
func NewFetcher(sourceURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Fetcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Fetcher{
		sourceURL: sourceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// Ensure makes sure path exists, downloading it from the source URL if needed.
// Without a source URL a missing file is reported as ErrDataUnavailable.
func (f *Fetcher) Ensure(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat dataset: %w", err)
	}

	if f.sourceURL == "" {
		return fmt.Errorf("%w: %s", ErrDataUnavailable, path)
	}

	logger.Info("Dataset %s not found, downloading from %s", path, f.sourceURL)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	resp, err := f.doRequest(ctx, f.sourceURL)
	if err != nil {
		return fmt.Errorf("%w: failed to download dataset: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	// Write to a sibling temp file so a partial download never looks like a dataset.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move dataset into place: %w", err)
	}

	logger.Info("Downloaded dataset (%d bytes) to %s", n, path)
	return nil
}

// doRequest performs HTTP request with retry logic
func (f *Fetcher) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < f.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		resp, err := f.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, fmt.Errorf("client error: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if i == f.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.retryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
