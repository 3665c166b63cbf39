package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"exec_quality/internal/domain"
)

// DefaultUserAgent is sent with every remote source download.
const DefaultUserAgent = "exec-quality-etl/1.0"

// SourceFetcher resolves source locations to readable local CSV paths.
//
// Supported forms:
//   - plain filesystem paths, which must exist and end in .csv
//   - s3://bucket/key, mapped to <dataDir>/<basename of key>
//   - http(s)://..., downloaded into a temp file
type SourceFetcher struct {
	dataDir     string
	maxAttempts int
	baseDelay   time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewSourceFetcher creates a fetcher that tries each download three times.
func NewSourceFetcher(dataDir string) *SourceFetcher {
	return &SourceFetcher{
		dataDir:     dataDir,
		maxAttempts: 3,
		baseDelay:   time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default().With(slog.String("module", "fetcher")),
	}
}

// NewSourceFetcherWithConfig creates a fetcher from the fetch and pipeline settings.
func NewSourceFetcherWithConfig(cfg *Config) *SourceFetcher {
	f := NewSourceFetcher(cfg.Pipeline.DataDir)
	if cfg.Fetch.MaxAttempts > 0 {
		f.maxAttempts = cfg.Fetch.MaxAttempts
	}
	if cfg.Fetch.TimeoutSec > 0 {
		f.httpClient.Timeout = time.Duration(cfg.Fetch.TimeoutSec) * time.Second
	}
	return f
}

// Resolve returns a local path for location. The cleanup func removes any
// downloaded copy and is always safe to call.
func (f *SourceFetcher) Resolve(ctx context.Context, location string) (string, func(), error) {
	noop := func() {}

	switch {
	case strings.HasPrefix(location, "s3://"):
		p, err := f.localizeS3(location)
		return p, noop, err
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return f.download(ctx, location)
	default:
		if err := checkLocalCSV(location); err != nil {
			return "", noop, err
		}
		return location, noop, nil
	}
}

// localizeS3 maps s3://bucket/orders.csv to <dataDir>/orders.csv.
func (f *SourceFetcher) localizeS3(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", &domain.SourceError{Location: location, Err: err}
	}
	name := path.Base(strings.TrimSuffix(u.Path, "/"))
	if name == "." || name == "/" || name == "" {
		return "", &domain.SourceError{Location: location, Err: fmt.Errorf("%w: no object key", domain.ErrUnsupportedSource)}
	}

	local := filepath.Join(f.dataDir, name)
	if err := checkLocalCSV(local); err != nil {
		return "", &domain.SourceError{
			Location: location,
			Err:      fmt.Errorf("local fixture %s: %w", local, errors.Unwrap(err)),
		}
	}
	return local, nil
}

func checkLocalCSV(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domain.SourceError{Location: p, Err: domain.ErrSourceNotFound}
		}
		return &domain.SourceError{Location: p, Err: err}
	}
	if info.IsDir() {
		return &domain.SourceError{Location: p, Err: fmt.Errorf("%w: is a directory", domain.ErrUnsupportedSource)}
	}
	if !strings.EqualFold(filepath.Ext(p), ".csv") {
		return &domain.SourceError{Location: p, Err: fmt.Errorf("%w: expected a .csv file", domain.ErrUnsupportedSource)}
	}
	return nil
}

// download fetches location into a temp file with exponential backoff.
func (f *SourceFetcher) download(ctx context.Context, location string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "etl-source-*.csv")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	var lastErr error
	for i := 0; i < f.maxAttempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			delay := f.baseDelay * time.Duration(1<<uint(i-1))
			f.logger.Info("Retrying source download", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				tmp.Close()
				cleanup()
				return "", func() {}, ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = f.doDownload(ctx, location, tmp)
		if lastErr == nil {
			if err := tmp.Close(); err != nil {
				cleanup()
				return "", func() {}, err
			}
			return tmp.Name(), cleanup, nil
		}
		if !domain.IsRetriable(lastErr) {
			break
		}
		f.logger.Warn("Source download attempt failed",
			slog.Int("attempt", i+1),
			slog.String("location", location),
			slog.Any("error", lastErr),
		)
	}

	tmp.Close()
	cleanup()
	return "", func() {}, &domain.SourceError{Location: location, Err: lastErr}
}

func (f *SourceFetcher) doDownload(ctx context.Context, location string, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return domain.NewFatalNetworkError("request", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewFatalNetworkError("fetch", domain.ErrSourceNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewNetworkError("fetch", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return domain.NewFatalNetworkError("fetch", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	// Start over on retries
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return domain.NewFatalNetworkError("write", err)
	}
	if err := dst.Truncate(0); err != nil {
		return domain.NewFatalNetworkError("write", err)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return domain.NewNetworkError("read", err)
	}
	return nil
}
