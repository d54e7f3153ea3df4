// Package download fetches registry archives over HTTP or S3 and unpacks them.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mslinn/moon_dashboard/pkg/checksum"
	"github.com/mslinn/moon_dashboard/pkg/logging"
)

// Fetcher stores the archive of one package version at destPath
type Fetcher interface {
	Fetch(ctx context.Context, name, version, destPath string) error
}

// ArchiveKey is the path of a package version archive below the registry root
func ArchiveKey(name, version string) string {
	return name + "/" + url.PathEscape(version) + ".zip"
}

// Options configures DownloadFile
type Options struct {
	Client     *http.Client
	MaxRetries int           // attempts including the first, default 5
	Backoff    time.Duration // wait before attempt n is n*Backoff, default 1s
	Logger     *slog.Logger
}

// errPermanent marks responses that retrying cannot fix
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// DownloadFile downloads a file from a URL with retry logic
// Returns true if the file was already present, false if it was downloaded
func DownloadFile(ctx context.Context, url, destPath string, opts *Options) (bool, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := logging.OrDiscard(opts.Logger)
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}

	if _, err := os.Stat(destPath); err == nil {
		log.Debug("already downloaded", "file", filepath.Base(destPath))
		return true, nil
	}

	log.Debug("downloading", "url", url)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := destPath + ".download"
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			log.Debug("retrying download", "attempt", attempt, "of", maxRetries, "file", filepath.Base(destPath))
			select {
			case <-ctx.Done():
				os.Remove(tempPath)
				return false, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		lastErr = fetchOnce(ctx, client, url, tempPath)
		if lastErr == nil {
			if err := os.Rename(tempPath, destPath); err != nil {
				return false, fmt.Errorf("failed to rename downloaded file: %w", err)
			}
			if info, err := os.Stat(destPath); err == nil {
				log.Debug("downloaded", "file", filepath.Base(destPath), "size", checksum.FormatSize(info.Size()))
			}
			return false, nil
		}

		var perm errPermanent
		if errors.As(lastErr, &perm) || ctx.Err() != nil {
			break
		}
	}

	// Clean up temp file on failure
	os.Remove(tempPath)

	return false, fmt.Errorf("download %s failed: %w", url, lastErr)
}

func fetchOnce(ctx context.Context, client *http.Client, url, tempPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errPermanent{err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return errPermanent{err}
		}
		return err
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return errPermanent{fmt.Errorf("failed to create file: %w", err)}
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// HTTPFetcher downloads archives from the public registry bucket
type HTTPFetcher struct {
	BaseURL string
	Options *Options
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, name, version, destPath string) error {
	url := strings.TrimRight(f.BaseURL, "/") + "/" + ArchiveKey(name, version)
	_, err := DownloadFile(ctx, url, destPath, f.Options)
	return err
}
