package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mslinn/moon_dashboard/pkg/config"
)

// NewS3Client builds a minio client for the configured endpoint. Empty keys
// give anonymous access, which is enough for the public registry bucket.
func NewS3Client(cfg config.S3Config) (*minio.Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("s3 endpoint must not include scheme: %q", cfg.Endpoint)
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// S3Fetcher reads archives straight from the registry bucket
type S3Fetcher struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

// ObjectKey returns the bucket key of a package version archive
func (f *S3Fetcher) ObjectKey(name, version string) string {
	return joinKey(f.Prefix, ArchiveKey(name, version))
}

// Fetch implements Fetcher
func (f *S3Fetcher) Fetch(ctx context.Context, name, version, destPath string) error {
	key := f.ObjectKey(name, version)
	if err := f.Client.FGetObject(ctx, f.Bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("s3 get %s/%s: %w", f.Bucket, key, err)
	}
	return nil
}

// Publisher uploads finished snapshots next to the JSON-Lines log
type Publisher struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

// SnapshotKey returns the key a snapshot is stored under
func (p *Publisher) SnapshotKey(runID, runNumber string) string {
	return joinKey(p.Prefix, fmt.Sprintf("runs/%s-%s.json", runID, runNumber))
}

// Publish stores line as runs/<run_id>-<run_number>.json and as latest.json
func (p *Publisher) Publish(ctx context.Context, runID, runNumber string, line []byte) error {
	keys := []string{p.SnapshotKey(runID, runNumber), joinKey(p.Prefix, "latest.json")}
	for _, key := range keys {
		_, err := p.Client.PutObject(ctx, p.Bucket, key, bytes.NewReader(line), int64(len(line)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			return fmt.Errorf("s3 put %s/%s: %w", p.Bucket, key, err)
		}
	}
	return nil
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// NewFetcher returns the fetcher selected by cfg.Fetcher
func NewFetcher(cfg *config.Config, opts *Options) (Fetcher, error) {
	switch cfg.Fetcher {
	case config.FetcherS3:
		client, err := NewS3Client(cfg.S3)
		if err != nil {
			return nil, err
		}
		return &S3Fetcher{Client: client, Bucket: cfg.S3.Bucket, Prefix: cfg.S3.Prefix}, nil
	case config.FetcherHTTP, "":
		return &HTTPFetcher{BaseURL: cfg.ArchiveBaseURL, Options: opts}, nil
	}
	return nil, fmt.Errorf("unknown fetcher %q", cfg.Fetcher)
}

// NewPublisher returns a snapshot publisher, or nil when no publish bucket is configured
func NewPublisher(cfg config.S3Config) (*Publisher, error) {
	if cfg.PublishBucket == "" {
		return nil, nil
	}
	client, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{Client: client, Bucket: cfg.PublishBucket, Prefix: cfg.PublishPrefix}, nil
}
