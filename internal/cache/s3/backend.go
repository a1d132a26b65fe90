package s3

import (
	"context"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/greeddj/dagger-cache/internal/dagger/config"
)

// Backend provides an S3-backed archive store.
type Backend struct {
	cfg        config.S3CacheConfig
	client     *Client
	httpClient *http.Client
	prefix     string
	tempDir    string
}

// New creates an S3-backed archive store for the given config.
func New(cfg config.S3CacheConfig, httpClient *http.Client, tempDir string) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errS3BucketIsEmpty
	}
	if httpClient == nil {
		return nil, errS3HTTPClientIsNil
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Backend{
		cfg:        cfg,
		httpClient: httpClient,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		tempDir:    tempDir,
	}, nil
}

// Name identifies the backend in logs.
func (b *Backend) Name() string {
	return "s3://" + path.Join(b.cfg.Bucket, b.prefix)
}

// Open initializes the S3 client and ensures the bucket exists.
func (b *Backend) Open(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	client, err := newClient(ctx, b.cfg, b.httpClient)
	if err != nil {
		return err
	}
	if err := client.ensureBucket(ctx); err != nil {
		return err
	}
	b.client = client
	return nil
}

// Close releases backend resources.
func (b *Backend) Close() error {
	return nil
}

// key builds a key under the configured S3 prefix.
func (b *Backend) key(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if b.prefix != "" {
		all = append(all, b.prefix)
	}
	all = append(all, parts...)
	return path.Join(all...)
}
