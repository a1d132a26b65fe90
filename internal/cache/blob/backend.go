package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// Drivers selected by the scheme of --cache-url.
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

const tempPattern = ".blob-archive-"

// Backend stores archives in any bucket gocloud.dev/blob can open
// (gs://, s3://, azblob://, file://, mem://).
type Backend struct {
	url     string
	bucket  *blob.Bucket
	prefix  string
	tempDir string
}

// New creates a Backend for bucketURL. The bucket is opened lazily by Open.
func New(bucketURL, prefix, tempDir string) *Backend {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Backend{url: strings.TrimSpace(bucketURL), prefix: normalizePrefix(prefix), tempDir: tempDir}
}

// NewFromBucket wraps an already opened bucket.
func NewFromBucket(bucket *blob.Bucket, prefix, tempDir string) *Backend {
	b := New("", prefix, tempDir)
	b.bucket = bucket
	return b
}

// normalizePrefix ensures a trailing slash if non-empty.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Name identifies the backend in logs.
func (b *Backend) Name() string {
	if b.url == "" {
		return "blob"
	}
	return b.url
}

// Open opens the bucket.
func (b *Backend) Open(ctx context.Context) error {
	if b.bucket != nil {
		return nil
	}
	bucket, err := blob.OpenBucket(ctx, b.url)
	if err != nil {
		return err
	}
	b.bucket = bucket
	return nil
}

// Close closes the bucket.
func (b *Backend) Close() error {
	if b.bucket == nil {
		return nil
	}
	err := b.bucket.Close()
	b.bucket = nil
	return err
}

func (b *Backend) fullKey(key string) string {
	return b.prefix + key
}

// Has reports whether key is stored.
func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	if b.bucket == nil {
		return false, errBucketClosed
	}
	return b.bucket.Exists(ctx, b.fullKey(key))
}

// Fetch downloads key into a temporary file owned by the caller.
func (b *Backend) Fetch(ctx context.Context, key string) (cache.ArchiveFile, error) {
	if b.bucket == nil {
		return cache.ArchiveFile{}, errBucketClosed
	}
	attrs, err := b.bucket.Attributes(ctx, b.fullKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return cache.ArchiveFile{}, helpers.ErrCacheMiss
		}
		return cache.ArchiveFile{}, err
	}
	r, err := b.bucket.NewReader(ctx, b.fullKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return cache.ArchiveFile{}, helpers.ErrCacheMiss
		}
		return cache.ArchiveFile{}, err
	}
	defer func() {
		_ = r.Close()
	}()

	tmpFile, err := os.CreateTemp(b.tempDir, tempPattern)
	if err != nil {
		return cache.ArchiveFile{}, err
	}
	cleanup := func() {
		_ = os.Remove(tmpFile.Name())
	}
	if _, err := io.Copy(tmpFile, r); err != nil {
		_ = tmpFile.Close()
		cleanup()
		return cache.ArchiveFile{}, err
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return cache.ArchiveFile{}, err
	}
	return cache.ArchiveFile{Key: key, Path: tmpFile.Name(), Cleanup: cleanup, Meta: attrs.Metadata}, nil
}

// List returns the entries whose key starts with prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]cache.Entry, error) {
	if b.bucket == nil {
		return nil, errBucketClosed
	}
	iter := b.bucket.List(&blob.ListOptions{Prefix: b.fullKey(prefix)})
	var entries []cache.Entry
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir || !strings.HasPrefix(obj.Key, b.prefix) {
			continue
		}
		entries = append(entries, cache.Entry{
			Key:     strings.TrimPrefix(obj.Key, b.prefix),
			ModTime: obj.ModTime,
			Size:    obj.Size,
		})
	}
	return entries, nil
}

// Commit uploads the archive at src unless key already exists.
func (b *Backend) Commit(ctx context.Context, key, src string, meta map[string]string) error {
	if b.bucket == nil {
		return errBucketClosed
	}
	exists, err := b.bucket.Exists(ctx, b.fullKey(key))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", helpers.ErrAlreadyExists, key)
	}
	//nolint:gosec // src is created by this process and is trusted.
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := b.bucket.NewWriter(writeCtx, b.fullKey(key), &blob.WriterOptions{
		ContentType: "application/octet-stream",
		Metadata:    meta,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		// cancelling before Close aborts the upload
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes key; a missing key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.bucket == nil {
		return errBucketClosed
	}
	err := b.bucket.Delete(ctx, b.fullKey(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

var errBucketClosed = errors.New("blob bucket is not open")

var _ cache.Backend = (*Backend)(nil)
