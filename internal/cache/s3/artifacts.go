package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// Has reports whether the archive exists in S3.
func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	if b.client == nil {
		return false, errS3ClientNil
	}
	_, err := b.client.headObject(ctx, b.objectKey(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errS3NotFound) {
		return false, nil
	}
	return false, err
}

// Fetch downloads an archive into a temporary file owned by the caller.
func (b *Backend) Fetch(ctx context.Context, key string) (cache.ArchiveFile, error) {
	if b.client == nil {
		return cache.ArchiveFile{}, errS3ClientNil
	}
	resp, err := b.client.getObject(ctx, b.objectKey(key))
	if err != nil {
		if errors.Is(err, errS3NotFound) {
			return cache.ArchiveFile{}, helpers.ErrCacheMiss
		}
		return cache.ArchiveFile{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	tmpFile, err := os.CreateTemp(b.tempDir, tempPattern)
	if err != nil {
		return cache.ArchiveFile{}, err
	}
	cleanup := func() {
		_ = os.Remove(tmpFile.Name())
	}
	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		_ = tmpFile.Close()
		cleanup()
		return cache.ArchiveFile{}, err
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return cache.ArchiveFile{}, err
	}
	return cache.ArchiveFile{Key: key, Path: tmpFile.Name(), Cleanup: cleanup, Meta: normalizeMeta(resp.Metadata)}, nil
}

// List returns the archives whose key starts with prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]cache.Entry, error) {
	if b.client == nil {
		return nil, errS3ClientNil
	}
	root := b.objectKey("") + "/"
	objects, err := b.client.listObjects(ctx, root+prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]cache.Entry, 0, len(objects))
	for _, obj := range objects {
		key := strings.TrimPrefix(aws.ToString(obj.Key), root)
		entries = append(entries, cache.Entry{
			Key:     key,
			ModTime: aws.ToTime(obj.LastModified),
			Size:    aws.ToInt64(obj.Size),
		})
	}
	return entries, nil
}

// Commit uploads the archive at src. The conditional put keeps an existing key intact.
func (b *Backend) Commit(ctx context.Context, key, src string, meta map[string]string) error {
	if b.client == nil {
		return errS3ClientNil
	}
	//nolint:gosec // src is created by this process and is trusted.
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	// TODO: switch to multipart upload; a single PUT is capped at 5 GiB.
	err = b.client.putObject(ctx, b.objectKey(key), file, info.Size(), meta, true)
	if errors.Is(err, errS3PreconditionFailed) {
		return fmt.Errorf("%w: %s", helpers.ErrAlreadyExists, key)
	}
	return err
}

// Delete removes an archive from S3.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.client == nil {
		return errS3ClientNil
	}
	return b.client.deleteObject(ctx, b.objectKey(key))
}

// objectKey builds a full S3 object key for an archive key.
func (b *Backend) objectKey(key string) string {
	return b.key(artifactsPrefix, strings.TrimLeft(key, "/"))
}

// normalizeMeta lowercases user metadata keys.
func normalizeMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return out
}
