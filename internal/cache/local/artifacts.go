package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// Has reports whether the archive exists in the local cache.
func (b *Backend) Has(_ context.Context, key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Fetch returns the stored archive in place; the caller must not remove it.
func (b *Backend) Fetch(_ context.Context, key string) (cache.ArchiveFile, error) {
	path, err := b.path(key)
	if err != nil {
		return cache.ArchiveFile{}, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cache.ArchiveFile{}, helpers.ErrCacheMiss
		}
		return cache.ArchiveFile{}, err
	}
	meta, err := readMeta(path + helpers.StoreMetaSuffix)
	if err != nil {
		return cache.ArchiveFile{}, err
	}
	return cache.ArchiveFile{Key: key, Path: path, Meta: meta}, nil
}

// List returns the archives whose key starts with prefix.
func (b *Backend) List(_ context.Context, prefix string) ([]cache.Entry, error) {
	if b.cacheDir == "" {
		return nil, helpers.ErrCacheDirEmpty
	}
	dirEntries, err := os.ReadDir(b.cacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entries []cache.Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || skipName(name) {
			continue
		}
		key, err := url.PathUnescape(name)
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, cache.Entry{Key: key, ModTime: info.ModTime(), Size: info.Size()})
	}
	return entries, nil
}

// Commit copies the archive at src into the cache under key. The final name
// is created with a hard link so an existing key is never replaced.
func (b *Backend) Commit(ctx context.Context, key, src string, meta map[string]string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := b.Open(ctx); err != nil {
		return err
	}
	unlock, err := b.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock()
	}()
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", helpers.ErrAlreadyExists, key)
	}

	tmp, err := os.CreateTemp(b.cacheDir, helpers.StoreTempPrefix)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := copyFile(tmp, src); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := writeMeta(path+helpers.StoreMetaSuffix, meta); err != nil {
		return err
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", helpers.ErrAlreadyExists, key)
		}
		_ = os.Remove(path + helpers.StoreMetaSuffix)
		return err
	}
	return nil
}

// Delete removes an archive and its metadata from the local cache.
func (b *Backend) Delete(_ context.Context, key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := helpers.RemoveFile(path); err != nil {
		return err
	}
	return helpers.RemoveFile(path + helpers.StoreMetaSuffix)
}

// path builds the full archive path for a key.
func (b *Backend) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", helpers.ErrCacheKeyEmpty
	}
	if b.cacheDir == "" {
		return "", helpers.ErrCacheDirEmpty
	}
	return filepath.Join(b.cacheDir, url.PathEscape(key)), nil
}

func skipName(name string) bool {
	return name == helpers.StoreLockFile ||
		strings.HasPrefix(name, helpers.StoreTempPrefix) ||
		strings.HasSuffix(name, helpers.StoreMetaSuffix)
}

func copyFile(dst io.Writer, src string) error {
	//nolint:gosec // src is an archive produced by this program.
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = io.Copy(dst, f)
	return err
}

func readMeta(path string) (map[string]string, error) {
	//nolint:gosec // path is a sidecar inside the cache directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta, nil
}

// writeMeta replaces the sidecar atomically.
func writeMeta(path string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), helpers.StoreTempPrefix)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
