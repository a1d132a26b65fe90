package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// Backend provides a filesystem-backed archive store.
type Backend struct {
	cacheDir string
}

// New creates a Backend rooted at cacheDir.
func New(cacheDir string) *Backend {
	return &Backend{cacheDir: strings.TrimSpace(cacheDir)}
}

// Name identifies the backend in logs.
func (b *Backend) Name() string {
	return "local " + b.cacheDir
}

// Open creates the cache directory.
func (b *Backend) Open(_ context.Context) error {
	if b.cacheDir == "" {
		return helpers.ErrCacheDirEmpty
	}
	return os.MkdirAll(b.cacheDir, helpers.DirMod)
}

// Close releases any open resources.
func (b *Backend) Close() error {
	return nil
}

// Lock obtains an exclusive lock for the cache directory, waiting until ctx ends.
func (b *Backend) Lock(ctx context.Context) (func() error, error) {
	if b.cacheDir == "" {
		return nil, helpers.ErrCacheDirEmpty
	}
	fl := flock.New(filepath.Join(b.cacheDir, helpers.StoreLockFile))
	locked, err := fl.TryLockContext(ctx, helpers.StoreLockRetry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", helpers.ErrStoreLocked, err)
	}
	if !locked {
		return nil, helpers.ErrStoreLocked
	}
	return fl.Unlock, nil
}
