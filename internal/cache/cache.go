package cache

import (
	"errors"

	"github.com/greeddj/dagger-cache/internal/cache/blob"
	"github.com/greeddj/dagger-cache/internal/cache/local"
	"github.com/greeddj/dagger-cache/internal/cache/s3"
	cacheManager "github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
)

var (
	errConfigNil     = errors.New("config is nil")
	errHTTPClientNil = errors.New("http client is nil")
)

// New selects and constructs a cache backend based on configuration:
// --cache-url wins, then --s3-bucket, then the local --cache-dir.
func New(cfg *config.Config, runtime *infra.Infra) (cacheManager.Backend, error) {
	if cfg == nil {
		return nil, errConfigNil
	}
	tempDir := ""
	if runtime != nil && runtime.TempDir != nil {
		tempDir = runtime.TempDir()
	}
	if cfg.CacheURL != "" {
		return blob.New(cfg.CacheURL, cfg.CachePrefix, tempDir), nil
	}
	if cfg.S3Cache.Enabled {
		if runtime == nil || runtime.HTTP == nil {
			return nil, errHTTPClientNil
		}
		return s3.New(cfg.S3Cache, runtime.HTTP, tempDir)
	}
	return local.New(cfg.CacheDir), nil
}
