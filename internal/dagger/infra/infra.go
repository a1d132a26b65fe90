package infra

import (
	"net/http"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
)

// Infra holds runtime dependencies such as IO and HTTP clients.
type Infra struct {
	Output  output.Printer
	HTTP    *http.Client
	Now     func() time.Time
	TempDir func() string
}

// New builds Infra with default helpers for time and the job temp dir.
func New(out output.Printer, httpClient *http.Client, tempDir string) *Infra {
	return &Infra{
		Output:  out,
		HTTP:    httpClient,
		Now:     time.Now,
		TempDir: func() string { return tempDir },
	}
}

// DebugConfig logs where the cache and state live.
func (i *Infra) DebugConfig(cfg *config.Config) {
	if i == nil || i.Output == nil || cfg == nil {
		return
	}
	if cfg.ConfigPath != "" {
		i.Output.Debugf("config file %s", cfg.ConfigPath)
	}
	switch {
	case cfg.CacheURL != "":
		i.Output.Debugf("cache backend blob %s (prefix %q)", cfg.CacheURL, cfg.CachePrefix)
	case cfg.S3Cache.Enabled:
		i.Output.Debugf("cache backend s3 bucket=%s prefix=%s endpoint=%s path-style=%t",
			cfg.S3Cache.Bucket, cfg.S3Cache.Prefix, cfg.S3Cache.Endpoint, cfg.S3Cache.PathStyle)
	default:
		i.Output.Debugf("cache backend local %s", cfg.CacheDir)
	}
	i.Output.Debugf("job os=%s arch=%s run-id=%s temp=%s state=%s",
		cfg.Job.OS, cfg.Job.Arch, cfg.Job.RunID, cfg.Job.TempDir, cfg.StateDir)
}
