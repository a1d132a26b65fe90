package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/archive"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/keys"
	"github.com/urfave/cli/v2"
)

// UnsetCompressionLevel makes persist reuse the level recorded at restore.
const UnsetCompressionLevel = -1

// Config holds runtime settings for cache lifecycle operations.
type Config struct {
	Verbose bool
	Quiet   bool
	DryRun  bool

	Job              keys.JobContext
	Version          string
	CustomKey        string
	CompressionLevel int
	Compressor       string
	Timeout          time.Duration
	MinFreeSpace     uint64

	Volume       string
	EngineName   string
	EngineImage  string
	HelperImage  string
	DockerSocket string

	StateDir    string
	CacheDir    string
	CacheURL    string
	CachePrefix string
	S3Cache     S3CacheConfig
	HTTPTimeout time.Duration

	OutputFile  string
	EnvFile     string
	MetricsFile string

	RemoveVolume bool
	ConfigPath   string
}

// BuildRestoreConfig builds Config for the restore command.
func BuildRestoreConfig(c *cli.Context) (*Config, error) {
	cfg, file, err := buildCommon(c)
	if err != nil {
		return nil, err
	}
	cfg.Version = strings.TrimSpace(pick(c, "dagger-version", file.Version))
	if cfg.Version == "" {
		return nil, helpers.ErrVersionEmpty
	}
	cfg.CompressionLevel = max(pickInt(c, "compression-level", file.CompressionLevel), 0)
	if err := archive.ValidateLevel(cfg.CompressionLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildPersistConfig builds Config for the persist command.
func BuildPersistConfig(c *cli.Context) (*Config, error) {
	cfg, file, err := buildCommon(c)
	if err != nil {
		return nil, err
	}
	cfg.CompressionLevel = pickInt(c, "compression-level", file.CompressionLevel)
	if cfg.CompressionLevel != UnsetCompressionLevel {
		if err := archive.ValidateLevel(cfg.CompressionLevel); err != nil {
			return nil, err
		}
	}
	cfg.Compressor = pick(c, "compressor", file.Compressor)
	if err := archive.ValidateCompressor(cfg.Compressor); err != nil {
		return nil, err
	}

	cfg.Timeout = c.Duration("timeout")
	if !c.IsSet("timeout") && file.Timeout != "" {
		cfg.Timeout, err = time.ParseDuration(file.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrInvalidTimeout, err)
		}
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: %s", helpers.ErrInvalidTimeout, cfg.Timeout)
	}

	cfg.MinFreeSpace, err = helpers.ParseBytes(pick(c, "min-free-space", file.MinFreeSpace))
	if err != nil {
		return nil, fmt.Errorf("invalid min-free-space: %w", err)
	}
	return cfg, nil
}

// BuildCleanupConfig builds Config for the cleanup command.
func BuildCleanupConfig(c *cli.Context) (*Config, error) {
	cfg, _, err := buildCommon(c)
	if err != nil {
		return nil, err
	}
	cfg.RemoveVolume = c.Bool("remove-volume")
	return cfg, nil
}

func buildCommon(c *cli.Context) (*Config, fileConfig, error) {
	file, err := loadFileConfig(c.String("config"))
	if err != nil {
		return nil, file, err
	}
	cfg := newConfigFromCLI(c, file)
	// 0 selects the fetch default
	if cfg.HTTPTimeout != 0 && cfg.HTTPTimeout < helpers.FetchDialContextTimeout {
		return nil, file, fmt.Errorf("%w: http-timeout %s is below %s",
			helpers.ErrInvalidTimeout, cfg.HTTPTimeout, helpers.FetchDialContextTimeout)
	}

	s3Cfg, err := loadS3CacheConfig(c, file)
	if err != nil {
		return nil, file, err
	}
	cfg.S3Cache = s3Cfg
	return cfg, file, nil
}

func newConfigFromCLI(c *cli.Context, file fileConfig) *Config {
	job := keys.FromEnv()
	job.RunID = helpers.FirstNonEmpty(c.String("run-id"), job.RunID)
	job.TempDir = helpers.FirstNonEmpty(c.String("temp-dir"), job.TempDir)

	cfg := &Config{
		Job:          job,
		DryRun:       c.Bool("dry-run"),
		CustomKey:    strings.TrimSpace(pick(c, "key", file.Key)),
		Volume:       pick(c, "volume", file.Volume),
		EngineName:   c.String("engine-name"),
		EngineImage:  pick(c, "engine-image", file.EngineImage),
		HelperImage:  pick(c, "helper-image", file.HelperImage),
		DockerSocket: c.String("docker-socket"),
		StateDir:     helpers.FirstNonEmpty(pick(c, "state-dir", file.StateDir), job.TempDir),
		CacheDir:     pick(c, "cache-dir", file.CacheDir),
		CacheURL:     pick(c, "cache-url", file.CacheURL),
		CachePrefix:  pick(c, "cache-prefix", file.CachePrefix),
		HTTPTimeout:  c.Duration("http-timeout"),
		OutputFile:   c.String("github-output"),
		EnvFile:      c.String("github-env"),
		MetricsFile:  pick(c, "metrics-file", file.MetricsFile),
		ConfigPath:   c.String("config"),
	}
	cfg.Verbose = c.Bool("verbose")
	cfg.Quiet = !cfg.Verbose && c.Bool("quiet")
	return cfg
}

// pickInt mirrors pick for integer flags.
func pickInt(c *cli.Context, flag string, fileValue *int) int {
	if c.IsSet(flag) || fileValue == nil {
		return c.Int(flag)
	}
	return *fileValue
}
