package helpers

import (
	"github.com/urfave/cli/v2"
)

// CommonFlags defines shared CLI flags for all commands.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML or YAML config file; flags win over its values",
			EnvVars: []string{"DAGGER_CACHE_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Verbose output",
			EnvVars: []string{"DAGGER_CACHE_VERBOSE", "RUNNER_DEBUG"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Quiet mode, not working with verbose",
			EnvVars: []string{"DAGGER_CACHE_QUIET"},
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Enable dry-run mode",
		},
		&cli.StringFlag{
			Name:    "run-id",
			Usage:   "CI run id used as the last segment of the cache key",
			EnvVars: []string{"DAGGER_CACHE_RUN_ID", "GITHUB_RUN_ID"},
		},
		&cli.StringFlag{
			Name:    "temp-dir",
			Usage:   "Scratch directory for archives",
			EnvVars: []string{"DAGGER_CACHE_TEMP_DIR", "RUNNER_TEMP"},
		},
		&cli.StringFlag{
			Name:    "state-dir",
			Usage:   "Directory of the job state shared by restore and persist (default: temp-dir)",
			EnvVars: []string{"DAGGER_CACHE_STATE_DIR"},
		},
		&cli.StringFlag{
			Name:    "volume",
			Usage:   "Engine state volume name",
			Value:   defaultEngineVolume,
			EnvVars: []string{"DAGGER_CACHE_VOLUME"},
		},
		&cli.StringFlag{
			Name:    "engine-name",
			Usage:   "Engine container name",
			Value:   defaultEngineName,
			EnvVars: []string{"DAGGER_CACHE_ENGINE_NAME"},
		},
		&cli.StringFlag{
			Name:    "docker-socket",
			Usage:   "Host docker socket mounted into the engine",
			Value:   defaultDockerSocket,
			EnvVars: []string{"DAGGER_CACHE_DOCKER_SOCKET"},
		},
	}
}

// PhaseFlags defines CLI flags shared by restore and persist.
func PhaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "Custom cache key, replaces the derived dagger-v1-<os>-<arch>-<run-id>",
			EnvVars: []string{"DAGGER_CACHE_KEY"},
		},
		&cli.StringFlag{
			Name:    "engine-image",
			Usage:   "Engine image repository, tagged with the dagger version",
			Value:   defaultEngineImage,
			EnvVars: []string{"DAGGER_CACHE_ENGINE_IMAGE"},
		},
		&cli.StringFlag{
			Name:    "helper-image",
			Usage:   "Image running tar against the volume",
			Value:   defaultHelperImage,
			EnvVars: []string{"DAGGER_CACHE_HELPER_IMAGE"},
		},
		&cli.StringFlag{
			Name:    "github-output",
			Usage:   "File receiving step outputs",
			EnvVars: []string{"GITHUB_OUTPUT"},
		},
		&cli.StringFlag{
			Name:    "github-env",
			Usage:   "File receiving exported environment variables",
			EnvVars: []string{"GITHUB_ENV"},
		},
		&cli.StringFlag{
			Name:    "metrics-file",
			Usage:   "Write phase metrics in the prometheus textfile format",
			EnvVars: []string{"DAGGER_CACHE_METRICS_FILE"},
		},
	}
}

// RestoreFlags defines CLI flags of the restore command.
func RestoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dagger-version",
			Usage:   "Dagger engine version",
			EnvVars: []string{"DAGGER_VERSION"},
		},
		&cli.IntFlag{
			Name:    "compression-level",
			Aliases: []string{"l"},
			Usage:   "Compression level recorded for persist, 0 disables compression",
			Value:   defaultRestoreLevel,
			EnvVars: []string{"DAGGER_CACHE_COMPRESSION_LEVEL"},
		},
	}
}

// PersistFlags defines CLI flags of the persist command.
func PersistFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "compression-level",
			Aliases: []string{"l"},
			Usage:   "Compression level 0..19, -1 reuses the level recorded by restore",
			Value:   defaultPersistLevel,
			EnvVars: []string{"DAGGER_CACHE_COMPRESSION_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "compressor",
			Usage:   "Compressor: zstd (external binary), builtin or gzip",
			Value:   defaultCompressor,
			EnvVars: []string{"DAGGER_CACHE_COMPRESSOR"},
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Backup time budget, 0 means unbounded",
			EnvVars: []string{"DAGGER_CACHE_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "min-free-space",
			Usage:   "Free space required in temp-dir before a backup",
			Value:   defaultMinFreeSpace,
			EnvVars: []string{"DAGGER_CACHE_MIN_FREE_SPACE"},
		},
	}
}

// CleanupFlags defines CLI flags of the cleanup command.
func CleanupFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "remove-volume",
			Usage:   "Also remove the engine state volume",
			EnvVars: []string{"DAGGER_CACHE_REMOVE_VOLUME"},
		},
	}
}

// CacheFlags defines CLI flags selecting the cache backend.
func CacheFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "cache-dir",
			Usage:   "Local cache directory",
			Value:   defaultCacheDir(),
			EnvVars: []string{"DAGGER_CACHE_DIR"},
		},
		&cli.StringFlag{
			Name:    "cache-url",
			Usage:   "Bucket URL (gs://, azblob://, s3://, file://, mem://), if defined wins over s3-bucket and cache-dir",
			EnvVars: []string{"DAGGER_CACHE_URL"},
		},
		&cli.StringFlag{
			Name:    "cache-prefix",
			Usage:   "Key prefix inside the cache-url bucket",
			EnvVars: []string{"DAGGER_CACHE_PREFIX"},
		},
		&cli.DurationFlag{
			Name:    "http-timeout",
			Usage:   "Time to wait for remote cache response headers, at least 10s",
			Value:   defaultHTTPTimeout,
			EnvVars: []string{"DAGGER_CACHE_HTTP_TIMEOUT"},
		},
	}
}

// S3Flags defines CLI flags for S3 cache configuration.
func S3Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "S3 bucket name for caching, if defined enables S3 caching instead of local cache-dir",
			EnvVars: []string{"DAGGER_CACHE_S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "S3 region for caching",
			EnvVars: []string{"DAGGER_CACHE_S3_REGION", "AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "s3-prefix",
			Usage:   "S3 prefix for caching",
			EnvVars: []string{"DAGGER_CACHE_S3_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			Usage:   "S3 access key for caching",
			EnvVars: []string{"DAGGER_CACHE_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			Usage:   "S3 secret key for caching",
			EnvVars: []string{"DAGGER_CACHE_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "S3 endpoint for caching",
			EnvVars: []string{"DAGGER_CACHE_S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-session-token",
			Usage:   "S3 session token for caching",
			EnvVars: []string{"DAGGER_CACHE_S3_SESSION_TOKEN", "AWS_SESSION_TOKEN"},
		},
		&cli.BoolFlag{
			Name:    "s3-path-style-disabled",
			Usage:   "Use virtual-hosted addressing instead of path style",
			EnvVars: []string{"DAGGER_CACHE_S3_PATH_STYLE_DISABLED"},
		},
	}
}
