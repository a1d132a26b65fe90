package config

import (
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/urfave/cli/v2"
)

// S3CacheConfig defines configuration for the S3 cache backend.
type S3CacheConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	PathStyle    bool
}

// loadS3CacheConfig builds S3 cache config from CLI flags and the config file.
func loadS3CacheConfig(c *cli.Context, file fileConfig) (S3CacheConfig, error) {
	cfg := S3CacheConfig{
		Bucket:       pick(c, "s3-bucket", file.S3.Bucket),
		Prefix:       pick(c, "s3-prefix", file.S3.Prefix),
		Endpoint:     pick(c, "s3-endpoint", file.S3.Endpoint),
		Region:       pick(c, "s3-region", file.S3.Region),
		AccessKey:    c.String("s3-access-key"),
		SecretKey:    c.String("s3-secret-key"),
		SessionToken: c.String("s3-session-token"),
	}

	if cfg.Bucket == "" {
		return cfg, nil
	}
	cfg.Enabled = true

	// Without static keys the SDK default chain (env, profile, IMDS) is used.
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return cfg, helpers.ErrS3EmptyCreds
	}

	cfg.PathStyle = !(c.Bool("s3-path-style-disabled") || file.S3.PathStyleDisabled)

	return cfg, nil
}
