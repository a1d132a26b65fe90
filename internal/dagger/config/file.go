package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig maps the optional --config file. Flags set on the command line
// or through the environment win over file values.
type fileConfig struct {
	Version          string       `toml:"version" yaml:"version"`
	Key              string       `toml:"key" yaml:"key"`
	CompressionLevel *int         `toml:"compression_level" yaml:"compression_level"`
	Compressor       string       `toml:"compressor" yaml:"compressor"`
	Timeout          string       `toml:"timeout" yaml:"timeout"`
	MinFreeSpace     string       `toml:"min_free_space" yaml:"min_free_space"`
	Volume           string       `toml:"volume" yaml:"volume"`
	EngineImage      string       `toml:"engine_image" yaml:"engine_image"`
	HelperImage      string       `toml:"helper_image" yaml:"helper_image"`
	CacheDir         string       `toml:"cache_dir" yaml:"cache_dir"`
	CacheURL         string       `toml:"cache_url" yaml:"cache_url"`
	CachePrefix      string       `toml:"cache_prefix" yaml:"cache_prefix"`
	StateDir         string       `toml:"state_dir" yaml:"state_dir"`
	MetricsFile      string       `toml:"metrics_file" yaml:"metrics_file"`
	S3               fileS3Config `toml:"s3" yaml:"s3"`
}

// fileS3Config maps the [s3] section. Credentials are only read from flags and env.
type fileS3Config struct {
	Bucket            string `toml:"bucket" yaml:"bucket"`
	Prefix            string `toml:"prefix" yaml:"prefix"`
	Endpoint          string `toml:"endpoint" yaml:"endpoint"`
	Region            string `toml:"region" yaml:"region"`
	PathStyleDisabled bool   `toml:"path_style_disabled" yaml:"path_style_disabled"`
}

// loadFileConfig parses path as TOML or YAML by extension. An empty path yields zero values.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		//nolint:gosec // path is provided by the user via --config.
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("%w: %s", helpers.ErrUnsupportedConfigFormat, path)
	}
	return cfg, nil
}

// pick returns the flag value when the user set it, the file value when
// present, and the flag default otherwise.
func pick(c *cli.Context, flag, fileValue string) string {
	if c.IsSet(flag) || strings.TrimSpace(fileValue) == "" {
		return c.String(flag)
	}
	return fileValue
}
