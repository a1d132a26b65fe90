package commands

import (
	"github.com/greeddj/dagger-cache/cmd/dagger-cache/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/dagger/job"
	"github.com/urfave/cli/v2"
)

// Restore returns the CLI command that hydrates the engine volume and starts the engine.
func Restore() *cli.Command {
	flags := helpers.CommonFlags()
	flags = append(flags, helpers.PhaseFlags()...)
	flags = append(flags, helpers.RestoreFlags()...)
	flags = append(flags, helpers.CacheFlags()...)
	flags = append(flags, helpers.S3Flags()...)

	return &cli.Command{
		Name:    "restore",
		Aliases: []string{"r"},
		Usage:   "Restore the engine volume from the cache and start the engine",
		Flags:   flags,
		Action: action(config.BuildRestoreConfig, func(c *cli.Context, cfg *config.Config, runtime *infra.Infra) error {
			return job.Restore(c.Context, cfg, runtime)
		}),
	}
}
