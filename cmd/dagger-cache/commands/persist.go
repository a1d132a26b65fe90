package commands

import (
	"github.com/greeddj/dagger-cache/cmd/dagger-cache/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/dagger/job"
	"github.com/urfave/cli/v2"
)

// Persist returns the CLI command that stops the engine and saves its volume.
func Persist() *cli.Command {
	flags := helpers.CommonFlags()
	flags = append(flags, helpers.PhaseFlags()...)
	flags = append(flags, helpers.PersistFlags()...)
	flags = append(flags, helpers.CacheFlags()...)
	flags = append(flags, helpers.S3Flags()...)

	return &cli.Command{
		Name:    "persist",
		Aliases: []string{"p"},
		Usage:   "Stop the engine and save its volume to the cache",
		Flags:   flags,
		Action: action(config.BuildPersistConfig, func(c *cli.Context, cfg *config.Config, runtime *infra.Infra) error {
			return job.Persist(c.Context, cfg, runtime)
		}),
	}
}
