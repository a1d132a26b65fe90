package commands

import (
	"github.com/greeddj/dagger-cache/cmd/dagger-cache/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/dagger/job"
	"github.com/urfave/cli/v2"
)

// Cleanup returns the CLI command that removes the engine and leftover job files.
func Cleanup() *cli.Command {
	flags := helpers.CommonFlags()
	flags = append(flags, helpers.CleanupFlags()...)

	return &cli.Command{
		Name:    "cleanup",
		Aliases: []string{"c"},
		Usage:   "Remove the engine container, scratch archives and job state",
		Flags:   flags,
		Action: action(config.BuildCleanupConfig, func(c *cli.Context, cfg *config.Config, runtime *infra.Infra) error {
			return job.Cleanup(c.Context, cfg, runtime)
		}),
	}
}
