package commands

import (
	"io"
	"log"

	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/fetch"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/progress"
	"github.com/urfave/cli/v2"
)

type (
	buildFunc func(c *cli.Context) (*config.Config, error)
	jobFunc   func(c *cli.Context, cfg *config.Config, runtime *infra.Infra) error
)

// action builds the config and the runtime, then runs fn.
func action(build buildFunc, fn jobFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := build(c)
		if err != nil {
			progress.Errorf("%s", err.Error())
			return err
		}
		p := progress.New(cfg.Verbose, cfg.Quiet)
		if cfg.Verbose {
			log.SetOutput(p)
		} else {
			log.SetOutput(io.Discard)
		}
		defer p.Close()
		runtime := infra.New(p, fetch.New(cfg.HTTPTimeout), cfg.Job.TempDir)
		runtime.DebugConfig(cfg)
		return fn(c, cfg, runtime)
	}
}
