package job

import (
	"context"

	"github.com/greeddj/dagger-cache/internal/dagger/cleanup"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/engine"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
)

// Cleanup removes what the restore and persist phases may leave behind.
func Cleanup(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	err := runCleanup(ctx, cfg, runtime)
	if err != nil {
		runtime.Output.Errorf("Error: %s", err.Error())
	}
	return err
}

func runCleanup(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	if cfg == nil {
		return helpers.ErrConfigIsNil
	}
	eng, err := engine.NewFromEnv(runtime.Output, engine.Options{Name: cfg.EngineName})
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	report, err := cleanup.Run(ctx, eng, runtime.Output, cleanup.Options{
		Volume:       cfg.Volume,
		RemoveVolume: cfg.RemoveVolume,
		TempDir:      runtime.TempDir(),
		StateDir:     cfg.StateDir,
		DryRun:       cfg.DryRun,
	})
	if err != nil {
		return err
	}
	if report.Engine == "" && len(report.Helpers) == 0 && report.Volume == "" && len(report.Archives) == 0 {
		runtime.Output.PersistentPrintf("ℹ️ nothing to clean up")
		return nil
	}
	runtime.Output.Okf("cleanup done")
	return nil
}
