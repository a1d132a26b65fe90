package job

import (
	"context"
	"strconv"

	"github.com/greeddj/dagger-cache/internal/dagger/actions"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/dagger/lifecycle"
)

// Restore runs the restore phase and publishes its outputs.
func Restore(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	err := runRestore(ctx, cfg, runtime)
	if err != nil {
		runtime.Output.Errorf("Error: %s", err.Error())
	}
	return err
}

func runRestore(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	if cfg == nil {
		return helpers.ErrConfigIsNil
	}
	s, err := openSession(ctx, cfg, runtime)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.manager(cfg, runtime).Restore(ctx, lifecycle.RestoreRequest{
		Version:          cfg.Version,
		CustomKey:        cfg.CustomKey,
		CompressionLevel: cfg.CompressionLevel,
	})
	if err != nil {
		return err
	}
	if err := publishRestore(s.outputs, res); err != nil {
		runtime.Output.Warnf("⚠️ publish outputs: %v", err)
	}
	s.finish(cfg, runtime)
	return nil
}

// publishRestore exposes the restore result to later job steps.
func publishRestore(w *actions.Writer, res lifecycle.RestoreResult) error {
	pairs := [][2]string{
		{actions.OutputCacheHit, strconv.FormatBool(res.CacheHit)},
		{actions.OutputVersion, res.Version},
		{actions.OutputCacheKey, res.PrimaryKey},
		{actions.OutputCacheMatchedKey, res.MatchedKey},
	}
	for _, p := range pairs {
		if err := w.SetOutput(p[0], p[1]); err != nil {
			return err
		}
	}
	if res.Address == "" {
		return nil
	}
	return w.ExportEnv(helpers.EngineRunnerHostEnv, res.Address)
}
