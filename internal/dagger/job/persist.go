package job

import (
	"context"

	"github.com/greeddj/dagger-cache/internal/dagger/actions"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/dagger/lifecycle"
)

// Persist runs the persist phase. Skips are reported, not returned.
func Persist(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	err := runPersist(ctx, cfg, runtime)
	if err != nil {
		runtime.Output.Errorf("Error: %s", err.Error())
	}
	return err
}

func runPersist(ctx context.Context, cfg *config.Config, runtime *infra.Infra) error {
	if cfg == nil {
		return helpers.ErrConfigIsNil
	}
	s, err := openSession(ctx, cfg, runtime)
	if err != nil {
		return err
	}
	defer s.close()
	if s.store == nil && !cfg.DryRun {
		runtime.Output.Warnf("⚠️ no cache backend, skip saving cache")
		s.metrics.Result("persist", "no-backend")
		s.finish(cfg, runtime)
		return nil
	}

	res, err := s.manager(cfg, runtime).Persist(ctx, lifecycle.PersistRequest{
		CustomKey:        cfg.CustomKey,
		Timeout:          cfg.Timeout,
		CompressionLevel: cfg.CompressionLevel,
		Compressor:       cfg.Compressor,
		MinFreeSpace:     cfg.MinFreeSpace,
		DryRun:           cfg.DryRun,
	})
	if err != nil {
		return err
	}
	if res.Key != "" {
		if err := s.outputs.SetOutput(actions.OutputCacheKey, res.Key); err != nil {
			runtime.Output.Warnf("⚠️ publish outputs: %v", err)
		}
	}
	if res.Skipped {
		runtime.Output.Debugf("persist skipped: %s", res.Reason)
	}
	s.finish(cfg, runtime)
	return nil
}
