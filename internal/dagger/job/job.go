package job

import (
	"context"
	"time"

	cacheBackend "github.com/greeddj/dagger-cache/internal/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/actions"
	"github.com/greeddj/dagger-cache/internal/dagger/archive"
	cacheManager "github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/config"
	"github.com/greeddj/dagger-cache/internal/dagger/engine"
	"github.com/greeddj/dagger-cache/internal/dagger/infra"
	"github.com/greeddj/dagger-cache/internal/dagger/lifecycle"
	"github.com/greeddj/dagger-cache/internal/dagger/metrics"
	"github.com/greeddj/dagger-cache/internal/dagger/state"
)

// session holds what one phase needs and releases it on close.
type session struct {
	store    *cacheManager.Store
	engine   *engine.Controller
	archiver *archive.Archiver
	state    *state.Store
	metrics  *metrics.Recorder
	outputs  *actions.Writer
}

// openSession connects to docker and opens the cache store and job state.
// A cache or state that cannot be opened is reported and left out.
func openSession(ctx context.Context, cfg *config.Config, runtime *infra.Infra) (*session, error) {
	eng, err := engine.NewFromEnv(runtime.Output, engine.Options{
		Name:         cfg.EngineName,
		Image:        cfg.EngineImage,
		DockerSocket: cfg.DockerSocket,
	})
	if err != nil {
		return nil, err
	}
	s := &session{
		engine:  eng,
		metrics: metrics.New(),
		outputs: actions.NewWriter(cfg.OutputFile, cfg.EnvFile),
	}
	s.archiver = archive.New(eng, runtime.Output, cfg.HelperImage)
	s.archiver.Verbose = cfg.Verbose

	runtime.Output.Printf("🚀 init cache backend")
	start := time.Now()
	backend, err := cacheBackend.New(cfg, runtime)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	store := cacheManager.New(backend, runtime.Output)
	if err := store.Open(ctx); err != nil {
		runtime.Output.Warnf("⚠️ cache backend %s unavailable: %v", backend.Name(), err)
	} else {
		s.store = store
		runtime.Output.DebugSincef(start, "cache backend %s ready", backend.Name())
	}

	st, err := state.Open(cfg.StateDir)
	if err != nil {
		runtime.Output.Warnf("⚠️ job state unavailable: %v", err)
	} else {
		s.state = st
	}
	return s, nil
}

// manager builds the lifecycle manager over the opened parts.
func (s *session) manager(cfg *config.Config, runtime *infra.Infra) *lifecycle.Manager {
	var (
		store lifecycle.Store
		st    lifecycle.StateStore
	)
	if s.store != nil {
		store = s.store
	}
	if s.state != nil {
		st = s.state
	}
	return lifecycle.New(s.engine, s.archiver, store, st, lifecycle.Options{
		Job:     cfg.Job,
		Volume:  cfg.Volume,
		Verbose: cfg.Verbose,
		Out:     runtime.Output,
		Metrics: s.metrics,
	})
}

// finish writes the metrics textfile and the timing summary.
func (s *session) finish(cfg *config.Config, runtime *infra.Infra) {
	for _, line := range s.metrics.Summary() {
		runtime.Output.Debugf("timing %s", line)
	}
	if cfg.MetricsFile == "" {
		return
	}
	if err := s.metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		runtime.Output.Warnf("⚠️ write metrics %s: %v", cfg.MetricsFile, err)
	}
}

func (s *session) close() {
	if s.state != nil {
		_ = s.state.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.engine.Close()
}
