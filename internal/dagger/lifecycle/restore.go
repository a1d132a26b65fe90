package lifecycle

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/engine"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/keys"
	"github.com/greeddj/dagger-cache/internal/dagger/state"
)

// RestoreRequest carries the inputs of the restore phase.
type RestoreRequest struct {
	Version   string
	CustomKey string
	// CompressionLevel is recorded for the persist phase.
	CompressionLevel int
}

// RestoreResult reports what the restore phase did.
type RestoreResult struct {
	CacheHit    bool
	MatchedKey  string
	PrimaryKey  string
	RestoreKeys []string
	Version     string
	// Address is empty when the engine failed to start.
	Address string
}

// Restore hydrates the engine volume from the store when an archive matches
// and starts the engine on it. Store, archive and engine failures are
// reported and never returned; only an out of order call is an error.
func (m *Manager) Restore(ctx context.Context, req RestoreRequest) (RestoreResult, error) {
	if err := m.transition(PhaseIdle, PhaseRestoring); err != nil {
		return RestoreResult{}, err
	}

	primary := keys.DerivePrimaryKey(m.job, req.CustomKey)
	res := RestoreResult{
		PrimaryKey:  primary,
		RestoreKeys: keys.DeriveRestoreKeys(primary),
		Version:     req.Version,
	}
	m.out.Printf("🔎 restore cache %s", primary)
	res.MatchedKey = m.hydrate(ctx, primary, res.RestoreKeys)
	res.CacheHit = res.MatchedKey != ""

	h, startErr := m.startEngine(ctx, req.Version)
	if startErr != nil {
		m.out.Warnf("⚠️ engine start failed: %v", startErr)
	} else {
		res.Address = h.Address
	}

	m.st = state.JobState{
		Version:          req.Version,
		Key:              primary,
		CompressionLevel: max(req.CompressionLevel, 0),
		RestoredKey:      res.MatchedKey,
		Volume:           m.volume,
		Address:          res.Address,
	}
	if m.state != nil {
		if err := m.state.Save(m.st); err != nil {
			m.out.Warnf("⚠️ save job state: %v", err)
		}
	}

	m.metrics.CacheHit(res.CacheHit)
	switch {
	case res.CacheHit:
		m.metrics.Result("restore", "hit")
		m.out.Okf("cache restored from %s", res.MatchedKey)
	default:
		m.metrics.Result("restore", "miss")
		m.out.PersistentPrintf("ℹ️ cache not found for %s, starting with an empty volume", primary)
	}
	m.phase = PhaseRunning
	return res, nil
}

// hydrate loads the first matching archive into the volume and returns the
// matched key, or "" when the volume stays as it is.
func (m *Manager) hydrate(ctx context.Context, primary string, restoreKeys []string) string {
	if m.store == nil {
		return ""
	}
	start := time.Now()
	file, matched, err := m.store.Fetch(ctx, primary, restoreKeys)
	m.metrics.Observe("fetch", time.Since(start))
	if err != nil {
		if !errors.Is(err, helpers.ErrCacheMiss) {
			m.out.Warnf("⚠️ cache fetch failed, continuing without cache: %v", err)
		}
		return ""
	}
	defer file.Release()
	m.out.DebugSincef(start, "fetched %s to %s", matched, file.Path)

	err = m.metrics.Time("restore-volume", func() error {
		return m.archiver.Restore(ctx, m.volume, file.Path)
	})
	if err != nil {
		m.out.Warnf("⚠️ restore %s into %s failed: %v", matched, m.volume, err)
		return ""
	}
	if size, ok := fileSize(file.Path); ok {
		m.metrics.ArchiveBytes(size)
	}
	return matched
}

func (m *Manager) startEngine(ctx context.Context, version string) (engine.Handle, error) {
	var h engine.Handle
	err := m.metrics.Time("engine-start", func() error {
		var err error
		h, err = m.engine.Start(ctx, m.volume, version)
		return err
	})
	return h, err
}

func fileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
