package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/archive"
	"github.com/greeddj/dagger-cache/internal/dagger/diskspace"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// SkipReason explains why persist did not save an archive.
type SkipReason string

const (
	SkipReasonNone          SkipReason = ""
	SkipReasonNoState       SkipReason = "no-state"
	SkipReasonKeyRestored   SkipReason = "key-restored"
	SkipReasonEngineMissing SkipReason = "engine-missing"
	SkipReasonDiskSpace     SkipReason = "disk-space"
	SkipReasonDryRun        SkipReason = "dry-run"
	SkipReasonTimeout       SkipReason = "timeout"
	SkipReasonCancelled     SkipReason = "cancelled"
	SkipReasonBackupFailed  SkipReason = "backup-failed"
	SkipReasonKeyExists     SkipReason = "key-exists"
	SkipReasonSaveFailed    SkipReason = "save-failed"
)

// PersistRequest carries the inputs of the persist phase.
type PersistRequest struct {
	CustomKey string
	// Timeout bounds the backup; 0 means unbounded.
	Timeout time.Duration
	// CompressionLevel below 0 reuses the level recorded by restore.
	CompressionLevel int
	Compressor       string
	// MinFreeSpace is the free space the backup needs; 0 uses the default.
	MinFreeSpace uint64
	DryRun       bool
}

// PersistResult reports what the persist phase did.
type PersistResult struct {
	Skipped     bool
	Reason      SkipReason
	Key         string
	ArchiveSize int64
	VolumeSize  uint64
}

// Persist stops the engine and saves its volume under the job key. Every
// failure becomes a skip with a reason; only an out of order call is an error.
func (m *Manager) Persist(ctx context.Context, req PersistRequest) (PersistResult, error) {
	if m.phase == PhaseIdle {
		if reason := m.loadState(); reason != SkipReasonNone {
			m.phase = PhaseDone
			return m.skip(PersistResult{}, reason), nil
		}
	}
	if err := m.transition(PhaseRunning, PhasePersisting); err != nil {
		return PersistResult{}, err
	}
	defer func() {
		m.phase = PhaseDone
	}()

	res := PersistResult{Key: helpers.FirstNonEmpty(req.CustomKey, m.st.Key)}
	if res.Key != "" && res.Key == m.st.RestoredKey {
		m.out.PersistentPrintf("ℹ️ cache key %s was restored, nothing to save", res.Key)
		return m.skip(res, SkipReasonKeyRestored), nil
	}
	volume := helpers.FirstNonEmpty(m.st.Volume, m.volume)

	h, found, err := m.engine.FindRunning(ctx, "")
	if err != nil {
		m.out.Warnf("⚠️ find engine: %v", err)
	}
	if !found {
		m.out.Warnf("⚠️ %v, skip saving cache", helpers.ErrProcessNotFound)
		return m.skip(res, SkipReasonEngineMissing), nil
	}
	if err := m.metrics.Time("engine-stop", func() error { return m.engine.Stop(ctx, h) }); err != nil {
		m.out.Warnf("⚠️ stop engine: %v", err)
	}
	res.VolumeSize = m.engine.VolumeSizeBytes(ctx, volume)
	m.metrics.VolumeBytes(res.VolumeSize)

	minFree := req.MinFreeSpace
	if minFree == 0 {
		minFree = helpers.MinFreeBytes
	}
	if avail := m.diskFree(m.job.TempDir); !diskspace.Sufficient(avail, minFree) {
		m.out.Warnf("⚠️ not enough free space in %s (%s available, %s required), skip saving cache",
			m.job.TempDir, helpers.HumanBytes(avail), helpers.HumanBytes(minFree))
		return m.skip(res, SkipReasonDiskSpace), nil
	}

	level := req.CompressionLevel
	if level < 0 {
		level = m.st.CompressionLevel
	}
	opts := archive.Options{Verbose: m.verbose, CompressionLevel: level, Compressor: req.Compressor}
	if req.DryRun {
		m.out.PersistentPrintf("ℹ️ dry run: would save volume %s (%s) as %s",
			volume, helpers.HumanBytes(res.VolumeSize), res.Key)
		return m.skip(res, SkipReasonDryRun), nil
	}

	dest := archive.NewArchivePath(m.job.TempDir, opts)
	defer func() {
		if err := helpers.RemoveFile(dest); err != nil {
			m.out.Debugf("remove archive %s: %v", dest, err)
		}
	}()

	backupCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		backupCtx, cancel = context.WithTimeoutCause(ctx, req.Timeout, helpers.ErrTimeout)
		defer cancel()
	}
	m.out.Printf("📦 archive volume %s", volume)
	var file archive.File
	err = m.metrics.Time("backup", func() error {
		var err error
		file, err = m.archiver.Backup(backupCtx, volume, dest, opts)
		return err
	})
	switch {
	case errors.Is(err, helpers.ErrTimeout):
		m.out.Warnf("⚠️ backup exceeded %s, skip saving cache", req.Timeout)
		return m.skip(res, SkipReasonTimeout), nil
	case errors.Is(err, helpers.ErrCancelled):
		m.out.Warnf("⚠️ backup cancelled, skip saving cache")
		return m.skip(res, SkipReasonCancelled), nil
	case err != nil:
		m.out.Warnf("⚠️ backup failed: %v", err)
		return m.skip(res, SkipReasonBackupFailed), nil
	}
	res.ArchiveSize = file.Size
	m.metrics.ArchiveBytes(file.Size)

	m.out.Printf("🚀 save %s (%s)", res.Key, helpers.HumanBytes(uint64(max(file.Size, 0))))
	err = m.metrics.Time("save", func() error { return m.store.Save(ctx, file.Path, res.Key) })
	switch {
	case errors.Is(err, helpers.ErrAlreadyExists):
		m.out.PersistentPrintf("ℹ️ cache key %s already saved", res.Key)
		return m.skip(res, SkipReasonKeyExists), nil
	case err != nil:
		m.out.Warnf("⚠️ save cache failed: %v", err)
		return m.skip(res, SkipReasonSaveFailed), nil
	}

	if err := m.engine.RemoveVolume(ctx, volume); err != nil {
		m.out.Warnf("⚠️ %v", err)
	}
	m.metrics.Result("persist", "saved")
	m.out.Okf("cache saved as %s (%s)", res.Key, helpers.HumanBytes(uint64(max(file.Size, 0))))
	return res, nil
}

// loadState enters PhaseRunning from the state written by restore.
func (m *Manager) loadState() SkipReason {
	if m.state == nil {
		m.out.Warnf("⚠️ job state unavailable, skip saving cache")
		return SkipReasonNoState
	}
	st, ok, err := m.state.Load()
	if err != nil {
		m.out.Warnf("⚠️ load job state: %v, skip saving cache", err)
		return SkipReasonNoState
	}
	if !ok {
		m.out.PersistentPrintf("ℹ️ restore did not run in this job, nothing to save")
		return SkipReasonNoState
	}
	m.st = st
	m.phase = PhaseRunning
	return SkipReasonNone
}

func (m *Manager) skip(res PersistResult, reason SkipReason) PersistResult {
	res.Skipped = true
	res.Reason = reason
	m.metrics.Result("persist", string(reason))
	return res
}
