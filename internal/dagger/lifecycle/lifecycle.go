package lifecycle

import (
	"context"
	"fmt"

	"github.com/greeddj/dagger-cache/internal/dagger/archive"
	"github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/diskspace"
	"github.com/greeddj/dagger-cache/internal/dagger/engine"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/keys"
	"github.com/greeddj/dagger-cache/internal/dagger/metrics"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
	"github.com/greeddj/dagger-cache/internal/dagger/state"
)

// Phase is a step of the cache lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRestoring
	PhaseRunning
	PhasePersisting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRestoring:
		return "restoring"
	case PhaseRunning:
		return "running"
	case PhasePersisting:
		return "persisting"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Engine controls the engine container and its state volume.
type Engine interface {
	FindRunning(ctx context.Context, name string) (engine.Handle, bool, error)
	Stop(ctx context.Context, h engine.Handle) error
	Start(ctx context.Context, vol, version string) (engine.Handle, error)
	VolumeSizeBytes(ctx context.Context, name string) uint64
	RemoveVolume(ctx context.Context, name string) error
}

// Archiver moves the volume to and from an archive file.
type Archiver interface {
	Backup(ctx context.Context, volume, dest string, opts archive.Options) (archive.File, error)
	Restore(ctx context.Context, volume, src string) error
}

// Store is the remote archive store.
type Store interface {
	Fetch(ctx context.Context, primary string, restoreKeys []string) (cache.ArchiveFile, string, error)
	Save(ctx context.Context, path, key string) error
}

// StateStore keeps the job state between the restore and persist processes.
type StateStore interface {
	Load() (state.JobState, bool, error)
	Save(st state.JobState) error
}

// Options configure a Manager.
type Options struct {
	Job     keys.JobContext
	Volume  string
	Verbose bool
	// DiskFree reports free bytes under a path; 0 means unknown.
	DiskFree func(path string) uint64
	Out      output.Printer
	Metrics  *metrics.Recorder
}

// Manager sequences restore and persist around a build.
type Manager struct {
	engine   Engine
	archiver Archiver
	store    Store
	state    StateStore

	job      keys.JobContext
	volume   string
	verbose  bool
	diskFree func(string) uint64
	out      output.Printer
	metrics  *metrics.Recorder

	phase Phase
	st    state.JobState
}

// New creates a Manager in PhaseIdle.
func New(eng Engine, arch Archiver, store Store, st StateStore, opts Options) *Manager {
	if opts.Out == nil {
		opts.Out = output.Nop{}
	}
	if opts.DiskFree == nil {
		opts.DiskFree = diskspace.AvailableBytes
	}
	return &Manager{
		engine:   eng,
		archiver: arch,
		store:    store,
		state:    st,
		job:      keys.EnsureRunID(opts.Job),
		volume:   helpers.FirstNonEmpty(opts.Volume, helpers.EngineVolume),
		verbose:  opts.Verbose,
		diskFree: opts.DiskFree,
		out:      opts.Out,
		metrics:  opts.Metrics,
	}
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	return m.phase
}

// State returns the job state known to the manager.
func (m *Manager) State() state.JobState {
	return m.st
}

func (m *Manager) transition(from, to Phase) error {
	if m.phase != from {
		return fmt.Errorf("%w: %s -> %s (current %s)", helpers.ErrInvalidTransition, from, to, m.phase)
	}
	m.phase = to
	return nil
}
