package cleanup

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/greeddj/dagger-cache/internal/dagger/engine"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
	"github.com/greeddj/dagger-cache/internal/dagger/state"
	"go.uber.org/multierr"
)

// archivePattern matches scratch archives left behind by an interrupted phase.
const archivePattern = helpers.ArchivePrefix + "*.tar*"

// Engine is the part of the engine controller cleanup needs.
type Engine interface {
	FindRunning(ctx context.Context, name string) (engine.Handle, bool, error)
	FindHelpers(ctx context.Context) ([]engine.Handle, error)
	Stop(ctx context.Context, h engine.Handle) error
	RemoveVolume(ctx context.Context, name string) error
}

// Options select what cleanup removes.
type Options struct {
	Volume       string
	RemoveVolume bool
	TempDir      string
	StateDir     string
	DryRun       bool
}

// Report lists what was removed, or would be removed in dry-run mode.
type Report struct {
	Engine   string
	Helpers  []string
	Volume   string
	Archives []string
	State    bool
}

// Run removes the engine and helper containers, the scratch archives and the
// job state, and the volume when asked to. It keeps going after a failure and returns
// every error it met.
func Run(ctx context.Context, eng Engine, out output.Printer, opts Options) (Report, error) {
	if out == nil {
		out = output.Nop{}
	}
	var (
		report Report
		errs   error
	)

	if eng != nil {
		h, found, err := eng.FindRunning(ctx, "")
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("find engine: %w", err))
		case found:
			report.Engine = helpers.FirstNonEmpty(h.Name, h.ID)
			if !opts.DryRun {
				errs = multierr.Append(errs, eng.Stop(ctx, h))
			}
		}
		helperList, err := eng.FindHelpers(ctx)
		errs = multierr.Append(errs, err)
		for _, h := range helperList {
			report.Helpers = append(report.Helpers, helpers.FirstNonEmpty(h.Name, h.ID))
			if !opts.DryRun {
				errs = multierr.Append(errs, eng.Stop(ctx, h))
			}
		}
		if opts.RemoveVolume {
			report.Volume = helpers.FirstNonEmpty(opts.Volume, helpers.EngineVolume)
			if !opts.DryRun {
				errs = multierr.Append(errs, eng.RemoveVolume(ctx, report.Volume))
			}
		}
	}

	if strings.TrimSpace(opts.TempDir) != "" {
		matches, err := filepath.Glob(filepath.Join(opts.TempDir, archivePattern))
		errs = multierr.Append(errs, err)
		for _, path := range matches {
			report.Archives = append(report.Archives, path)
			if !opts.DryRun {
				errs = multierr.Append(errs, helpers.RemoveFile(path))
			}
		}
	}

	if strings.TrimSpace(opts.StateDir) != "" {
		report.State = true
		if !opts.DryRun {
			errs = multierr.Append(errs, state.Remove(opts.StateDir))
		}
	}

	prefix := ""
	if opts.DryRun {
		prefix = "dry run: "
	}
	if report.Engine != "" {
		out.PersistentPrintf("🧹 %sremove engine %s", prefix, report.Engine)
	}
	if n := len(report.Helpers); n > 0 {
		out.PersistentPrintf("🧹 %sremove %d helper container(s)", prefix, n)
	}
	if report.Volume != "" {
		out.PersistentPrintf("🧹 %sremove volume %s", prefix, report.Volume)
	}
	for _, path := range report.Archives {
		out.Debugf("%sremove archive %s", prefix, path)
	}
	if n := len(report.Archives); n > 0 {
		out.PersistentPrintf("🧹 %sremove %d stale archive(s)", prefix, n)
	}
	return report, errs
}
