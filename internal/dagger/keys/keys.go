package keys

import (
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// JobContext carries the read-only job inputs used to build cache keys.
type JobContext struct {
	OS      string
	Arch    string
	RunID   string
	TempDir string
}

// FromEnv builds a JobContext from the CI environment with host defaults.
func FromEnv() JobContext {
	return JobContext{
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		RunID:   os.Getenv("GITHUB_RUN_ID"),
		TempDir: helpers.FirstNonEmpty(os.Getenv("RUNNER_TEMP"), os.TempDir()),
	}
}

// EnsureRunID fills an empty RunID with a random id. Without it every run
// derives the same primary key, restores it and never saves again.
func EnsureRunID(job JobContext) JobContext {
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	return job
}

// DerivePrimaryKey returns customKey verbatim when set, otherwise
// <prefix>-<os>-<arch>-<run-id>.
func DerivePrimaryKey(job JobContext, customKey string) string {
	if customKey != "" {
		return customKey
	}
	return strings.Join([]string{helpers.KeyPrefix, job.OS, job.Arch, job.RunID}, helpers.KeySeparator)
}

// DeriveRestoreKeys strips the last -segment from primary.
// A key without a separator, or one that would leave an empty prefix, has no restore keys.
func DeriveRestoreKeys(primary string) []string {
	idx := strings.LastIndex(primary, helpers.KeySeparator)
	if idx <= 0 {
		return []string{}
	}
	return []string{primary[:idx]}
}
