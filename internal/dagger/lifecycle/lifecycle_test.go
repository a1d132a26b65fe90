package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/archive"
	"github.com/greeddj/dagger-cache/internal/dagger/cache"
	"github.com/greeddj/dagger-cache/internal/dagger/engine"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/keys"
	"github.com/greeddj/dagger-cache/internal/dagger/metrics"
	"github.com/greeddj/dagger-cache/internal/dagger/state"
)

type fakeEngine struct {
	running    bool
	startErr   error
	stopErr    error
	volumeSize uint64

	starts  []string
	stops   int
	removed []string
}

func (f *fakeEngine) FindRunning(context.Context, string) (engine.Handle, bool, error) {
	if !f.running {
		return engine.Handle{}, false, nil
	}
	return engine.Handle{Name: helpers.EngineName, ID: "abc", Address: "docker-container://dagger-engine"}, true, nil
}

func (f *fakeEngine) Stop(context.Context, engine.Handle) error {
	f.stops++
	f.running = false
	return f.stopErr
}

func (f *fakeEngine) Start(_ context.Context, vol, version string) (engine.Handle, error) {
	f.starts = append(f.starts, vol+"@"+version)
	if f.startErr != nil {
		return engine.Handle{}, f.startErr
	}
	f.running = true
	return engine.Handle{Name: helpers.EngineName, ID: "abc", Address: "docker-container://dagger-engine", Volume: vol}, nil
}

func (f *fakeEngine) VolumeSizeBytes(context.Context, string) uint64 { return f.volumeSize }

func (f *fakeEngine) RemoveVolume(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

type fakeArchiver struct {
	backupErr  error
	restoreErr error
	// waitForCtx blocks Backup until its context ends.
	waitForCtx bool

	backups  []archive.Options
	restored []string
	dest     string
}

func (f *fakeArchiver) Backup(ctx context.Context, _, dest string, opts archive.Options) (archive.File, error) {
	f.backups = append(f.backups, opts)
	f.dest = dest
	if f.waitForCtx {
		<-ctx.Done()
		if errors.Is(context.Cause(ctx), helpers.ErrTimeout) {
			return archive.File{}, context.Cause(ctx)
		}
		return archive.File{}, helpers.ErrCancelled
	}
	if f.backupErr != nil {
		return archive.File{}, f.backupErr
	}
	if err := os.WriteFile(dest, []byte("volume"), 0o600); err != nil {
		return archive.File{}, err
	}
	return archive.File{Path: dest, Level: opts.CompressionLevel, Size: 6}, nil
}

func (f *fakeArchiver) Restore(_ context.Context, volume, src string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f.restored = append(f.restored, volume+":"+string(data))
	return nil
}

type fakeStore struct {
	dir      string
	archives map[string]string
	fetchErr error
	saveErr  error
	saves    []string
	fetched  []string
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	return &fakeStore{dir: t.TempDir(), archives: map[string]string{}}
}

func (f *fakeStore) Fetch(_ context.Context, primary string, restoreKeys []string) (cache.ArchiveFile, string, error) {
	if f.fetchErr != nil {
		return cache.ArchiveFile{}, "", f.fetchErr
	}
	matched := ""
	if _, ok := f.archives[primary]; ok {
		matched = primary
	}
	for _, prefix := range restoreKeys {
		for key := range f.archives {
			if matched == "" && strings.HasPrefix(key, prefix) {
				matched = key
			}
		}
	}
	if matched == "" {
		return cache.ArchiveFile{}, "", helpers.ErrCacheMiss
	}
	path := filepath.Join(f.dir, matched)
	if err := os.WriteFile(path, []byte(f.archives[matched]), 0o600); err != nil {
		return cache.ArchiveFile{}, "", err
	}
	f.fetched = append(f.fetched, path)
	return cache.ArchiveFile{Key: matched, Path: path, Cleanup: func() { _ = os.Remove(path) }}, matched, nil
}

func (f *fakeStore) Save(_ context.Context, path, key string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if _, ok := f.archives[key]; ok {
		return helpers.ErrAlreadyExists
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.archives[key] = string(data)
	f.saves = append(f.saves, key)
	return nil
}

type memState struct {
	st  state.JobState
	ok  bool
	err error
}

func (m *memState) Load() (state.JobState, bool, error) { return m.st, m.ok, m.err }

func (m *memState) Save(st state.JobState) error {
	m.st = st
	m.ok = true
	return nil
}

type env struct {
	engine   *fakeEngine
	archiver *fakeArchiver
	store    *fakeStore
	state    *memState
	disk     uint64
	tempDir  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		engine:   &fakeEngine{volumeSize: 1 << 30},
		archiver: &fakeArchiver{},
		store:    newFakeStore(t),
		state:    &memState{},
		disk:     10 << 30,
		tempDir:  t.TempDir(),
	}
}

func (e *env) manager(runID string) *Manager {
	return New(e.engine, e.archiver, e.store, e.state, Options{
		Job:      keys.JobContext{OS: "linux", Arch: "amd64", RunID: runID, TempDir: e.tempDir},
		DiskFree: func(string) uint64 { return e.disk },
		Metrics:  metrics.New(),
	})
}

func TestRestoreMissStartsEmptyEngine(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	m := e.manager("42")

	res, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2", CompressionLevel: 3})
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if res.CacheHit || res.MatchedKey != "" {
		t.Fatalf("expected miss, got %+v", res)
	}
	if res.PrimaryKey != "dagger-v1-linux-amd64-42" || len(res.RestoreKeys) != 1 || res.RestoreKeys[0] != "dagger-v1-linux-amd64" {
		t.Fatalf("unexpected keys: %+v", res)
	}
	if res.Address != "docker-container://dagger-engine" || len(e.engine.starts) != 1 {
		t.Fatalf("expected engine start, got %+v starts=%v", res, e.engine.starts)
	}
	if len(e.archiver.restored) != 0 {
		t.Fatalf("miss must not restore a volume")
	}
	if !e.state.ok || e.state.st.Key != res.PrimaryKey || e.state.st.RestoredKey != "" || e.state.st.CompressionLevel != 3 {
		t.Fatalf("unexpected job state: %+v", e.state.st)
	}
	if m.Phase() != PhaseRunning {
		t.Fatalf("expected running phase, got %s", m.Phase())
	}
}

func TestRestoreHitByRestoreKey(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.store.archives["dagger-v1-linux-amd64-41"] = "previous run"
	m := e.manager("42")

	res, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"})
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if !res.CacheHit || res.MatchedKey != "dagger-v1-linux-amd64-41" {
		t.Fatalf("expected hit on previous run, got %+v", res)
	}
	if len(e.archiver.restored) != 1 || e.archiver.restored[0] != helpers.EngineVolume+":previous run" {
		t.Fatalf("unexpected restores: %v", e.archiver.restored)
	}
	for _, path := range e.store.fetched {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("fetched archive %s must be removed, err=%v", path, err)
		}
	}
	if e.state.st.RestoredKey != "dagger-v1-linux-amd64-41" {
		t.Fatalf("expected restored key in state, got %+v", e.state.st)
	}
}

func TestRestoreSoftFailures(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.store.fetchErr = errors.New("remote down")
	e.engine.startErr = errors.New("privileged mode disabled")
	m := e.manager("42")

	res, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"})
	if err != nil {
		t.Fatalf("Restore must not fail, got %v", err)
	}
	if res.CacheHit || res.Address != "" {
		t.Fatalf("expected miss with no address, got %+v", res)
	}
	if !e.state.ok {
		t.Fatalf("job state must still be written")
	}
}

func TestRestoreArchiveFailureIsMiss(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.store.archives["dagger-v1-linux-amd64-41"] = "broken"
	e.archiver.restoreErr = errors.New("tar: unexpected EOF")
	m := e.manager("42")

	res, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"})
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if res.CacheHit || e.state.st.RestoredKey != "" {
		t.Fatalf("failed hydration must count as a miss, got %+v", res)
	}
}

func TestPersistSavesAndRemovesVolume(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	if _, err := e.manager("42").Restore(context.Background(), RestoreRequest{Version: "0.18.2", CompressionLevel: 5}); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	// persist runs in a new process and reloads the job state
	m := e.manager("42")
	res, err := m.Persist(context.Background(), PersistRequest{CompressionLevel: -1, Compressor: archive.CompressorBuiltin})
	if err != nil {
		t.Fatalf("Persist error: %v", err)
	}
	if res.Skipped || res.Key != "dagger-v1-linux-amd64-42" || res.ArchiveSize != 6 || res.VolumeSize != 1<<30 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(e.store.saves) != 1 || e.store.archives["dagger-v1-linux-amd64-42"] != "volume" {
		t.Fatalf("unexpected saves: %v", e.store.saves)
	}
	if e.engine.stops != 1 || len(e.engine.removed) != 1 || e.engine.removed[0] != helpers.EngineVolume {
		t.Fatalf("expected stop and volume removal, stops=%d removed=%v", e.engine.stops, e.engine.removed)
	}
	if e.archiver.backups[0].CompressionLevel != 5 || e.archiver.backups[0].Compressor != archive.CompressorBuiltin {
		t.Fatalf("expected restore level to be reused, got %+v", e.archiver.backups[0])
	}
	if _, err := os.Stat(e.archiver.dest); !os.IsNotExist(err) {
		t.Fatalf("archive must be removed after save, err=%v", err)
	}
	if m.Phase() != PhaseDone {
		t.Fatalf("expected done phase, got %s", m.Phase())
	}
}

func TestPersistRestoredKeyMakesNoWrites(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.store.archives["dagger-v1-linux-amd64-42"] = "same run"
	m := e.manager("42")
	if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	res, err := m.Persist(context.Background(), PersistRequest{CustomKey: "dagger-v1-linux-amd64-42"})
	if err != nil {
		t.Fatalf("Persist error: %v", err)
	}
	if !res.Skipped || res.Reason != SkipReasonKeyRestored {
		t.Fatalf("expected key-restored skip, got %+v", res)
	}
	if len(e.store.saves) != 0 || len(e.archiver.backups) != 0 || e.engine.stops != 0 {
		t.Fatalf("expected zero writes, saves=%v backups=%d stops=%d", e.store.saves, len(e.archiver.backups), e.engine.stops)
	}
}

func TestRunsWithoutRunIDKeepSaving(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	for run := 1; run <= 3; run++ {
		restored, err := e.manager("").Restore(ctx, RestoreRequest{Version: "0.18.2"})
		if err != nil {
			t.Fatalf("run %d: Restore error: %v", run, err)
		}
		if restored.PrimaryKey == "dagger-v1-linux-amd64-" || restored.PrimaryKey == restored.MatchedKey {
			t.Fatalf("run %d: primary key %q must be fresh, matched %q", run, restored.PrimaryKey, restored.MatchedKey)
		}
		if run > 1 && !restored.CacheHit {
			t.Fatalf("run %d: expected a hit by restore key", run)
		}
		res, err := e.manager("").Persist(ctx, PersistRequest{CompressionLevel: -1})
		if err != nil {
			t.Fatalf("run %d: Persist error: %v", run, err)
		}
		if res.Skipped || res.Key != restored.PrimaryKey {
			t.Fatalf("run %d: expected save under %q, got %+v", run, restored.PrimaryKey, res)
		}
	}
	if len(e.store.saves) != 3 {
		t.Fatalf("expected one save per run, got %v", e.store.saves)
	}
}

func TestPersistDiskSpace(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		disk    uint64
		minFree uint64
		skipped bool
	}{
		{name: "500MiB below default", disk: 500 << 20, skipped: true},
		{name: "unknown", disk: 0, skipped: true},
		{name: "custom minimum", disk: 500 << 20, minFree: 100 << 20, skipped: false},
		{name: "enough", disk: 4 << 30, skipped: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			e.disk = tt.disk
			m := e.manager("42")
			if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); err != nil {
				t.Fatalf("Restore error: %v", err)
			}
			res, err := m.Persist(context.Background(), PersistRequest{MinFreeSpace: tt.minFree})
			if err != nil {
				t.Fatalf("Persist error: %v", err)
			}
			if res.Skipped != tt.skipped {
				t.Fatalf("expected skipped=%v, got %+v", tt.skipped, res)
			}
			if tt.skipped {
				if res.Reason != SkipReasonDiskSpace || len(e.archiver.backups) != 0 || len(e.store.saves) != 0 {
					t.Fatalf("disk skip must not back up or save: %+v backups=%d", res, len(e.archiver.backups))
				}
			}
		})
	}
}

func TestPersistTimeoutIsSoft(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.archiver.waitForCtx = true
	m := e.manager("42")
	if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	res, err := m.Persist(context.Background(), PersistRequest{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Persist error: %v", err)
	}
	if !res.Skipped || res.Reason != SkipReasonTimeout || len(e.store.saves) != 0 {
		t.Fatalf("expected timeout skip without save, got %+v", res)
	}
	if len(e.engine.removed) != 0 {
		t.Fatalf("volume must be kept when nothing was saved")
	}
}

func TestPersistSkips(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		setup  func(e *env)
		reason SkipReason
	}{
		{name: "engine missing", setup: func(e *env) { e.engine.running = false }, reason: SkipReasonEngineMissing},
		{name: "backup failed", setup: func(e *env) { e.archiver.backupErr = errors.New("docker: exit 1") }, reason: SkipReasonBackupFailed},
		{name: "key exists", setup: func(e *env) { e.store.archives["dagger-v1-linux-amd64-42"] = "other job" }, reason: SkipReasonKeyExists},
		{name: "save failed", setup: func(e *env) { e.store.saveErr = errors.New("access denied") }, reason: SkipReasonSaveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			m := e.manager("42")
			if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); err != nil {
				t.Fatalf("Restore error: %v", err)
			}
			tt.setup(e)
			res, err := m.Persist(context.Background(), PersistRequest{})
			if err != nil {
				t.Fatalf("Persist error: %v", err)
			}
			if !res.Skipped || res.Reason != tt.reason {
				t.Fatalf("expected %s skip, got %+v", tt.reason, res)
			}
			if len(e.engine.removed) != 0 {
				t.Fatalf("volume must be kept on skip")
			}
		})
	}
}

func TestPersistWithoutState(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	res, err := e.manager("42").Persist(context.Background(), PersistRequest{})
	if err != nil {
		t.Fatalf("Persist error: %v", err)
	}
	if !res.Skipped || res.Reason != SkipReasonNoState {
		t.Fatalf("expected no-state skip, got %+v", res)
	}
}

func TestPersistDryRun(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	m := e.manager("42")
	if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	res, err := m.Persist(context.Background(), PersistRequest{DryRun: true})
	if err != nil {
		t.Fatalf("Persist error: %v", err)
	}
	if res.Reason != SkipReasonDryRun || len(e.archiver.backups) != 0 || len(e.store.saves) != 0 {
		t.Fatalf("dry run must not back up or save: %+v", res)
	}
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	m := e.manager("42")
	if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if _, err := m.Restore(context.Background(), RestoreRequest{Version: "0.18.2"}); !errors.Is(err, helpers.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second restore, got %v", err)
	}
	if _, err := m.Persist(context.Background(), PersistRequest{}); err != nil {
		t.Fatalf("Persist error: %v", err)
	}
	if _, err := m.Persist(context.Background(), PersistRequest{}); !errors.Is(err, helpers.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second persist, got %v", err)
	}
}
