package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
	"github.com/greeddj/dagger-cache/internal/dagger/pipeline"
)

type fakeVolumes struct {
	mu      sync.Mutex
	exists  bool
	ensured []string
}

func (f *fakeVolumes) VolumeExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeVolumes) EnsureVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	f.exists = true
	return nil
}

type harness struct {
	archiver *Archiver
	volumes  *fakeVolumes
	payload  []byte
	exported int
	lookups  int
	imported bytes.Buffer
}

func newHarness(t *testing.T, zstdOnPath bool) *harness {
	t.Helper()
	h := &harness{
		volumes: &fakeVolumes{exists: true},
		payload: bytes.Repeat([]byte("layer-blob-"), 4096),
	}
	a := New(h.volumes, output.Nop{}, "")
	a.lookPath = func(name string) (string, error) {
		h.lookups++
		if zstdOnPath {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	a.exportStage = func(string, bool) pipeline.Stage {
		return &pipeline.Func{Label: "export", Fn: func(_ context.Context, _ io.Reader, out io.Writer) error {
			h.exported++
			_, err := out.Write(h.payload)
			return err
		}}
	}
	a.importStage = func(string, bool) pipeline.Stage {
		return &pipeline.Func{Label: "import", Fn: func(_ context.Context, in io.Reader, _ io.Writer) error {
			_, err := io.Copy(&h.imported, in)
			return err
		}}
	}
	h.archiver = a
	return h
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent, stat err: %v", path, err)
	}
}

func TestBackupLevelZeroSkipsCompressorCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	dest := filepath.Join(t.TempDir(), "cache.tar")
	file, err := h.archiver.Backup(context.Background(), "vol", dest, Options{CompressionLevel: 0, Compressor: CompressorZstd})
	if err != nil {
		t.Fatalf("Backup error: %v", err)
	}
	if h.lookups != 0 {
		t.Fatalf("compressor check must not run for level 0, got %d lookups", h.lookups)
	}
	if file.Compression != CompressionNone || file.Size != int64(len(h.payload)) {
		t.Fatalf("unexpected file: %+v", file)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !bytes.Equal(data, h.payload) {
		t.Fatalf("archive content mismatch")
	}
}

func TestBackupCompressorUnavailableFailsFast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	dest := filepath.Join(t.TempDir(), "cache.tar.zst")
	_, err := h.archiver.Backup(context.Background(), "vol", dest, Options{CompressionLevel: 3, Compressor: CompressorZstd})
	if !errors.Is(err, helpers.ErrCompressorUnavailable) {
		t.Fatalf("expected ErrCompressorUnavailable, got %v", err)
	}
	if h.lookups != 1 {
		t.Fatalf("expected exactly one compressor check, got %d", h.lookups)
	}
	if h.exported != 0 {
		t.Fatalf("transfer must not start when compressor is unavailable")
	}
	assertMissing(t, dest)
}

func TestBackupVolumeNotFound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	h.volumes.exists = false
	dest := filepath.Join(t.TempDir(), "cache.tar")
	if _, err := h.archiver.Backup(context.Background(), "vol", dest, Options{}); !errors.Is(err, helpers.ErrVolumeNotFound) {
		t.Fatalf("expected ErrVolumeNotFound, got %v", err)
	}
	assertMissing(t, dest)
}

func TestBackupInvalidLevel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	dest := filepath.Join(t.TempDir(), "cache.tar")
	if _, err := h.archiver.Backup(context.Background(), "vol", dest, Options{CompressionLevel: 20}); !errors.Is(err, helpers.ErrInvalidCompressionLevel) {
		t.Fatalf("expected ErrInvalidCompressionLevel, got %v", err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, compressor := range []string{CompressorBuiltin, CompressorGzip} {
		t.Run(compressor, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, false)
			opts := Options{CompressionLevel: 5, Compressor: compressor}
			dest := NewArchivePath(t.TempDir(), opts)
			file, err := h.archiver.Backup(context.Background(), "vol", dest, opts)
			if err != nil {
				t.Fatalf("Backup error: %v", err)
			}
			if file.Compression != CompressionFor(compressor, 5) {
				t.Fatalf("unexpected compression %s", file.Compression)
			}
			if file.Size >= int64(len(h.payload)) {
				t.Fatalf("expected compressed archive smaller than payload, got %d", file.Size)
			}
			if err := h.archiver.Restore(context.Background(), "restored", dest); err != nil {
				t.Fatalf("Restore error: %v", err)
			}
			if !bytes.Equal(h.imported.Bytes(), h.payload) {
				t.Fatalf("restored payload mismatch")
			}
			if len(h.volumes.ensured) != 1 || h.volumes.ensured[0] != "restored" {
				t.Fatalf("expected volume to be ensured, got %v", h.volumes.ensured)
			}
		})
	}
}

func TestRestoreDetectsBySignature(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	dir := t.TempDir()
	opts := Options{CompressionLevel: 3, Compressor: CompressorBuiltin}
	src := filepath.Join(dir, "renamed.bin")
	if _, err := h.archiver.Backup(context.Background(), "vol", src, opts); err != nil {
		t.Fatalf("Backup error: %v", err)
	}
	if err := h.archiver.Restore(context.Background(), "vol", src); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if !bytes.Equal(h.imported.Bytes(), h.payload) {
		t.Fatalf("expected zstd payload to be decoded by signature")
	}
}

func blockingExport(started chan<- struct{}) func(string, bool) pipeline.Stage {
	return func(string, bool) pipeline.Stage {
		return &pipeline.Func{Label: "export", Fn: func(ctx context.Context, _ io.Reader, out io.Writer) error {
			if _, err := out.Write([]byte("partial")); err != nil {
				return err
			}
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}}
	}
}

func TestBackupCancelledRemovesDest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	started := make(chan struct{})
	h.archiver.exportStage = blockingExport(started)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	dest := filepath.Join(t.TempDir(), "cache.tar")
	_, err := h.archiver.Backup(ctx, "vol", dest, Options{})
	if !errors.Is(err, helpers.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	assertMissing(t, dest)
}

func TestBackupTimeoutRemovesDest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	h.archiver.exportStage = blockingExport(make(chan struct{}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	dest := filepath.Join(t.TempDir(), "cache.tar.zst")
	_, err := h.archiver.Backup(ctx, "vol", dest, Options{CompressionLevel: 1, Compressor: CompressorBuiltin})
	if !errors.Is(err, helpers.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, helpers.ErrCancelled) {
		t.Fatalf("timeout must not be reported as cancellation: %v", err)
	}
	assertMissing(t, dest)
}

func TestBackupTimeoutCause(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	h.archiver.exportStage = blockingExport(make(chan struct{}))
	ctx, cancel := context.WithTimeoutCause(context.Background(), 20*time.Millisecond, helpers.ErrTimeout)
	defer cancel()
	dest := filepath.Join(t.TempDir(), "cache.tar")
	if _, err := h.archiver.Backup(ctx, "vol", dest, Options{}); !errors.Is(err, helpers.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	assertMissing(t, dest)
}

func TestBackupUpstreamFailureRemovesDest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	boom := errors.New("tar: read error")
	h.archiver.exportStage = func(string, bool) pipeline.Stage {
		return &pipeline.Func{Label: "export", Fn: func(_ context.Context, _ io.Reader, out io.Writer) error {
			_, _ = out.Write([]byte("half an archive"))
			return boom
		}}
	}
	dest := filepath.Join(t.TempDir(), "cache.tar.zst")
	_, err := h.archiver.Backup(context.Background(), "vol", dest, Options{CompressionLevel: 3, Compressor: CompressorBuiltin})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	assertMissing(t, dest)
}

func TestDetectCompression(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header []byte
		want   Compression
	}{
		{name: "a.bin", header: []byte{0x28, 0xb5, 0x2f, 0xfd}, want: CompressionZstd},
		{name: "a.bin", header: []byte{0x1f, 0x8b, 0x08, 0x00}, want: CompressionGzip},
		{name: "a.tar.zst", header: nil, want: CompressionZstd},
		{name: "a.TZST", header: []byte("ustar"), want: CompressionZstd},
		{name: "a.tgz", header: nil, want: CompressionGzip},
		{name: "a.tar", header: []byte("./\x00\x00"), want: CompressionNone},
	}
	for _, tt := range tests {
		if got := DetectCompression(tt.name, tt.header); got != tt.want {
			t.Fatalf("DetectCompression(%q): expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestNewArchivePath(t *testing.T) {
	t.Parallel()
	plain := NewArchivePath("/tmp", Options{})
	zst := NewArchivePath("/tmp", Options{CompressionLevel: 3, Compressor: CompressorZstd})
	gz := NewArchivePath("/tmp", Options{CompressionLevel: 3, Compressor: CompressorGzip})
	if !strings.HasPrefix(filepath.Base(plain), helpers.ArchivePrefix) || !strings.HasSuffix(plain, ".tar") {
		t.Fatalf("unexpected plain path %s", plain)
	}
	if !strings.HasSuffix(zst, ".tar.zst") || !strings.HasSuffix(gz, ".tar.gz") {
		t.Fatalf("unexpected compressed paths %s %s", zst, gz)
	}
	if plain == NewArchivePath("/tmp", Options{}) {
		t.Fatalf("archive paths must be unique")
	}
}

func TestDockerStages(t *testing.T) {
	t.Parallel()
	a := New(&fakeVolumes{}, nil, "busybox:1")
	export := a.dockerExport("dagger-engine-state", false).Name()
	if export != "docker run --rm --init --log-driver none --label io.dagger.cache.helper=true -v dagger-engine-state:/volume:ro busybox:1 tar -cf - -C /volume ." {
		t.Fatalf("unexpected export stage %q", export)
	}
	imp := a.dockerImport("dagger-engine-state", true).Name()
	if imp != "docker run --rm -i --init --log-driver none --label io.dagger.cache.helper=true -v dagger-engine-state:/volume busybox:1 tar -xvf - -C /volume" {
		t.Fatalf("unexpected import stage %q", imp)
	}
}
