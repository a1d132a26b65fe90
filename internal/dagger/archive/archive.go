package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
	"github.com/greeddj/dagger-cache/internal/dagger/pipeline"
)

// VolumeManager is the subset of the engine controller the archiver needs.
type VolumeManager interface {
	VolumeExists(ctx context.Context, name string) (bool, error)
	EnsureVolume(ctx context.Context, name string) error
}

// Options control a backup.
type Options struct {
	Verbose bool
	// CompressionLevel 0 writes a plain tar; 1..19 enables Compressor.
	CompressionLevel int
	// Compressor is one of CompressorZstd, CompressorBuiltin or CompressorGzip.
	Compressor string
}

// File describes an archive on disk.
type File struct {
	Path        string
	Compression Compression
	Level       int
	Size        int64
}

// Archiver moves a volume's content to and from single-file archives.
type Archiver struct {
	// Verbose lists archive members while restoring.
	Verbose bool

	volumes     VolumeManager
	out         output.Printer
	helperImage string
	docker      string
	lookPath    func(string) (string, error)

	exportStage func(volume string, verbose bool) pipeline.Stage
	importStage func(volume string, verbose bool) pipeline.Stage
}

// New creates an Archiver that runs tar inside helperImage through the docker CLI.
func New(volumes VolumeManager, out output.Printer, helperImage string) *Archiver {
	if out == nil {
		out = output.Nop{}
	}
	a := &Archiver{
		volumes:     volumes,
		out:         out,
		helperImage: helpers.FirstNonEmpty(helperImage, helpers.HelperImage),
		docker:      helpers.DockerBinary,
		lookPath:    exec.LookPath,
	}
	a.exportStage = a.dockerExport
	a.importStage = a.dockerImport
	return a
}

// Backup writes the content of volume to dest. On any failure, including
// cancellation and timeout, dest is removed before returning.
func (a *Archiver) Backup(ctx context.Context, volume, dest string, opts Options) (file File, err error) {
	defer func() {
		if err != nil {
			if rmErr := helpers.RemoveFile(dest); rmErr != nil {
				a.out.Debugf("remove partial archive %s: %v", dest, rmErr)
			}
		}
	}()
	if err := ValidateLevel(opts.CompressionLevel); err != nil {
		return File{}, err
	}
	if ctx.Err() != nil {
		return File{}, contextError(ctx, ctx.Err())
	}

	exists, err := a.volumes.VolumeExists(ctx, volume)
	if err != nil {
		return File{}, contextError(ctx, fmt.Errorf("inspect volume %s: %w", volume, err))
	}
	if !exists {
		return File{}, fmt.Errorf("%w: %s", helpers.ErrVolumeNotFound, volume)
	}

	compression := CompressionFor(opts.Compressor, opts.CompressionLevel)
	stages := []pipeline.Stage{a.exportStage(volume, opts.Verbose)}
	if compression != CompressionNone {
		if err := checkCompressor(opts.Compressor, a.lookPath); err != nil {
			return File{}, err
		}
		stages = append(stages, compressStage(opts.Compressor, opts.CompressionLevel))
	}

	//nolint:gosec // dest is a scratch path built by this program.
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, helpers.FileMod)
	if err != nil {
		return File{}, fmt.Errorf("create archive %s: %w", dest, err)
	}
	start := time.Now()
	p := pipeline.New(stages...)
	a.out.Debugf("backup pipeline: %v > %s", p.Stages(), dest)
	runErr := p.Run(ctx, nil, f)
	closeErr := f.Close()
	if runErr != nil {
		return File{}, contextError(ctx, runErr)
	}
	if closeErr != nil {
		return File{}, fmt.Errorf("close archive %s: %w", dest, closeErr)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return File{}, err
	}
	a.out.DebugSincef(start, "volume %s archived to %s (%s)", volume, dest, helpers.HumanBytes(uint64(info.Size())))
	return File{Path: dest, Compression: compression, Level: opts.CompressionLevel, Size: info.Size()}, nil
}

// Restore loads the archive at src into volume, creating the volume if needed.
func (a *Archiver) Restore(ctx context.Context, volume, src string) error {
	if ctx.Err() != nil {
		return contextError(ctx, ctx.Err())
	}
	if err := a.volumes.EnsureVolume(ctx, volume); err != nil {
		return contextError(ctx, fmt.Errorf("ensure volume %s: %w", volume, err))
	}

	//nolint:gosec // src is an archive fetched by this program.
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader := bufio.NewReader(f)
	header, err := reader.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read archive header %s: %w", src, err)
	}
	compression := DetectCompression(src, header)

	var stages []pipeline.Stage
	if dec := decompressStage(compression); dec != nil {
		stages = append(stages, dec)
	}
	stages = append(stages, a.importStage(volume, a.Verbose))

	start := time.Now()
	p := pipeline.New(stages...)
	a.out.Debugf("restore pipeline (%s): %s > %v", compression, src, p.Stages())
	if err := p.Run(ctx, reader, nil); err != nil {
		return contextError(ctx, err)
	}
	a.out.DebugSincef(start, "archive %s restored into volume %s", src, volume)
	return nil
}

// dockerExport streams the volume as tar to stdout from a throwaway container.
func (a *Archiver) dockerExport(volume string, verbose bool) pipeline.Stage {
	flags := "-cf"
	if verbose {
		flags = "-cvf"
	}
	cmd := pipeline.NewCommand(a.helperRun(false, volume+":"+helpers.HelperMountPath+":ro",
		"tar", flags, "-", "-C", helpers.HelperMountPath, ".")...)
	if verbose {
		cmd.Stderr = output.NewLineWriter(a.out, "tar: ")
	}
	return cmd
}

// dockerImport extracts a tar stream from stdin into the volume.
func (a *Archiver) dockerImport(volume string, verbose bool) pipeline.Stage {
	flags := "-xf"
	if verbose {
		flags = "-xvf"
	}
	cmd := pipeline.NewCommand(a.helperRun(true, volume+":"+helpers.HelperMountPath,
		"tar", flags, "-", "-C", helpers.HelperMountPath)...)
	if verbose {
		cmd.Stderr = output.NewLineWriter(a.out, "tar: ")
	}
	return cmd
}

// helperRun builds the docker run argv of a helper stage. The tar stream must
// not reach the log driver, and --init lets a forwarded SIGTERM stop tar
// running as pid 1.
func (a *Archiver) helperRun(stdin bool, mount string, command ...string) []string {
	args := []string{a.docker, "run", "--rm"}
	if stdin {
		args = append(args, "-i")
	}
	args = append(args,
		"--init",
		"--log-driver", "none",
		"--label", helpers.HelperLabel+"=true",
		"-v", mount,
		a.helperImage,
	)
	return append(args, command...)
}

// contextError maps a failure observed after ctx ended to ErrTimeout or ErrCancelled.
func contextError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, helpers.ErrTimeout) {
		return cause
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", helpers.ErrTimeout, cause)
	}
	if errors.Is(cause, helpers.ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", helpers.ErrCancelled, cause)
}
