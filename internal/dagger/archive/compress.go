package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/pipeline"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Compression is the payload encoding of an archive file.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
)

// Compressor names accepted by Options.Compressor.
const (
	// CompressorZstd pipes through the zstd binary found on PATH.
	CompressorZstd = "zstd"
	// CompressorBuiltin compresses zstd in-process.
	CompressorBuiltin = "builtin"
	// CompressorGzip compresses gzip in-process with parallel blocks.
	CompressorGzip = "gzip"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Extension returns the file suffix used for c.
func (c Compression) Extension() string {
	switch c {
	case CompressionZstd:
		return ".tar.zst"
	case CompressionGzip:
		return ".tar.gz"
	default:
		return ".tar"
	}
}

// CompressionFor maps a compressor and level to the resulting compression.
func CompressionFor(compressor string, level int) Compression {
	if level <= 0 {
		return CompressionNone
	}
	if compressor == CompressorGzip {
		return CompressionGzip
	}
	return CompressionZstd
}

// NewArchivePath returns a unique scratch archive path in dir for opts.
func NewArchivePath(dir string, opts Options) string {
	name := helpers.ArchivePrefix + uuid.NewString() + CompressionFor(opts.Compressor, opts.CompressionLevel).Extension()
	return filepath.Join(dir, name)
}

// ValidateLevel checks that level is within 0..19.
func ValidateLevel(level int) error {
	if level < 0 || level > helpers.MaxCompressionLevel {
		return fmt.Errorf("%w: %d (expected 0..%d)", helpers.ErrInvalidCompressionLevel, level, helpers.MaxCompressionLevel)
	}
	return nil
}

// ValidateCompressor checks that name is a known compressor.
func ValidateCompressor(name string) error {
	switch name {
	case CompressorZstd, CompressorBuiltin, CompressorGzip:
		return nil
	default:
		return fmt.Errorf("%w: %q", helpers.ErrUnsupportedCompressor, name)
	}
}

// DetectCompression identifies the archive encoding from its leading bytes,
// falling back to the file name.
func DetectCompression(name string, header []byte) Compression {
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".tzst"):
		return CompressionZstd
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".tgz"):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// checkCompressor verifies the compressor can run on this host.
func checkCompressor(name string, lookPath func(string) (string, error)) error {
	if err := ValidateCompressor(name); err != nil {
		return err
	}
	if name != CompressorZstd {
		return nil
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(helpers.ZstdBinary); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", helpers.ErrCompressorUnavailable, helpers.ZstdBinary)
	}
	return nil
}

// compressStage returns the stage encoding a tar stream with compressor at level.
func compressStage(compressor string, level int) pipeline.Stage {
	switch compressor {
	case CompressorBuiltin:
		return &pipeline.Func{Label: "zstd (builtin) -" + strconv.Itoa(level), Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
			enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
			if err != nil {
				return err
			}
			if _, err := io.Copy(enc, in); err != nil {
				_ = enc.Close()
				return err
			}
			return enc.Close()
		}}
	case CompressorGzip:
		gzLevel := min(level, helpers.MaxGzipLevel)
		return &pipeline.Func{Label: "gzip -" + strconv.Itoa(gzLevel), Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
			gz, err := pgzip.NewWriterLevel(out, gzLevel)
			if err != nil {
				return err
			}
			if _, err := io.Copy(gz, in); err != nil {
				_ = gz.Close()
				return err
			}
			return gz.Close()
		}}
	default:
		return pipeline.NewCommand(helpers.ZstdBinary, "-T0", "-q", "-c", "-"+strconv.Itoa(level))
	}
}

// decompressStage returns the stage decoding c, or nil for plain tar.
func decompressStage(c Compression) pipeline.Stage {
	switch c {
	case CompressionZstd:
		return &pipeline.Func{Label: "zstd -d", Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
			dec, err := zstd.NewReader(in)
			if err != nil {
				return err
			}
			defer dec.Close()
			_, err = io.Copy(out, dec)
			return err
		}}
	case CompressionGzip:
		return &pipeline.Func{Label: "gzip -d", Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
			gz, err := pgzip.NewReader(in)
			if err != nil {
				return err
			}
			defer func() {
				_ = gz.Close()
			}()
			_, err = io.Copy(out, gz)
			return err
		}}
	default:
		return nil
	}
}
