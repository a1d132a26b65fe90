package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"github.com/greeddj/dagger-cache/internal/dagger/output"
)

// Store resolves cache keys against a Backend.
type Store struct {
	backend Backend
	out     output.Printer
	now     func() time.Time
}

// New wraps backend.
func New(backend Backend, out output.Printer) *Store {
	if out == nil {
		out = output.Nop{}
	}
	return &Store{backend: backend, out: out, now: time.Now}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Open prepares the backend.
func (s *Store) Open(ctx context.Context) error {
	if err := s.backend.Open(ctx); err != nil {
		return remoteError("open "+s.backend.Name(), err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Fetch looks up primary first, then every restore key by prefix with the
// most recently written archive first. It returns the archive and the key it
// was stored under, or ErrCacheMiss.
func (s *Store) Fetch(ctx context.Context, primary string, restoreKeys []string) (ArchiveFile, string, error) {
	if strings.TrimSpace(primary) == "" {
		return ArchiveFile{}, "", helpers.ErrCacheKeyEmpty
	}
	file, ok, err := s.fetchExact(ctx, primary)
	if err != nil {
		return ArchiveFile{}, "", err
	}
	if ok {
		return file, primary, nil
	}

	for _, prefix := range restoreKeys {
		if strings.TrimSpace(prefix) == "" {
			continue
		}
		entries, err := s.backend.List(ctx, prefix)
		if err != nil {
			return ArchiveFile{}, "", remoteError("list "+prefix, err)
		}
		sortNewestFirst(entries)
		for _, entry := range entries {
			if entry.Key == primary {
				continue
			}
			file, ok, err := s.fetchExact(ctx, entry.Key)
			if err != nil {
				return ArchiveFile{}, "", err
			}
			if ok {
				return file, entry.Key, nil
			}
		}
	}
	return ArchiveFile{}, "", helpers.ErrCacheMiss
}

// Save uploads the archive at path under key. A key that is already stored
// is never overwritten and yields ErrAlreadyExists.
func (s *Store) Save(ctx context.Context, path, key string) error {
	if strings.TrimSpace(key) == "" {
		return helpers.ErrCacheKeyEmpty
	}
	exists, err := s.backend.Has(ctx, key)
	if err != nil {
		return remoteError("check "+key, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", helpers.ErrAlreadyExists, key)
	}
	sum, size, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hash archive %s: %w", path, err)
	}
	meta := map[string]string{
		helpers.StoreMetaSHA256: sum,
		"size":                  strconv.FormatInt(size, 10),
		"created":               s.now().UTC().Format(time.RFC3339),
	}
	start := time.Now()
	if err := s.backend.Commit(ctx, key, path, meta); err != nil {
		if errors.Is(err, helpers.ErrAlreadyExists) {
			return err
		}
		return remoteError("save "+key, err)
	}
	s.out.DebugSincef(start, "%s: saved %s (%s)", s.backend.Name(), key, helpers.HumanBytes(uint64(size)))
	return nil
}

// Delete removes key from the backend.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return remoteError("delete "+key, err)
	}
	return nil
}

// fetchExact fetches key and verifies its checksum. A corrupted archive is
// reported and treated as absent.
func (s *Store) fetchExact(ctx context.Context, key string) (ArchiveFile, bool, error) {
	file, err := s.backend.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, helpers.ErrCacheMiss) {
			return ArchiveFile{}, false, nil
		}
		return ArchiveFile{}, false, remoteError("fetch "+key, err)
	}
	if err := verifySHA(file); err != nil {
		file.Release()
		s.out.Warnf("⚠️ %s: ignore %s: %v", s.backend.Name(), key, err)
		return ArchiveFile{}, false, nil
	}
	file.Key = key
	return file, true, nil
}

func verifySHA(file ArchiveFile) error {
	expected := strings.TrimSpace(file.Meta[helpers.StoreMetaSHA256])
	if expected == "" {
		return nil
	}
	actual, _, err := hashFile(file.Path)
	if err != nil {
		return err
	}
	if strings.EqualFold(actual, expected) {
		return nil
	}
	return fmt.Errorf("%w: %s != %s", helpers.ErrSHA256Mismatch, actual, expected)
}

func hashFile(path string) (string, int64, error) {
	//nolint:gosec // path is an archive produced or fetched by this program.
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()
	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

func sortNewestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.Key, a.Key)
	})
}

func remoteError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", helpers.ErrRemoteStore, op, err)
}
