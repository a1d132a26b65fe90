package cache

import (
	"context"
	"time"
)

// ArchiveFile describes a fetched archive on local disk.
type ArchiveFile struct {
	Key     string
	Path    string
	Cleanup func()
	Meta    map[string]string
}

// Release removes the local copy when the backend handed out a scratch file.
func (f ArchiveFile) Release() {
	if f.Cleanup != nil {
		f.Cleanup()
	}
}

// Entry is a stored archive seen by List.
type Entry struct {
	Key     string
	ModTime time.Time
	Size    int64
}

// Backend is an immutable-write key/value store for archives.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	Open(ctx context.Context) error
	Close() error
	Has(ctx context.Context, key string) (bool, error)
	// Fetch returns the archive stored under key, or ErrCacheMiss.
	Fetch(ctx context.Context, key string) (ArchiveFile, error)
	// List returns the entries whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Commit stores the file at path under key. It fails with
	// ErrAlreadyExists when key was written before.
	Commit(ctx context.Context, key, path string, meta map[string]string) error
	Delete(ctx context.Context, key string) error
}
