package helpers

import "errors"

var (
	// ErrVolumeNotFound indicates the engine state volume does not exist.
	ErrVolumeNotFound = errors.New("volume not found")
	// ErrCompressorUnavailable indicates the requested compressor cannot run on this host.
	ErrCompressorUnavailable = errors.New("compressor unavailable")
	// ErrRemoteStore indicates a remote cache transport failure.
	ErrRemoteStore = errors.New("remote cache store error")
	// ErrTimeout indicates an operation exceeded its time budget.
	ErrTimeout = errors.New("operation timed out")
	// ErrCancelled indicates an operation was interrupted.
	ErrCancelled = errors.New("operation cancelled")
	// ErrProcessNotFound indicates the engine container is absent when expected.
	ErrProcessNotFound = errors.New("engine process not found")

	// ErrCacheMiss indicates no archive matched the primary or restore keys.
	ErrCacheMiss = errors.New("cache miss")
	// ErrAlreadyExists indicates the key was already saved; the store is immutable-write.
	ErrAlreadyExists = errors.New("cache key already exists")
	// ErrCacheKeyEmpty indicates an empty cache key was provided.
	ErrCacheKeyEmpty = errors.New("cache key is empty")
	// ErrSHA256Mismatch indicates a downloaded archive does not match its recorded checksum.
	ErrSHA256Mismatch = errors.New("sha256 mismatch")

	// ErrInvalidCompressionLevel indicates a compression level outside 0..19.
	ErrInvalidCompressionLevel = errors.New("invalid compression level")
	// ErrUnsupportedCompressor indicates an unknown compressor name.
	ErrUnsupportedCompressor = errors.New("unsupported compressor")
	// ErrUnsupportedCompression indicates an archive in an unknown compression format.
	ErrUnsupportedCompression = errors.New("unsupported archive compression")
	// ErrEmptyPipeline indicates a pipeline was run without stages.
	ErrEmptyPipeline = errors.New("pipeline has no stages")
	// ErrEmptyCommand indicates a command stage without arguments.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrVersionEmpty indicates no engine version was resolved.
	ErrVersionEmpty = errors.New("engine version is empty")
	// ErrInvalidTransition indicates a lifecycle step was called out of order.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrDockerClientNil indicates the docker API client is missing.
	ErrDockerClientNil = errors.New("docker client is nil")

	// ErrConfigIsNil indicates a nil config was provided.
	ErrConfigIsNil = errors.New("config is nil")
	// ErrInvalidTimeout indicates a negative persist timeout or a too short http timeout.
	ErrInvalidTimeout = errors.New("invalid timeout")
	// ErrUnsupportedConfigFormat indicates a config file with an unknown extension.
	ErrUnsupportedConfigFormat = errors.New("unsupported config file format")
	// ErrS3EmptyCreds indicates only one half of a static S3 key pair was provided.
	ErrS3EmptyCreds = errors.New("s3 cache requires both access and secret keys when either is set")
	// ErrCacheDirEmpty indicates the cache directory is empty.
	ErrCacheDirEmpty = errors.New("cache directory is empty")
	// ErrStoreLocked indicates another writer holds the local store lock.
	ErrStoreLocked = errors.New("cache directory is locked by another process")
	// ErrStateDirEmpty indicates the state directory is empty.
	ErrStateDirEmpty = errors.New("state directory is empty")
	// ErrUnsupportedSchemaVersion indicates job state written by a newer release.
	ErrUnsupportedSchemaVersion = errors.New("unsupported job state schema version")
)
