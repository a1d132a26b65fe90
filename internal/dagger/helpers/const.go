package helpers

import "time"

const (
	// DirMod is the default permission for created directories.
	DirMod = 0o755
	// FileMod is the default permission for created files.
	FileMod = 0o644

	// KeyPrefix is the schema version token that starts every derived cache key.
	KeyPrefix = "dagger-v1"
	// KeySeparator joins the parts of a derived cache key.
	KeySeparator = "-"

	// EngineName is the well-known container name of the managed engine.
	EngineName = "dagger-engine"
	// EngineVolume is the default name of the engine state volume.
	EngineVolume = "dagger-engine-state"
	// EngineImage is the engine image repository; the tag is the resolved version.
	EngineImage = "registry.dagger.io/engine"
	// EngineStateDir is where the engine keeps its state inside the container.
	EngineStateDir = "/var/lib/dagger"
	// EngineAddressScheme prefixes the engine container name in the runner address.
	EngineAddressScheme = "docker-container://"
	// EngineRunnerHostEnv is the variable the dagger CLI reads to reuse a running engine.
	EngineRunnerHostEnv = "_EXPERIMENTAL_DAGGER_RUNNER_HOST"
	// EngineManagedLabel marks containers started by this tool.
	EngineManagedLabel = "io.dagger.cache.managed"
	// HelperLabel marks the throwaway tar containers so cleanup can find them.
	HelperLabel = "io.dagger.cache.helper"
	// DockerSocket is the host container runtime socket exposed to the engine.
	DockerSocket = "/var/run/docker.sock"

	// HelperImage runs tar against the volume during backup and restore.
	HelperImage = "alpine:3.20"
	// HelperMountPath is where the volume is mounted inside the helper container.
	HelperMountPath = "/volume"
	// DockerBinary is the container runtime CLI used for archive streaming.
	DockerBinary = "docker"
	// ZstdBinary is the external compressor looked up on PATH.
	ZstdBinary = "zstd"

	// MaxCompressionLevel is the highest zstd level accepted without --ultra.
	MaxCompressionLevel = 19
	// MaxGzipLevel caps levels passed to the gzip compressor.
	MaxGzipLevel = 9

	// MinFreeBytes is the free space required before a volume export is attempted.
	MinFreeBytes = uint64(3 << 30) // 3 GiB

	// ArchivePrefix starts the name of every scratch archive.
	ArchivePrefix = "dagger-cache-"
	// StderrTailBytes caps the stderr kept from a failed pipeline stage.
	StderrTailBytes = 4 << 10

	// StateDBFile is the job state database filename.
	StateDBFile = "dagger-cache-state.db"
	// StateBucket is the bbolt bucket holding the job state.
	StateBucket = "state"
	// StateRecord is the key of the job state record.
	StateRecord = "job"
	// StateOpenTimeout bounds waiting for the state database file lock.
	StateOpenTimeout = 5 * time.Second

	// StoreLockFile is the lock file guarding writes to a local cache directory.
	StoreLockFile = ".dagger-cache.lock"
	// StoreLockRetry is the retry delay while waiting for the local store lock.
	StoreLockRetry = 250 * time.Millisecond
	// StoreMetaSuffix marks metadata sidecar files in the local store.
	StoreMetaSuffix = ".meta.json"
	// StoreTempPrefix marks partially written files in the local store.
	StoreTempPrefix = ".tmp-"
	// StoreMetaSHA256 is the metadata key carrying the archive checksum.
	StoreMetaSHA256 = "sha256"

	// FetchResponseHeaderTimeout bounds the wait for a remote store response.
	FetchResponseHeaderTimeout = 5 * time.Minute
	// FetchDialContextTimeout is the dial timeout for outbound connections.
	FetchDialContextTimeout = 10 * time.Second
	// FetchDialContextKeepAlive is the TCP keep-alive for dials.
	FetchDialContextKeepAlive = 30 * time.Second
	// FetchForceAttemptHTTP2 enables HTTP/2 attempts when possible.
	FetchForceAttemptHTTP2 = true
	// FetchMaxIdleConns is the maximum number of idle connections.
	FetchMaxIdleConns = 100
	// FetchMaxIdleConnsPerHost limits idle connections per host.
	FetchMaxIdleConnsPerHost = 10
	// FetchIdleConnTimeout is the idle connection timeout.
	FetchIdleConnTimeout = 30 * time.Second
	// FetchTLSHandshakeTimeout is the TLS handshake timeout.
	FetchTLSHandshakeTimeout = 10 * time.Second
	// FetchExpectContinueTimeout is the expect-continue timeout.
	FetchExpectContinueTimeout = 1 * time.Second

	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace = "dagger_cache"
	// MetricsRelativeAccuracy is the quantile accuracy of step latency sketches.
	MetricsRelativeAccuracy = 0.01
)
