package helpers

import "time"

const (
	cacheDirName        = "dagger-cache"
	defaultHTTPTimeout  = 5 * time.Minute
	defaultCompressor   = "zstd"
	defaultMinFreeSpace = "3GiB"
	defaultRestoreLevel = 0
	defaultPersistLevel = -1
	defaultEngineName   = "dagger-engine"
	defaultEngineVolume = "dagger-engine-state"
	defaultEngineImage  = "registry.dagger.io/engine"
	defaultHelperImage  = "alpine:3.20"
	defaultDockerSocket = "/var/run/docker.sock"
)
