package helpers

import (
	"os"
	"path/filepath"
)

// defaultCacheDir places the local backend under the user cache directory,
// or under the system temp dir when the runner has no home.
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, cacheDirName)
	}
	return filepath.Join(os.TempDir(), cacheDirName)
}
