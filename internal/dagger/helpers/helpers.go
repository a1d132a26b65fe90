package helpers

import (
	"errors"
	"os"
	"strings"

	"github.com/docker/go-units"
)

// HumanBytes formats a byte count with binary units.
func HumanBytes(n uint64) string {
	return units.BytesSize(float64(n))
}

// ParseBytes parses a size such as "3GiB" or "500m" using binary units.
func ParseBytes(s string) (uint64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative size: " + s)
	}
	return uint64(n), nil
}

// RemoveFile deletes path, treating a missing file as success.
func RemoveFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
