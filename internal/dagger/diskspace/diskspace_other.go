//go:build !linux && !darwin && !freebsd

package diskspace

// AvailableBytes is unsupported on this platform and always reports unknown.
func AvailableBytes(_ string) uint64 {
	return 0
}
