package diskspace

// Sufficient reports whether avail bytes clear the minimum.
// Zero means the probe failed and is treated as insufficient.
func Sufficient(avail, minFree uint64) bool {
	if avail == 0 {
		return false
	}
	return avail >= minFree
}
