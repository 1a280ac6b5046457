//go:build !linux || (linux && !amd64 && !arm64 && !386)

package probe

import "syscall"

// Mmsghdr is unused on the portable path; kept so callers can share the
// batched-sender call shape regardless of platform.
type Mmsghdr struct{}

// sendmmsg has no portable equivalent; sendBatch's own fallback loop takes
// over and sends one sendto(2) per packet instead of batching.
func sendmmsg(int, []Mmsghdr, int) (int, error) {
	return 0, syscall.ENOTSUP
}
