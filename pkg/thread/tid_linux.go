//go:build linux

package thread

import "golang.org/x/sys/unix"

// osThreadID returns the kernel thread id of the calling OS thread. The
// caller must be locked to its OS thread for the answer to stay true.
func osThreadID() (int64, bool) {
	return int64(unix.Gettid()), true
}
