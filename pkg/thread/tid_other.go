//go:build !linux

package thread

// osThreadID is unavailable off Linux; spawners fall back to ids from a
// single process-wide counter.
func osThreadID() (int64, bool) {
	return 0, false
}
