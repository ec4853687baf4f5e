//go:build darwin

package memtrack

import "golang.org/x/sys/unix"

// maxRSS returns the peak resident set size in bytes. Darwin already reports bytes.
func maxRSS() (uint64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	return uint64(ru.Maxrss), nil
}
