//go:build linux
// +build linux

// File: internal/limits/limits_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor limits. Every relayed connection holds two sockets, so the
// soft RLIMIT_NOFILE is usually the first ceiling a busy relay hits.

package limits

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NoFile returns the soft and hard RLIMIT_NOFILE.
func NoFile() (soft, hard uint64, err error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, 0, fmt.Errorf("getrlimit: %w", err)
	}
	return rl.Cur, rl.Max, nil
}

// RaiseNoFile lifts the soft limit to want, capped by the hard limit, and
// returns the resulting soft limit. want <= 0 means the hard limit.
func RaiseNoFile(want int) (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("getrlimit: %w", err)
	}
	target := rl.Max
	if want > 0 && uint64(want) < target {
		target = uint64(want)
	}
	if target <= rl.Cur {
		return rl.Cur, nil
	}
	rl.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("setrlimit %d: %w", target, err)
	}
	return target, nil
}

// OpenFiles counts descriptors of the current process.
func OpenFiles() (int, error) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
