//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific platform metrics or debug probe integrations.

package control

import (
	"runtime"

	"github.com/momentics/hioload-relay/internal/limits"
)

// RegisterPlatformProbes sets Linux-specific debug metrics.
func RegisterPlatformProbes(dp *DebugProbes) {
	registerRuntimeProbes(dp)
	dp.RegisterProbe("platform.fds.open", func() any {
		n, err := limits.OpenFiles()
		if err != nil {
			return err.Error()
		}
		return n
	})
	dp.RegisterProbe("platform.fds.limit", func() any {
		soft, hard, err := limits.NoFile()
		if err != nil {
			return err.Error()
		}
		return map[string]uint64{"soft": soft, "hard": hard}
	})
}

func registerRuntimeProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
