//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific process probes, backed by gopsutil.

package control

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"
)

// RegisterPlatformProbes sets Linux-specific debug probes: CPU count plus
// descriptor and thread counts of this process.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	dp.RegisterProbe("process.open_fds", func() any {
		n, err := proc.NumFDs()
		if err != nil {
			return err.Error()
		}
		return n
	})
	dp.RegisterProbe("process.threads", func() any {
		n, err := proc.NumThreads()
		if err != nil {
			return err.Error()
		}
		return n
	})
}
