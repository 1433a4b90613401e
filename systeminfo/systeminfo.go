package systeminfo

import (
	"runtime"

	"filewarden/logger"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemInfo is the host snapshot written at the head of every report so a
// scan result can be tied to the machine that produced it.
type SystemInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
	CPUCount        int    `json:"cpu_count"`
	TotalMemory     uint64 `json:"total_memory"`
	AvailableMemory uint64 `json:"available_memory"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
}

// Collect gathers host details best-effort; a failed probe leaves its fields
// at zero values.
func Collect() *SystemInfo {
	info := &SystemInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCount: runtime.NumCPU(),
	}

	if hostInfo, err := host.Info(); err != nil {
		logger.Warnf("Failed to gather host info: %v", err)
	} else {
		info.Hostname = hostInfo.Hostname
		info.Platform = hostInfo.Platform
		info.PlatformVersion = hostInfo.PlatformVersion
		info.KernelVersion = hostInfo.KernelVersion
		info.UptimeSeconds = hostInfo.Uptime
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		logger.Warnf("Failed to gather memory info: %v", err)
	} else {
		info.TotalMemory = vm.Total
		info.AvailableMemory = vm.Available
	}

	return info
}
