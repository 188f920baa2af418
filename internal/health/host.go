package health

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostReport summarizes the machine for the doctor command and the session
// start log line.
type HostReport struct {
	Hostname     string  `json:"hostname"`
	OSType       string  `json:"osType"`
	OSVersion    string  `json:"osVersion"`
	Architecture string  `json:"architecture"`
	CPUModel     string  `json:"cpuModel,omitempty"`
	CPUThreads   int     `json:"cpuThreads"`
	RAMTotalMB   uint64  `json:"ramTotalMb"`
	RAMUsedPct   float64 `json:"ramUsedPct"`
	ProcessRSSMB uint64  `json:"processRssMb"`
}

// CollectHost gathers what it can; individual probe failures leave fields zero.
func CollectHost() *HostReport {
	r := &HostReport{Architecture: runtime.GOARCH}

	if info, err := host.Info(); err == nil {
		r.Hostname = info.Hostname
		r.OSType = normalizeOSType(info.OS)
		r.OSVersion = info.Platform + " " + info.PlatformVersion
	} else {
		r.OSType = normalizeOSType(runtime.GOOS)
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		r.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.Counts(true); err == nil {
		r.CPUThreads = n
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		r.RAMTotalMB = vmem.Total / 1024 / 1024
		r.RAMUsedPct = vmem.UsedPercent
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			r.ProcessRSSMB = mi.RSS / 1024 / 1024
		}
	}

	return r
}

func normalizeOSType(os string) string {
	if os == "darwin" {
		return "macos"
	}
	return os
}
