package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const megabyte = 1024 * 1024

// SystemInfo describes the machine the process runs on. It is logged at
// gateway startup, attached to telemetry and reported by the loopback
// host's status command.
type SystemInfo struct {
	Hostname     string        `json:"hostname"`
	Platform     string        `json:"platform"`
	OS           string        `json:"os"`
	Architecture string        `json:"architecture"`
	CPUModel     string        `json:"cpu_model,omitempty"`
	CPUCores     int           `json:"cpu_cores"`
	TotalMemory  uint64        `json:"total_memory_mb"`
	Uptime       time.Duration `json:"uptime"`
}

// GetSystemInfo gathers what gopsutil can read; the rest stays empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     runtime.GOOS,
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}

	if hi, err := host.Info(); err == nil {
		if hi.Platform != "" {
			info.OS = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
		}
		info.Uptime = time.Duration(hi.Uptime) * time.Second
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total / megabyte
	}

	return info
}

// MemoryUsage is a snapshot of system memory in megabytes.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

func (m MemoryUsage) String() string {
	return fmt.Sprintf("%d/%d MB (%.1f%%)", m.Used, m.Total, m.UsedPercent)
}

// GetMemoryUsage reads current memory usage.
func GetMemoryUsage() (MemoryUsage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryUsage{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	return MemoryUsage{
		Total:       vm.Total / megabyte,
		Used:        vm.Used / megabyte,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates path and its parents. Empty and "." are no-ops.
func EnsureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}
