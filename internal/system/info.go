// Package system reports on the board the daemon runs on and restarts it.
package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const boardModelPath = "/sys/firmware/devicetree/base/model"

var processStart = time.Now()

// Info is served by GET /system/info.
type Info struct {
	Board   BoardInfo   `json:"board"`
	Memory  MemoryInfo  `json:"memory"`
	Storage StorageInfo `json:"storage"`
	Daemon  DaemonInfo  `json:"daemon"`
}

type BoardInfo struct {
	Hostname     string    `json:"hostname"`
	Model        string    `json:"model,omitempty"`
	OS           string    `json:"os"`
	Kernel       string    `json:"kernel"`
	Architecture string    `json:"architecture"`
	CPUModel     string    `json:"cpu_model"`
	CPUCores     int       `json:"cpu_cores"`
	BootTime     time.Time `json:"boot_time"`
	Uptime       string    `json:"uptime"`
	Load1        float64   `json:"load_1"`
	// Celsius, hottest sensor; 0 when the board has none.
	Temperature float64 `json:"temperature"`
}

type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// StorageInfo covers the filesystem holding the settings database and
// the staged firmware.
type StorageInfo struct {
	Path  string `json:"path"`
	Free  uint64 `json:"free"`
	Total uint64 `json:"total"`
}

type DaemonInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

// GetInfo collects board information. Every source is optional; one that
// fails leaves its fields zero.
func GetInfo(ctx context.Context, dataDir string) *Info {
	info := &Info{
		Board: BoardInfo{
			Architecture: runtime.GOARCH,
			CPUCores:     runtime.NumCPU(),
			Model:        boardModel(),
		},
		Daemon: DaemonInfo{
			Uptime:    formatUptime(time.Since(processStart)),
			GoVersion: runtime.Version(),
		},
	}
	info.Board.Hostname, _ = os.Hostname()

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Board.OS = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
		info.Board.Kernel = h.KernelVersion
		info.Board.BootTime = time.Unix(int64(h.BootTime), 0)
		info.Board.Uptime = formatUptime(time.Duration(h.Uptime) * time.Second)
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.Board.CPUModel = cpus[0].ModelName
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Board.Load1 = avg.Load1
	}
	// Partial sensor lists come back with a warning error.
	if temps, _ := host.SensorsTemperaturesWithContext(ctx); len(temps) > 0 {
		info.Board.Temperature = hottest(temps)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Memory = MemoryInfo{Total: vm.Total, Used: vm.Used, UsedPercent: vm.UsedPercent}
	}

	if dataDir != "" {
		path := existingParent(dataDir)
		if usage, err := disk.UsageWithContext(ctx, path); err == nil {
			info.Storage = StorageInfo{Path: path, Free: usage.Free, Total: usage.Total}
		}
	}
	return info
}

// formatUptime renders d as "2d 5h 30m 15s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		size int64
		unit string
	}{{86400, "d"}, {3600, "h"}, {60, "m"}}

	var b strings.Builder
	for _, u := range units {
		if n := secs / u.size; n > 0 || b.Len() > 0 {
			fmt.Fprintf(&b, "%d%s ", n, u.unit)
		}
		secs %= u.size
	}
	fmt.Fprintf(&b, "%ds", secs)
	return b.String()
}

func hottest(temps []host.TemperatureStat) float64 {
	var max float64
	for _, t := range temps {
		if t.Temperature > max {
			max = t.Temperature
		}
	}
	return max
}

func boardModel() string {
	data, err := os.ReadFile(boardModelPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(string(data), "\x00"))
}

// existingParent walks up from path to the first directory that exists.
func existingParent(path string) string {
	path = filepath.Clean(path)
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
