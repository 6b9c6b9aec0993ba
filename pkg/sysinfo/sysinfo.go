// Package sysinfo probes the host for the system details recorded with
// every benchmark result. All probes are best effort: a failed probe
// logs a warning and leaves its fields at their defaults, it never
// fails the benchmark.
package sysinfo

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"spindle/internal/logger"
	"spindle/pkg/model"
)

// Collect gathers system info for the host and the device backing
// targetDir.
func Collect(targetDir string, lg *logger.Logger) model.SystemInfo {
	lg = logger.Default(lg)

	si := model.SystemInfo{
		OS:  fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH),
		CPU: "Unknown CPU",
		StorageInfo: model.StorageInfo{
			Device:     "Unknown",
			Filesystem: "Unknown",
		},
	}

	if hi, err := host.Info(); err != nil {
		lg.Warn("Failed to probe host info: %v", err)
	} else if hi.Platform != "" {
		si.OS = fmt.Sprintf("%s %s (%s)", hi.Platform, hi.PlatformVersion, hi.KernelArch)
	}

	if infos, err := cpu.Info(); err != nil {
		lg.Warn("Failed to probe CPU info: %v", err)
	} else {
		for _, info := range infos {
			if info.ModelName != "" {
				si.CPU = info.ModelName
				break
			}
		}
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		lg.Warn("Failed to probe memory info: %v", err)
	} else {
		si.MemoryTotal = vm.Total
		si.MemoryAvailable = vm.Available
	}

	si.StorageInfo = collectStorage(targetDir, si.StorageInfo, lg)
	return si
}

func collectStorage(targetDir string, base model.StorageInfo, lg *logger.Logger) model.StorageInfo {
	dir, err := filepath.Abs(targetDir)
	if err != nil {
		dir = filepath.Clean(targetDir)
	}

	if usage, err := disk.Usage(dir); err != nil {
		lg.Warn("Failed to probe disk usage for %s: %v", dir, err)
	} else {
		base.TotalSpace = usage.Total
		base.AvailableSpace = usage.Free
	}

	parts, err := disk.Partitions(false)
	if err != nil {
		lg.Warn("Failed to list partitions: %v", err)
		return base
	}
	if p, ok := mountForDir(dir, parts); ok {
		base.Device = p.Device
		base.Filesystem = p.Fstype
		base.Device = describeDevice(base.Device, lg)
	}
	return base
}

// mountForDir picks the partition with the longest mount point that
// contains dir.
func mountForDir(dir string, parts []disk.PartitionStat) (disk.PartitionStat, bool) {
	var best disk.PartitionStat
	bestLen := -1
	for _, p := range parts {
		mount := filepath.Clean(p.Mountpoint)
		if !containsPath(mount, dir) {
			continue
		}
		if len(mount) > bestLen {
			best = p
			bestLen = len(mount)
		}
	}
	return best, bestLen >= 0
}

func containsPath(mount, dir string) bool {
	if mount == dir {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(mount, sep) {
		mount += sep
	}
	return strings.HasPrefix(dir+sep, mount)
}

// describeDevice appends the hardware model to a device path when the
// block layer knows it.
func describeDevice(device string, lg *logger.Logger) string {
	block, err := ghw.Block()
	if err != nil {
		lg.Warn("Failed to probe block devices: %v", err)
		return device
	}
	for _, d := range block.Disks {
		if d.Name == "" || !strings.Contains(device, d.Name) {
			continue
		}
		if d.Model != "" && !strings.EqualFold(d.Model, "unknown") {
			return fmt.Sprintf("%s (%s)", device, d.Model)
		}
		break
	}
	return device
}

// Mount describes one mounted filesystem as a benchmark target
// candidate.
type Mount struct {
	Mountpoint string `json:"mountpoint"`
	Device     string `json:"device"`
	Filesystem string `json:"filesystem"`
	TotalSpace uint64 `json:"total_space"`
	FreeSpace  uint64 `json:"free_space"`
}

// ListMounts enumerates mounted filesystems that could hold benchmark
// files. Pseudo filesystems reporting zero capacity are dropped.
func ListMounts() ([]Mount, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	mounts := make([]Mount, 0, len(parts))
	for _, p := range parts {
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		mounts = append(mounts, Mount{
			Mountpoint: p.Mountpoint,
			Device:     p.Device,
			Filesystem: p.Fstype,
			TotalSpace: usage.Total,
			FreeSpace:  usage.Free,
		})
	}
	return mounts, nil
}

// Disk describes one physical block device.
type Disk struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	SizeBytes  uint64 `json:"size_bytes"`
	DriveType  string `json:"drive_type"`
	Controller string `json:"controller"`
}

// ListDisks enumerates the host's physical block devices.
func ListDisks() ([]Disk, error) {
	block, err := ghw.Block()
	if err != nil {
		return nil, fmt.Errorf("probe block devices: %w", err)
	}

	disks := make([]Disk, 0, len(block.Disks))
	for _, d := range block.Disks {
		disks = append(disks, Disk{
			Name:       d.Name,
			Model:      d.Model,
			SizeBytes:  d.SizeBytes,
			DriveType:  d.DriveType.String(),
			Controller: d.StorageController.String(),
		})
	}
	return disks, nil
}
