package metrics

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStats represents disk usage statistics for one storage root
type DiskStats struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// RootUsage returns disk usage of the filesystem holding each path.
// Paths that cannot be inspected are reported with zero values.
func RootUsage(paths []string) []DiskStats {
	out := make([]DiskStats, 0, len(paths))
	for _, path := range paths {
		stats := DiskStats{Path: path}
		if diskInfo, err := disk.Usage(path); err == nil {
			stats.UsedPercent = diskInfo.UsedPercent
			stats.UsedBytes = diskInfo.Used
			stats.TotalBytes = diskInfo.Total
			stats.FreeBytes = diskInfo.Free
		}
		out = append(out, stats)
	}
	return out
}
