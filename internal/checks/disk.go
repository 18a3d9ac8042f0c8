package checks

import (
	"github.com/shirou/gopsutil/v3/disk"

	errs "walvault/internal/errors"
)

const (
	warnUsedPercent = 80.0
	critUsedPercent = 95.0
)

// DiskSpace is a point-in-time reading of the filesystem holding path.
type DiskSpace struct {
	Path           string  `json:"path"`
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	Warning        bool    `json:"warning"`
	Critical       bool    `json:"critical"`
}

// CheckDiskSpace reads usage for the filesystem holding path. The
// path must exist; callers create the directory first.
func CheckDiskSpace(path string) (*DiskSpace, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}
	return &DiskSpace{
		Path:           path,
		TotalBytes:     usage.Total,
		AvailableBytes: usage.Free,
		UsedPercent:    usage.UsedPercent,
		Warning:        usage.UsedPercent >= warnUsedPercent,
		Critical:       usage.UsedPercent >= critUsedPercent,
	}, nil
}

// EnsureCapacity fails early when the filesystem cannot hold required
// more bytes. A snapshot that dies at 97% leaves more mess than this.
func EnsureCapacity(path string, required uint64) error {
	ds, err := CheckDiskSpace(path)
	if err != nil {
		return err
	}
	if ds.AvailableBytes < required {
		return errs.DiskFull(path, required, ds.AvailableBytes)
	}
	return nil
}
